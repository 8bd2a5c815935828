// Copyright 2024 The hwcnt Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hwcnt

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"

	"github.com/pkg/errors"
)

// Destination receives delivered counter snapshots on behalf of an
// external consumer. A Copy error means the destination memory was
// invalid or inaccessible; the engine maps it to ErrCopyFault.
type Destination interface {
	Copy(snapshot []byte) error
}

// SliceDestination delivers snapshots into a caller-owned byte slice.
type SliceDestination struct {
	Buf []byte
}

func (d *SliceDestination) Copy(snapshot []byte) error {
	if len(d.Buf) < len(snapshot) {
		return fmt.Errorf("destination holds %d bytes, snapshot needs %d", len(d.Buf), len(snapshot))
	}
	copy(d.Buf, snapshot)
	return nil
}

// Client is one logical consumer of the shared counter block. A client
// only ever observes the counters its own masks request, regardless of
// what the other clients have programmed into the hardware.
//
// All fields are guarded by the owning Context's lock.
type Client struct {
	// kernel marks an in-process consumer: delivery is a direct copy
	// into a private snapshot buffer and cannot fault.
	kernel bool

	// dest is the external consumer's destination. nil for kernel
	// clients.
	dest Destination

	// snapshot receives delivered dumps for kernel clients.
	snapshot []byte

	// size is the dump buffer size at attach time, in bytes.
	size int

	masks bitmap.Bitmap

	// accum is the private accumulation buffer. Counter values pile up
	// here, saturating, until the client reads them out.
	accum []byte

	// pending is set while the client's requested counters are not yet
	// guaranteed live in the hardware program. Pending clients are
	// skipped during accumulation.
	pending bool
}

// Masks returns the client's requested per-category enable masks.
func (c *Client) Masks() bitmap.Bitmap {
	return c.masks
}

// Snapshot returns the kernel client's delivery buffer holding the most
// recently dumped counters. External clients have no snapshot.
func (c *Client) Snapshot() []byte {
	return c.snapshot
}

// deliver copies the full accumulation buffer to the client's
// destination.
func (c *Client) deliver() error {
	if c.kernel {
		copy(c.snapshot, c.accum)
		return nil
	}
	if err := c.dest.Copy(c.accum); err != nil {
		return errors.Wrapf(ErrCopyFault, "deliver %d bytes: %v", c.size, err)
	}
	return nil
}

// patchHeaders copies each block header from the shared dump buffer into
// the accumulation buffer and applies the client's mask to the header's
// enable field. The hardware captured the union of every client's
// request; the patched enable field is what scopes this client's view
// down to its own.
func (c *Client) patchHeaders(src []byte, blocks []geometry.Block) {
	for _, b := range blocks {
		copy(c.accum[b.Offset:b.Offset+geometry.HeaderSize], src[b.Offset:b.Offset+geometry.HeaderSize])
		field := c.accum[b.Offset+geometry.EnableMaskOffset:]
		raw := binary.LittleEndian.Uint32(field)
		binary.LittleEndian.PutUint32(field, c.masks.Filter(b.Category, raw))
	}
}

// accumulate adds the shared dump buffer's counter values into the
// accumulation buffer, block by block, skipping header bytes. Additions
// saturate at the maximum 32-bit value instead of wrapping.
func (c *Client) accumulate(src []byte) {
	for base := 0; base+geometry.BlockSize <= c.size; base += geometry.BlockSize {
		for off := base + geometry.HeaderSize; off < base+geometry.BlockSize; off += geometry.BytesPerCounter {
			sum := binary.LittleEndian.Uint32(c.accum[off:])
			value := binary.LittleEndian.Uint32(src[off:])
			if math.MaxUint32-sum < value {
				sum = math.MaxUint32
			} else {
				sum += value
			}
			binary.LittleEndian.PutUint32(c.accum[off:], sum)
		}
	}
}

func (c *Client) resetAccum() {
	for i := range c.accum {
		c.accum[i] = 0
	}
}
