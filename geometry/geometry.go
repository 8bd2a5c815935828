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

// Package geometry computes the layout of the hardware counter dump
// buffer for a given chip generation and topology.
package geometry

import "github.com/gpumux/hwcnt/bitmap"

const (
	// CountersPerBlock is the number of 32-bit counters in one block,
	// header words included.
	CountersPerBlock = 64

	// BytesPerCounter is the width of a single counter value.
	BytesPerCounter = 4

	// BlockSize is the byte size of one counter block.
	BlockSize = CountersPerBlock * BytesPerCounter

	// HeaderSize is the byte size of the header at the start of every
	// block. The hardware writes block metadata here; counter values
	// start right after.
	HeaderSize = 16

	// EnableMaskOffset is the byte offset within a block header of the
	// 32-bit enable mask the hardware reports for that block.
	EnableMaskOffset = 8

	// BlocksPerGroup is the number of blocks in one legacy core group.
	BlocksPerGroup = 8
)

// Legacy per-group block slots. Slot 6 is reserved by the hardware: it is
// dumped and summed like any other block but carries no category, so its
// header is never copied into client views.
const (
	legacyShader0Slot = 0
	legacyShader1Slot = 1
	legacyShader2Slot = 2
	legacyShader3Slot = 3
	legacyTilerSlot   = 4
	legacyMemorySlot  = 5
	legacyJobSlot     = 7
)

// Layout selects one of the two incompatible dump buffer layouts.
type Layout int

const (
	// Legacy is the core-group based layout: repeating groups of eight
	// fixed-purpose blocks.
	Legacy Layout = iota

	// Current is the flat layout: job manager, tiler, then one block per
	// memory unit slice, then one block per shader core.
	Current
)

func (l Layout) String() string {
	if l == Legacy {
		return "legacy"
	}
	return "current"
}

// Topology is the device counter topology the layout depends on. It does
// not change at runtime.
type Topology struct {
	CoreGroups       int
	MemoryUnitSlices int
	ShaderCores      int
}

// Block is one categorized counter block within the dump buffer.
type Block struct {
	// Offset is the byte offset of the block from the start of the dump
	// buffer.
	Offset int

	// Category is the counter category the block belongs to.
	Category bitmap.Category
}

// DumpSize returns the exact byte size of the hardware dump buffer for
// the given layout and topology. Offsets computed by Blocks are only
// valid against a buffer of exactly this size.
func DumpSize(layout Layout, topo Topology) int {
	if layout == Legacy {
		return topo.CoreGroups * BlocksPerGroup * BlockSize
	}
	// Job manager and tiler blocks are always present.
	return (2 + topo.MemoryUnitSlices + topo.ShaderCores) * BlockSize
}

// Blocks returns the categorized blocks of the dump buffer in buffer
// order. Reserved legacy slots are omitted: they hold no client-visible
// category.
func Blocks(layout Layout, topo Topology) []Block {
	if layout == Legacy {
		return legacyBlocks(topo)
	}
	return currentBlocks(topo)
}

func legacyBlocks(topo Topology) []Block {
	blocks := make([]Block, 0, topo.CoreGroups*(BlocksPerGroup-1))
	for group := 0; group < topo.CoreGroups; group++ {
		base := group * BlocksPerGroup * BlockSize
		blocks = append(blocks,
			Block{base + legacyShader0Slot*BlockSize, bitmap.ShaderCore},
			Block{base + legacyShader1Slot*BlockSize, bitmap.ShaderCore},
			Block{base + legacyShader2Slot*BlockSize, bitmap.ShaderCore},
			Block{base + legacyShader3Slot*BlockSize, bitmap.ShaderCore},
			Block{base + legacyTilerSlot*BlockSize, bitmap.Tiler},
			Block{base + legacyMemorySlot*BlockSize, bitmap.MemoryUnit},
			Block{base + legacyJobSlot*BlockSize, bitmap.JobManager},
		)
	}
	return blocks
}

func currentBlocks(topo Topology) []Block {
	blocks := make([]Block, 0, 2+topo.MemoryUnitSlices+topo.ShaderCores)
	offset := 0
	next := func(cat bitmap.Category) {
		blocks = append(blocks, Block{offset, cat})
		offset += BlockSize
	}

	next(bitmap.JobManager)
	next(bitmap.Tiler)
	for i := 0; i < topo.MemoryUnitSlices; i++ {
		next(bitmap.MemoryUnit)
	}
	for i := 0; i < topo.ShaderCores; i++ {
		next(bitmap.ShaderCore)
	}
	return blocks
}
