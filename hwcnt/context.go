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

// Package hwcnt multiplexes a single destructive-read hardware counter
// block across independent clients, each with its own enable masks and
// its own monotonically accumulating view of the counters.
package hwcnt

import (
	"sync"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hardware"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config carries capability and platform flags for a Context.
type Config struct {
	// PlatformBypass enables the platform-specific single-client fast
	// path: when exactly one client is attached, Dump returns as soon
	// as the hardware dump completes, skipping accumulation, delivery
	// and reprogramming. The pending and reprogram state is left
	// untouched on that path. This mirrors the vendor behavior it was
	// lifted from; the generic path is the default.
	PlatformBypass bool
}

// Context multiplexes the device's counter block. One long-lived Context
// exists per device; the hardware-backed state underneath it lives only
// while at least one client is attached.
type Context struct {
	oracle   hardware.Oracle
	memory   hardware.MemoryProvider
	contexts hardware.ContextProvider
	topology hardware.Topology
	config   Config

	// lock protects everything below, including the hardware itself for
	// the full duration of a dump.
	lock sync.Mutex

	// handle is the live device context, nil while no client is
	// attached.
	handle hardware.ContextHandle

	// region is the shared dump buffer the hardware writes into.
	region *hardware.Region

	// dumpSize is the byte size of region, fixed by layout and
	// topology.
	dumpSize int

	// blocks is the categorized block walk of region.
	blocks []geometry.Block

	// masks is the superset of every attached client's masks; this is
	// what is actually programmed into hardware. Not always in sync
	// with the hardware until the next reprogram.
	masks bitmap.Bitmap

	// reprogram is set whenever masks may have diverged from the
	// hardware program.
	reprogram bool

	// clients holds the attached clients in attach order.
	clients []*Client
}

// NewContext returns a Context over the given hardware collaborators.
// No hardware state is touched until the first client attaches.
func NewContext(oracle hardware.Oracle, memory hardware.MemoryProvider, contexts hardware.ContextProvider, topology hardware.Topology, config Config) *Context {
	return &Context{
		oracle:   oracle,
		memory:   memory,
		contexts: contexts,
		topology: topology,
		config:   config,
	}
}

// Attach registers a new client requesting the given per-category
// counter masks. Kernel clients receive dumps into an in-process
// snapshot buffer; external clients must supply a destination.
//
// The first client materializes the hardware-backed context and defines
// its initial program. Any later client starts out pending until the
// next reprogram covers its mask.
func (ctx *Context) Attach(kernel bool, dest Destination, masks bitmap.Bitmap) (*Client, error) {
	if !kernel && dest == nil {
		return nil, errors.Wrap(ErrInvalidClient, "external client without destination")
	}

	cli := &Client{
		kernel:  kernel,
		dest:    dest,
		pending: true,
		masks:   masks,
	}

	ctx.lock.Lock()
	defer ctx.lock.Unlock()

	prevMasks, prevReprogram := ctx.masks, ctx.reprogram

	ctx.masks.Union(masks)
	ctx.reprogram = true

	// The first client creates the hardware-backed context, which then
	// stays resident until the last client detaches. Its mask is the
	// whole program, so there is nothing further to reprogram and the
	// client is live immediately.
	if len(ctx.clients) == 0 {
		ctx.masks = masks
		if err := ctx.materialize(); err != nil {
			ctx.masks, ctx.reprogram = prevMasks, prevReprogram
			return nil, err
		}
		ctx.reprogram = false
		cli.pending = false
	}

	// The hardware resets the counter block on every dump, so each
	// client carries a private buffer the dumps accumulate into.
	cli.size = ctx.dumpSize
	cli.accum = make([]byte, cli.size)
	if kernel {
		cli.snapshot = make([]byte, cli.size)
	}

	ctx.clients = append(ctx.clients, cli)
	klog.V(2).Infof("Attached hwcnt client (kernel=%t, masks=%v), %d now attached", kernel, masks, len(ctx.clients))
	return cli, nil
}

// Detach removes a client and frees its buffers. Detaching the last
// client tears down the hardware-backed context. The superset mask is
// rebuilt from the remaining clients: the departing client may have been
// the only holder of some category bits.
func (ctx *Context) Detach(cli *Client) {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()

	for i, c := range ctx.clients {
		if c != cli {
			continue
		}
		ctx.reprogram = true
		ctx.clients = append(ctx.clients[:i], ctx.clients[i+1:]...)
		cli.accum = nil
		if len(ctx.clients) == 0 {
			ctx.teardown()
		}
		break
	}

	ctx.masks = bitmap.Bitmap{}
	for _, c := range ctx.clients {
		ctx.masks.Union(c.masks)
	}
	klog.V(2).Infof("Detached hwcnt client, %d remaining", len(ctx.clients))
}

// Close sweeps any still-attached clients and tears down the
// hardware-backed context. No reprogramming happens: the whole context
// is going away.
func (ctx *Context) Close() {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()

	for _, c := range ctx.clients {
		c.accum = nil
	}
	ctx.clients = nil
	if ctx.handle != nil {
		ctx.teardown()
	}
}

// Masks returns the current superset mask.
func (ctx *Context) Masks() bitmap.Bitmap {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()
	return ctx.masks
}

// NumClients returns the number of attached clients, pending or
// otherwise.
func (ctx *Context) NumClients() int {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()
	return len(ctx.clients)
}

// DumpSize returns the hardware dump buffer size in bytes, or zero while
// no client is attached.
func (ctx *Context) DumpSize() int {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()
	return ctx.dumpSize
}

// materialize creates the device context, sizes and allocates the shared
// dump region and programs the hardware with the current masks. Any
// failure unwinds the steps already taken.
func (ctx *Context) materialize() error {
	handle, err := ctx.contexts.CreateContext()
	if err != nil {
		return errors.Wrapf(ErrAllocation, "create device context: %v", err)
	}

	topo := hardware.Geometry(ctx.topology)
	layout := ctx.topology.LayoutVersion()
	size := geometry.DumpSize(layout, topo)

	region, err := ctx.memory.AllocateDumpRegion(size)
	if err != nil {
		ctx.contexts.DestroyContext(handle)
		return errors.Wrapf(ErrAllocation, "allocate %d byte dump region: %v", size, err)
	}
	ctx.dumpSize = size
	ctx.blocks = geometry.Blocks(layout, topo)

	ctx.handle = handle
	ctx.region = region
	if err := ctx.enable(); err != nil {
		ctx.teardownMapping()
		return errors.Wrapf(err, "enable hardware counters")
	}

	klog.V(2).Infof("Materialized hwcnt context: %s layout, %d byte dump buffer", layout, ctx.dumpSize)
	return nil
}

// teardown disables the counter block and releases the dump region and
// device context.
func (ctx *Context) teardown() {
	ctx.oracle.Disable()
	ctx.teardownMapping()
	klog.V(2).Info("Tore down hwcnt context")
}

func (ctx *Context) teardownMapping() {
	ctx.memory.FreeDumpRegion(ctx.region)
	ctx.contexts.DestroyContext(ctx.handle)
	ctx.region = nil
	ctx.handle = nil
	ctx.dumpSize = 0
	ctx.blocks = nil
}

func (ctx *Context) enable() error {
	return ctx.oracle.Enable(hardware.Setup{
		DumpAddress: ctx.region.GPUAddress,
		Masks:       ctx.masks,
	})
}
