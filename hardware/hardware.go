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

// Package hardware abstracts the lowest level access to the GPU counter
// hardware: dump triggering, dump memory, device contexts and topology.
package hardware

import (
	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"
)

// Setup programs the counter block: where to dump and which counters per
// category to enable. The hardware accepts exactly one Setup at a time.
type Setup struct {
	// DumpAddress is the device-visible address of the dump region.
	DumpAddress uint64

	// Masks are the per-category enable masks to program.
	Masks bitmap.Bitmap
}

// Oracle drives the hardware counter block. A dump writes every enabled
// counter into the programmed dump region and destructively resets the
// hardware counters.
type Oracle interface {
	// TriggerDump asks the hardware to start a counter dump.
	TriggerDump() error

	// WaitForDump blocks until the in-flight dump completes. The driver
	// bounds the wait; an expired bound is reported as an error.
	WaitForDump() error

	// ClearCounters zeroes the hardware counters without dumping them.
	ClearCounters() error

	// Enable programs and starts the counter block.
	Enable(setup Setup) error

	// Disable stops the counter block.
	Disable()
}

// Region is one physical memory region with two views: a device address
// for hardware programming and a CPU mapping for the accumulation
// algorithms. The views alias the same bytes.
type Region struct {
	// GPUAddress is the opaque device-visible address token.
	GPUAddress uint64

	// CPU is the CPU-visible mapping of the region.
	CPU []byte
}

// MemoryProvider allocates device-writable, CPU-readable dump regions.
type MemoryProvider interface {
	AllocateDumpRegion(size int) (*Region, error)
	FreeDumpRegion(region *Region)
}

// ContextHandle identifies a device context created by a
// ContextProvider. Handles are opaque to this module.
type ContextHandle interface{}

// ContextProvider creates and destroys the device context the counter
// dump buffer lives in.
type ContextProvider interface {
	CreateContext() (ContextHandle, error)
	DestroyContext(handle ContextHandle)
}

// Topology reports the device counter topology. The answers never change
// while the device is up.
type Topology interface {
	// LayoutVersion selects the dump buffer layout the chip generation
	// uses.
	LayoutVersion() geometry.Layout

	// CoreGroupCount is the number of core groups (legacy layout).
	CoreGroupCount() int

	// MemoryUnitSliceCount is the number of memory unit slices (current
	// layout).
	MemoryUnitSliceCount() int

	// ShaderCoreCount is the number of shader cores in the first
	// coherent group (current layout).
	ShaderCoreCount() int
}

// Geometry snapshots a Topology into the form the geometry calculations
// take.
func Geometry(topo Topology) geometry.Topology {
	return geometry.Topology{
		CoreGroups:       topo.CoreGroupCount(),
		MemoryUnitSlices: topo.MemoryUnitSliceCount(),
		ShaderCores:      topo.ShaderCoreCount(),
	}
}
