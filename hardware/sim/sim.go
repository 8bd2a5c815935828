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

// Package sim is a software-simulated counter hardware backend. It
// implements every interface in the hardware package, backs dump regions
// with anonymous shared mappings and synthesizes deterministic counter
// values, so the daemon and integration tests run without a GPU.
package sim

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hardware"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Config shapes the simulated device.
type Config struct {
	// Layout selects the dump buffer layout to simulate.
	Layout geometry.Layout

	// Topology of the simulated chip.
	Topology geometry.Topology

	// AutoAdvance is the per-counter activity added on every dump. Zero
	// means the device is idle unless Advance is called.
	AutoAdvance uint32
}

// DefaultConfig simulates a small current-layout chip with one memory
// unit slice and four shader cores, busy enough to produce data.
func DefaultConfig() Config {
	return Config{
		Layout:      geometry.Current,
		Topology:    geometry.Topology{MemoryUnitSlices: 1, ShaderCores: 4},
		AutoAdvance: 1,
	}
}

// Device is the simulated hardware. It satisfies hardware.Oracle,
// hardware.MemoryProvider, hardware.ContextProvider and
// hardware.Topology. It is driven under the hwcnt context lock and needs
// no locking of its own.
type Device struct {
	config Config

	regions map[uint64][]byte

	setup   hardware.Setup
	enabled bool

	// activity is the per-counter count accrued since the last dump or
	// clear. Dumps drain it, mirroring the destructive hardware read.
	activity uint32

	contexts int
}

// New returns a simulated device.
func New(config Config) *Device {
	return &Device{
		config:  config,
		regions: map[uint64][]byte{},
	}
}

// Advance accrues simulated workload activity on every counter.
func (d *Device) Advance(n uint32) {
	d.activity += n
}

func (d *Device) TriggerDump() error {
	if !d.enabled {
		return fmt.Errorf("counter block is not enabled")
	}
	buf, ok := d.regions[d.setup.DumpAddress]
	if !ok {
		return fmt.Errorf("no dump region mapped at %#x", d.setup.DumpAddress)
	}

	d.activity += d.config.AutoAdvance
	for i := range buf {
		buf[i] = 0
	}
	for _, b := range geometry.Blocks(d.config.Layout, d.config.Topology) {
		binary.LittleEndian.PutUint32(buf[b.Offset+geometry.EnableMaskOffset:], d.setup.Masks[b.Category])
		for off := b.Offset + geometry.HeaderSize; off < b.Offset+geometry.BlockSize; off += geometry.BytesPerCounter {
			binary.LittleEndian.PutUint32(buf[off:], d.activity)
		}
	}
	// Destructive read: the hardware counters reset on dump.
	d.activity = 0
	return nil
}

func (d *Device) WaitForDump() error {
	// Dumps complete synchronously in the simulation.
	return nil
}

func (d *Device) ClearCounters() error {
	d.activity = 0
	return nil
}

func (d *Device) Enable(setup hardware.Setup) error {
	if _, ok := d.regions[setup.DumpAddress]; !ok {
		return fmt.Errorf("no dump region mapped at %#x", setup.DumpAddress)
	}
	d.setup = setup
	d.enabled = true
	return nil
}

func (d *Device) Disable() {
	d.enabled = false
}

func (d *Device) AllocateDumpRegion(size int) (*hardware.Region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d byte dump region: %v", size, err)
	}
	// The mapping's own address doubles as the simulated device-visible
	// address.
	address := uint64(uintptr(unsafe.Pointer(&buf[0])))
	d.regions[address] = buf
	klog.V(4).Infof("Simulated dump region: %d bytes at %#x", size, address)
	return &hardware.Region{GPUAddress: address, CPU: buf}, nil
}

func (d *Device) FreeDumpRegion(region *hardware.Region) {
	if region == nil {
		return
	}
	if buf, ok := d.regions[region.GPUAddress]; ok {
		delete(d.regions, region.GPUAddress)
		if err := unix.Munmap(buf); err != nil {
			klog.Warningf("Failed to unmap simulated dump region at %#x: %v", region.GPUAddress, err)
		}
	}
}

func (d *Device) CreateContext() (hardware.ContextHandle, error) {
	d.contexts++
	return d.contexts, nil
}

func (d *Device) DestroyContext(handle hardware.ContextHandle) {}

func (d *Device) LayoutVersion() geometry.Layout { return d.config.Layout }
func (d *Device) CoreGroupCount() int            { return d.config.Topology.CoreGroups }
func (d *Device) MemoryUnitSliceCount() int      { return d.config.Topology.MemoryUnitSlices }
func (d *Device) ShaderCoreCount() int           { return d.config.Topology.ShaderCores }
