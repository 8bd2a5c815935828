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

// Package fake provides thread-unsafe fakes of the hardware interfaces
// for use in tests.
package fake

import (
	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hardware"
)

// Oracle is a fake hardware.Oracle. Error fields, when set, are returned
// by the corresponding method. OnDump, when set, runs on every successful
// TriggerDump so a test can fill the dump region the way hardware would.
type Oracle struct {
	TriggerErr error
	WaitErr    error
	ClearErr   error
	EnableErr  error

	OnDump func()

	Setups   []hardware.Setup
	Triggers int
	Waits    int
	Clears   int
	Disables int
	Enabled  bool
}

func (o *Oracle) TriggerDump() error {
	if o.TriggerErr != nil {
		return o.TriggerErr
	}
	o.Triggers++
	if o.OnDump != nil {
		o.OnDump()
	}
	return nil
}

func (o *Oracle) WaitForDump() error {
	if o.WaitErr != nil {
		return o.WaitErr
	}
	o.Waits++
	return nil
}

func (o *Oracle) ClearCounters() error {
	if o.ClearErr != nil {
		return o.ClearErr
	}
	o.Clears++
	return nil
}

func (o *Oracle) Enable(setup hardware.Setup) error {
	if o.EnableErr != nil {
		return o.EnableErr
	}
	o.Setups = append(o.Setups, setup)
	o.Enabled = true
	return nil
}

func (o *Oracle) Disable() {
	o.Disables++
	o.Enabled = false
}

// LastSetup returns the most recently programmed setup, or the zero
// setup if Enable was never called.
func (o *Oracle) LastSetup() hardware.Setup {
	if len(o.Setups) == 0 {
		return hardware.Setup{}
	}
	return o.Setups[len(o.Setups)-1]
}

// Memory is a fake hardware.MemoryProvider backed by plain byte slices.
type Memory struct {
	AllocErr error

	Allocated []*hardware.Region
	Freed     []*hardware.Region

	nextAddress uint64
}

func (m *Memory) AllocateDumpRegion(size int) (*hardware.Region, error) {
	if m.AllocErr != nil {
		return nil, m.AllocErr
	}
	m.nextAddress += 0x10000
	region := &hardware.Region{
		GPUAddress: m.nextAddress,
		CPU:        make([]byte, size),
	}
	m.Allocated = append(m.Allocated, region)
	return region, nil
}

func (m *Memory) FreeDumpRegion(region *hardware.Region) {
	m.Freed = append(m.Freed, region)
}

// LastRegion returns the most recently allocated region, or nil.
func (m *Memory) LastRegion() *hardware.Region {
	if len(m.Allocated) == 0 {
		return nil
	}
	return m.Allocated[len(m.Allocated)-1]
}

// Contexts is a fake hardware.ContextProvider counting context churn.
type Contexts struct {
	CreateErr error

	Created   int
	Destroyed int
}

func (c *Contexts) CreateContext() (hardware.ContextHandle, error) {
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	c.Created++
	return c.Created, nil
}

func (c *Contexts) DestroyContext(handle hardware.ContextHandle) {
	c.Destroyed++
}

// Topology is a fake hardware.Topology with fixed answers.
type Topology struct {
	Layout      geometry.Layout
	CoreGroups  int
	MemoryUnits int
	Shaders     int
}

func (t *Topology) LayoutVersion() geometry.Layout { return t.Layout }
func (t *Topology) CoreGroupCount() int            { return t.CoreGroups }
func (t *Topology) MemoryUnitSliceCount() int      { return t.MemoryUnits }
func (t *Topology) ShaderCoreCount() int           { return t.Shaders }
