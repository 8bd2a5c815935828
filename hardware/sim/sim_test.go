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

package sim

import (
	"encoding/binary"
	"testing"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hardware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedDumpCycle(t *testing.T) {
	config := DefaultConfig()
	config.AutoAdvance = 0
	device := New(config)

	size := geometry.DumpSize(config.Layout, config.Topology)
	region, err := device.AllocateDumpRegion(size)
	require.NoError(t, err)
	defer device.FreeDumpRegion(region)
	assert.Len(t, region.CPU, size)

	masks := bitmap.Bitmap{}
	masks[bitmap.ShaderCore] = 0xF
	require.NoError(t, device.Enable(hardware.Setup{DumpAddress: region.GPUAddress, Masks: masks}))

	device.Advance(5)
	require.NoError(t, device.TriggerDump())
	require.NoError(t, device.WaitForDump())

	blocks := geometry.Blocks(config.Layout, config.Topology)
	shader := blocks[len(blocks)-1]
	value := binary.LittleEndian.Uint32(region.CPU[shader.Offset+geometry.HeaderSize:])
	assert.Equal(t, uint32(5), value)
	enable := binary.LittleEndian.Uint32(region.CPU[shader.Offset+geometry.EnableMaskOffset:])
	assert.Equal(t, uint32(0xF), enable)

	// The read was destructive: a second dump over an idle device
	// yields zero.
	require.NoError(t, device.TriggerDump())
	value = binary.LittleEndian.Uint32(region.CPU[shader.Offset+geometry.HeaderSize:])
	assert.Equal(t, uint32(0), value)
}

func TestDumpRequiresEnable(t *testing.T) {
	device := New(DefaultConfig())
	assert.Error(t, device.TriggerDump())

	// Enable against an unmapped address is rejected too.
	assert.Error(t, device.Enable(hardware.Setup{DumpAddress: 0xdead}))
}

func TestClearDropsAccruedActivity(t *testing.T) {
	config := DefaultConfig()
	config.AutoAdvance = 0
	device := New(config)

	size := geometry.DumpSize(config.Layout, config.Topology)
	region, err := device.AllocateDumpRegion(size)
	require.NoError(t, err)
	defer device.FreeDumpRegion(region)
	require.NoError(t, device.Enable(hardware.Setup{DumpAddress: region.GPUAddress}))

	device.Advance(9)
	require.NoError(t, device.ClearCounters())
	require.NoError(t, device.TriggerDump())

	blocks := geometry.Blocks(config.Layout, config.Topology)
	value := binary.LittleEndian.Uint32(region.CPU[blocks[0].Offset+geometry.HeaderSize:])
	assert.Equal(t, uint32(0), value)
}
