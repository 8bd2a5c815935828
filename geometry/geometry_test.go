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

package geometry

import (
	"testing"

	"github.com/gpumux/hwcnt/bitmap"

	"github.com/stretchr/testify/assert"
)

func TestDumpSizeLegacy(t *testing.T) {
	topo := Topology{CoreGroups: 1}
	assert.Equal(t, 8*256, DumpSize(Legacy, topo))

	topo.CoreGroups = 2
	assert.Equal(t, 2*8*256, DumpSize(Legacy, topo))
}

func TestDumpSizeCurrent(t *testing.T) {
	topo := Topology{MemoryUnitSlices: 1, ShaderCores: 4}
	// JM + tiler + 1 memory unit + 4 shader cores.
	assert.Equal(t, 7*256, DumpSize(Current, topo))

	topo = Topology{MemoryUnitSlices: 2, ShaderCores: 8}
	assert.Equal(t, 12*256, DumpSize(Current, topo))
}

func TestLegacyBlockWalk(t *testing.T) {
	topo := Topology{CoreGroups: 2}
	blocks := Blocks(Legacy, topo)

	// Seven categorized blocks per group, slot 6 is reserved.
	assert.Len(t, blocks, 14)

	groupSize := BlocksPerGroup * BlockSize
	for group := 0; group < 2; group++ {
		base := group * groupSize
		expected := []Block{
			{base + 0*BlockSize, bitmap.ShaderCore},
			{base + 1*BlockSize, bitmap.ShaderCore},
			{base + 2*BlockSize, bitmap.ShaderCore},
			{base + 3*BlockSize, bitmap.ShaderCore},
			{base + 4*BlockSize, bitmap.Tiler},
			{base + 5*BlockSize, bitmap.MemoryUnit},
			{base + 7*BlockSize, bitmap.JobManager},
		}
		assert.Equal(t, expected, blocks[group*7:group*7+7])
	}
}

func TestCurrentBlockWalk(t *testing.T) {
	topo := Topology{MemoryUnitSlices: 2, ShaderCores: 3}
	blocks := Blocks(Current, topo)

	expected := []Block{
		{0 * BlockSize, bitmap.JobManager},
		{1 * BlockSize, bitmap.Tiler},
		{2 * BlockSize, bitmap.MemoryUnit},
		{3 * BlockSize, bitmap.MemoryUnit},
		{4 * BlockSize, bitmap.ShaderCore},
		{5 * BlockSize, bitmap.ShaderCore},
		{6 * BlockSize, bitmap.ShaderCore},
	}
	assert.Equal(t, expected, blocks)
}

func TestBlocksStayInsideDump(t *testing.T) {
	cases := []struct {
		layout Layout
		topo   Topology
	}{
		{Legacy, Topology{CoreGroups: 1}},
		{Legacy, Topology{CoreGroups: 4}},
		{Current, Topology{MemoryUnitSlices: 1, ShaderCores: 1}},
		{Current, Topology{MemoryUnitSlices: 4, ShaderCores: 16}},
	}
	for _, c := range cases {
		size := DumpSize(c.layout, c.topo)
		for _, b := range Blocks(c.layout, c.topo) {
			assert.True(t, b.Offset+BlockSize <= size,
				"layout %v topo %+v block %+v overruns dump size %d",
				c.layout, c.topo, b, size)
		}
	}
}
