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

package influxdb

import (
	"testing"
	"time"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSample() *storage.Sample {
	return &storage.Sample{
		Timestamp: time.Unix(1395066363, 0),
		Machine:   "machineA",
		Blocks: []storage.BlockSample{
			{Category: bitmap.Tiler, Index: 0, EnableMask: 0x1, Values: []uint32{7, 8}},
			{Category: bitmap.ShaderCore, Index: 2, EnableMask: 0xF, Values: []uint32{9}},
		},
	}
}

func TestSampleToSeries(t *testing.T) {
	driver := &influxdbStorage{machineName: "machineA", tableName: "counters"}

	series := driver.sampleToSeries(testSample())
	require.Len(t, series, 2)

	assert.Equal(t, "counters", series[0].Name)
	require.Len(t, series[0].Points, 2)
	point := series[0].Points[0]
	assert.Equal(t, int64(1395066363), point[0])
	assert.Equal(t, "machineA", point[1])
	assert.Equal(t, "tiler", point[2])
	assert.Equal(t, 0, point[3])
	assert.Equal(t, uint32(0x1), point[4])
	assert.Equal(t, 0, point[5])
	assert.Equal(t, uint32(7), point[6])

	require.Len(t, series[1].Points, 1)
	assert.Equal(t, "shader_core", series[1].Points[0][2])
	assert.Equal(t, 2, series[1].Points[0][3])
}

func TestAddSampleBuffersUntilReady(t *testing.T) {
	driver := &influxdbStorage{machineName: "machineA", tableName: "counters"}
	driver.readyToFlush = func() bool { return false }

	require.NoError(t, driver.AddSample(testSample()))
	require.NoError(t, driver.AddSample(testSample()))

	// Nothing was flushed; both samples are buffered.
	assert.Len(t, driver.series, 4)
}
