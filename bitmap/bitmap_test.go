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

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnion(t *testing.T) {
	a := Bitmap{0xF0, 0x01, 0x00, 0x80}
	b := Bitmap{0x0F, 0x01, 0x02, 0x00}

	a.Union(b)
	assert.Equal(t, Bitmap{0xFF, 0x01, 0x02, 0x80}, a)

	// Union with the zero bitmap is a no-op.
	a.Union(Bitmap{})
	assert.Equal(t, Bitmap{0xFF, 0x01, 0x02, 0x80}, a)
}

func TestFilter(t *testing.T) {
	b := Bitmap{}
	b[ShaderCore] = 0x0F

	assert.Equal(t, uint32(0x0F), b.Filter(ShaderCore, 0xFFFFFFFF))
	assert.Equal(t, uint32(0x05), b.Filter(ShaderCore, 0x55))
	// Categories the client never asked for are fully suppressed.
	assert.Equal(t, uint32(0), b.Filter(Tiler, 0xFFFFFFFF))
}

func TestIsZero(t *testing.T) {
	assert.True(t, Bitmap{}.IsZero())
	assert.False(t, Bitmap{0, 0, 1, 0}.IsZero())
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "job_manager", JobManager.String())
	assert.Equal(t, "tiler", Tiler.String())
	assert.Equal(t, "shader_core", ShaderCore.String())
	assert.Equal(t, "memory_unit", MemoryUnit.String())
	assert.Equal(t, "unknown", Category(17).String())
}
