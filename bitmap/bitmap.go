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

// Package bitmap holds the per-category counter enable masks.
package bitmap

// Category identifies one of the hardware counter block categories.
type Category int

const (
	JobManager Category = iota
	Tiler
	ShaderCore
	MemoryUnit

	NumCategories
)

func (c Category) String() string {
	switch c {
	case JobManager:
		return "job_manager"
	case Tiler:
		return "tiler"
	case ShaderCore:
		return "shader_core"
	case MemoryUnit:
		return "memory_unit"
	}
	return "unknown"
}

// Bitmap selects the active counters within each category. Each category
// holds a 32-bit enable mask matching the hardware's per-block enable
// field.
type Bitmap [NumCategories]uint32

// Union folds the bits of other into b.
func (b *Bitmap) Union(other Bitmap) {
	for i := range b {
		b[i] |= other[i]
	}
}

// Filter applies the category's mask to a raw enable word read back from
// hardware, hiding counters the mask does not request.
func (b Bitmap) Filter(cat Category, raw uint32) uint32 {
	return raw & b[cat]
}

// IsZero reports whether no counter is enabled in any category.
func (b Bitmap) IsZero() bool {
	for _, m := range b {
		if m != 0 {
			return false
		}
	}
	return true
}
