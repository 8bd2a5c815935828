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

// Package storage defines where sampled counter data is sent. Drivers
// register themselves and are selected by name.
package storage

import (
	"flag"
	"fmt"
	"sort"
	"time"

	"github.com/gpumux/hwcnt/bitmap"
)

// Common storage driver flags, shared by the drivers that need them.
var (
	ArgDbHost     = flag.String("storage_driver_host", "localhost:8086", "database host:port")
	ArgDbName     = flag.String("storage_driver_db", "hwcnt", "database name")
	ArgDbTable    = flag.String("storage_driver_table", "counters", "table name")
	ArgDbUsername = flag.String("storage_driver_user", "root", "database username")
	ArgDbPassword = flag.String("storage_driver_password", "root", "database password")
)

// BlockSample holds one counter block's values from one dump.
type BlockSample struct {
	// Category is the block's counter category.
	Category bitmap.Category `json:"category"`

	// Index is the block's position among the blocks of its category.
	Index int `json:"index"`

	// EnableMask is the delivered (client-masked) enable mask.
	EnableMask uint32 `json:"enable_mask"`

	// Values are the block's counter values, header words excluded.
	Values []uint32 `json:"values"`
}

// Sample is one delivered dump, decoded into blocks.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Machine   string        `json:"machine,omitempty"`
	Blocks    []BlockSample `json:"blocks"`
}

// Driver is a sink for counter samples.
type Driver interface {
	AddSample(sample *Sample) error
	Close() error
}

type driverFactory func() (Driver, error)

var registeredDrivers = map[string]driverFactory{}

// RegisterDriver makes a storage driver available by name.
func RegisterDriver(name string, factory func() (Driver, error)) {
	registeredDrivers[name] = factory
}

// New constructs the named storage driver.
func New(name string) (Driver, error) {
	factory, ok := registeredDrivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q, known drivers: %v", name, DriverNames())
	}
	return factory()
}

// DriverNames lists the registered drivers, sorted.
func DriverNames() []string {
	names := make([]string, 0, len(registeredDrivers))
	for name := range registeredDrivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
