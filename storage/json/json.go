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

package json

import (
	"encoding/json"
	"flag"
	"net"
	"os"

	"github.com/gpumux/hwcnt/storage"
)

func init() {
	storage.RegisterDriver("json", new)
}

var (
	// network protocol: either udp or tcp
	argProtocol = flag.String("storage_driver_json_protocol", "udp", "Json storage driver protocol")
	// useful if a user wants to pass any extra information in the json, such as an identifying string
	argDescription = flag.String("storage_driver_json_description", "", "Optional description for this connection")
)

type jsonStorage struct {
	description string
	machineName string
	connection  net.Conn
}

func new() (storage.Driver, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	return newStorage(hostname, *storage.ArgDbHost, *argDescription, *argProtocol)
}

// DetailSpec is the wire format: one object per sample.
type DetailSpec struct {
	Description string          `json:"description,omitempty"`
	MachineName string          `json:"machine_name,omitempty"`
	Sample      *storage.Sample `json:"sample,omitempty"`
}

func (driver *jsonStorage) AddSample(sample *storage.Sample) error {
	if sample == nil {
		return nil
	}
	output, err := json.Marshal(DetailSpec{driver.description, driver.machineName, sample})
	if err != nil {
		return err
	}
	_, err = driver.connection.Write(output)
	return err
}

func (driver *jsonStorage) Close() error {
	return driver.connection.Close()
}

func newStorage(machineName string, storageHost string, description string, protocol string) (*jsonStorage, error) {
	connection, err := net.Dial(protocol, storageHost)
	if err != nil {
		return nil, err
	}
	return &jsonStorage{
		machineName: machineName,
		description: description,
		connection:  connection,
	}, nil
}
