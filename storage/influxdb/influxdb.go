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
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gpumux/hwcnt/storage"

	influxdb "github.com/influxdb/influxdb/client"
)

func init() {
	storage.RegisterDriver("influxdb", new)
}

var (
	argDbIsSecure     = flag.Bool("storage_driver_influxdb_is_secure", false, "use secure connection with influxdb")
	argBufferDuration = flag.Duration("storage_driver_influxdb_buffer_duration", 60*time.Second, "Writes in the last period are buffered and merged into a single influxdb write")
)

const (
	colTimestamp  = "time"
	colMachine    = "machine"
	colCategory   = "category"
	colBlock      = "block"
	colEnableMask = "enable_mask"
	colCounter    = "counter"
	colValue      = "value"
)

type influxdbStorage struct {
	client         *influxdb.Client
	machineName    string
	tableName      string
	bufferDuration time.Duration
	lastWrite      time.Time
	series         []*influxdb.Series
	lock           sync.Mutex
	readyToFlush   func() bool
}

func new() (storage.Driver, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	return New(
		hostname,
		*storage.ArgDbTable,
		*storage.ArgDbName,
		*storage.ArgDbUsername,
		*storage.ArgDbPassword,
		*storage.ArgDbHost,
		*argDbIsSecure,
		*argBufferDuration,
	)
}

// sampleToSeries flattens one sample into one point per counter value.
func (driver *influxdbStorage) sampleToSeries(sample *storage.Sample) []*influxdb.Series {
	columns := []string{colTimestamp, colMachine, colCategory, colBlock, colEnableMask, colCounter, colValue}
	series := make([]*influxdb.Series, 0, len(sample.Blocks))
	for _, block := range sample.Blocks {
		out := &influxdb.Series{
			Name:    driver.tableName,
			Columns: columns,
			Points:  make([][]interface{}, 0, len(block.Values)),
		}
		for i, value := range block.Values {
			out.Points = append(out.Points, []interface{}{
				sample.Timestamp.Unix(),
				driver.machineName,
				block.Category.String(),
				block.Index,
				block.EnableMask,
				i,
				value,
			})
		}
		series = append(series, out)
	}
	return series
}

func (driver *influxdbStorage) AddSample(sample *storage.Sample) error {
	if sample == nil {
		return nil
	}
	// AddSample may be invoked from multiple goroutines; only one of
	// them performs the buffered write.
	var seriesToFlush []*influxdb.Series
	func() {
		driver.lock.Lock()
		defer driver.lock.Unlock()
		driver.series = append(driver.series, driver.sampleToSeries(sample)...)
		if driver.readyToFlush() {
			seriesToFlush = driver.series
			driver.series = make([]*influxdb.Series, 0)
			driver.lastWrite = time.Now()
		}
	}()
	if len(seriesToFlush) > 0 {
		err := driver.client.WriteSeriesWithTimePrecision(seriesToFlush, influxdb.Second)
		if err != nil {
			return fmt.Errorf("failed to write counters to influxDb - %s", err)
		}
	}
	return nil
}

func (driver *influxdbStorage) OverrideReadyToFlush(readyToFlush func() bool) {
	driver.readyToFlush = readyToFlush
}

func (driver *influxdbStorage) defaultReadyToFlush() bool {
	return time.Since(driver.lastWrite) >= driver.bufferDuration
}

func (driver *influxdbStorage) Close() error {
	driver.lock.Lock()
	defer driver.lock.Unlock()
	seriesToFlush := driver.series
	driver.series = nil
	if len(seriesToFlush) == 0 {
		return nil
	}
	return driver.client.WriteSeriesWithTimePrecision(seriesToFlush, influxdb.Second)
}

// machineName: A unique identifier to identify the host that this
// instance is running on. influxdbHost: The host which runs influxdb.
func New(machineName,
	tablename,
	database,
	username,
	password,
	influxdbHost string,
	isSecure bool,
	bufferDuration time.Duration,
) (*influxdbStorage, error) {
	config := &influxdb.ClientConfig{
		Host:     influxdbHost,
		Username: username,
		Password: password,
		Database: database,
		IsSecure: isSecure,
	}
	client, err := influxdb.NewClient(config)
	if err != nil {
		return nil, err
	}
	client.DisableCompression()

	ret := &influxdbStorage{
		client:         client,
		machineName:    machineName,
		tableName:      tablename,
		bufferDuration: bufferDuration,
		lastWrite:      time.Now(),
		series:         make([]*influxdb.Series, 0),
	}
	ret.readyToFlush = ret.defaultReadyToFlush
	return ret, nil
}
