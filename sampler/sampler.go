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

// Package sampler periodically dumps accumulated counters through a
// kernel client and forwards the decoded samples to a storage driver.
package sampler

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hwcnt"
	"github.com/gpumux/hwcnt/storage"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// maxDumpAttempts bounds the retries of a timed-out hardware dump
// within one sampling tick.
const maxDumpAttempts = 3

// Sampler drives one kernel client on a fixed interval.
type Sampler struct {
	ctx         *hwcnt.Context
	cli         *hwcnt.Client
	blocks      []geometry.Block
	driver      storage.Driver
	machineName string
	interval    time.Duration
	clock       clock.WithTicker

	stopCh chan struct{}
	doneCh chan struct{}

	lock sync.Mutex
	last *storage.Sample
}

// New attaches a kernel client requesting the given masks and returns a
// sampler that is not yet running. The attach materializes the hardware
// context if this is the first client.
func New(ctx *hwcnt.Context, layout geometry.Layout, topo geometry.Topology, driver storage.Driver, masks bitmap.Bitmap, machineName string, interval time.Duration, clk clock.WithTicker) (*Sampler, error) {
	cli, err := ctx.Attach(true, nil, masks)
	if err != nil {
		return nil, errors.Wrap(err, "attach sampling client")
	}
	return &Sampler{
		ctx:         ctx,
		cli:         cli,
		blocks:      geometry.Blocks(layout, topo),
		driver:      driver,
		machineName: machineName,
		interval:    interval,
		clock:       clk,
	}, nil
}

// Start launches the sampling loop.
func (s *Sampler) Start() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop()
	klog.V(2).Infof("Started counter sampling every %v", s.interval)
}

// Stop halts the loop and detaches the sampling client.
func (s *Sampler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.ctx.Detach(s.cli)
	klog.V(2).Info("Stopped counter sampling")
}

// LastSample returns the most recently collected sample, or nil before
// the first tick.
func (s *Sampler) LastSample() *storage.Sample {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.last
}

func (s *Sampler) loop() {
	defer close(s.doneCh)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.collect()
		}
	}
}

// collect performs one dump, retrying timeouts, and forwards the
// decoded sample.
func (s *Sampler) collect() {
	var dumpErr error
	retryErr := retry.Retry(func(attempt uint) error {
		dumpErr = s.ctx.Dump(s.cli)
		if dumpErr != nil && errors.Is(dumpErr, hwcnt.ErrTimeout) {
			klog.V(2).Infof("Counter dump attempt %d timed out, retrying", attempt)
			return dumpErr
		}
		return nil
	}, strategy.Limit(maxDumpAttempts))
	if retryErr != nil {
		dumpErr = retryErr
	}
	if dumpErr != nil {
		klog.Warningf("Counter dump failed: %v", dumpErr)
		return
	}

	sample := s.decode(s.cli.Snapshot())
	s.lock.Lock()
	s.last = sample
	s.lock.Unlock()

	if s.driver == nil {
		return
	}
	if err := s.driver.AddSample(sample); err != nil {
		klog.Warningf("Failed to store counter sample: %v", err)
	}
}

// decode splits a delivered snapshot into per-block samples.
func (s *Sampler) decode(snapshot []byte) *storage.Sample {
	sample := &storage.Sample{
		Timestamp: s.clock.Now(),
		Machine:   s.machineName,
		Blocks:    make([]storage.BlockSample, 0, len(s.blocks)),
	}
	indexes := map[bitmap.Category]int{}
	for _, b := range s.blocks {
		values := make([]uint32, 0, (geometry.BlockSize-geometry.HeaderSize)/geometry.BytesPerCounter)
		for off := b.Offset + geometry.HeaderSize; off < b.Offset+geometry.BlockSize; off += geometry.BytesPerCounter {
			values = append(values, binary.LittleEndian.Uint32(snapshot[off:]))
		}
		sample.Blocks = append(sample.Blocks, storage.BlockSample{
			Category:   b.Category,
			Index:      indexes[b.Category],
			EnableMask: binary.LittleEndian.Uint32(snapshot[b.Offset+geometry.EnableMaskOffset:]),
			Values:     values,
		})
		indexes[b.Category]++
	}
	return sample
}
