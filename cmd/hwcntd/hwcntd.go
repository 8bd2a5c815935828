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

// hwcntd samples GPU hardware counters from a simulated device, pushes
// them to a storage driver and exposes the latest sample to Prometheus.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gpumux/hwcnt/bitmap"
	"github.com/gpumux/hwcnt/geometry"
	"github.com/gpumux/hwcnt/hardware/sim"
	"github.com/gpumux/hwcnt/hwcnt"
	"github.com/gpumux/hwcnt/metrics"
	"github.com/gpumux/hwcnt/sampler"
	"github.com/gpumux/hwcnt/storage"

	// Register storage drivers.
	_ "github.com/gpumux/hwcnt/storage/influxdb"
	_ "github.com/gpumux/hwcnt/storage/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

var argIP = flag.String("listen_ip", "", "IP to listen on, defaults to all IPs")
var argPort = flag.Int("port", 8080, "port to listen")

var prometheusEndpoint = flag.String("prometheus_endpoint", "/metrics", "Endpoint to expose Prometheus metrics on")

var enableProfiling = flag.Bool("profiling", false, "Enable profiling via web interface host:port/debug/pprof/")

var storageDriver = flag.String("storage_driver", "", fmt.Sprintf("Storage `driver` to push samples to. Empty means none. Options are: <empty>, %s", strings.Join(storage.DriverNames(), ", ")))
var samplingInterval = flag.Duration("sampling_interval", 1*time.Second, "Interval between counter dumps")

var jmMask = maskFlag("jm_mask", "Job manager counter enable mask")
var tilerMask = maskFlag("tiler_mask", "Tiler counter enable mask")
var shaderMask = maskFlag("shader_mask", "Shader core counter enable mask")
var mmuMask = maskFlag("mmu_mask", "Memory unit counter enable mask")

var legacyLayout = flag.Bool("sim_legacy_layout", false, "Simulate the legacy dump buffer layout")
var coreGroups = flag.Int("sim_core_groups", 1, "Core groups of the simulated chip (legacy layout)")
var memorySlices = flag.Int("sim_memory_slices", 1, "Memory unit slices of the simulated chip")
var shaderCores = flag.Int("sim_shader_cores", 4, "Shader cores of the simulated chip")
var autoAdvance = flag.Uint("sim_auto_advance", 1, "Simulated per-counter activity accrued on every dump")

func maskFlag(name, usage string) *string {
	return flag.String(name, "0xffffffff", usage)
}

func parseMasks() (bitmap.Bitmap, error) {
	var masks bitmap.Bitmap
	for _, m := range []struct {
		cat bitmap.Category
		raw *string
	}{
		{bitmap.JobManager, jmMask},
		{bitmap.Tiler, tilerMask},
		{bitmap.ShaderCore, shaderMask},
		{bitmap.MemoryUnit, mmuMask},
	} {
		v, err := strconv.ParseUint(*m.raw, 0, 32)
		if err != nil {
			return masks, fmt.Errorf("invalid %s mask %q: %v", m.cat, *m.raw, err)
		}
		masks[m.cat] = uint32(v)
	}
	return masks, nil
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()
	// Default logging verbosity to V(2)
	_ = flag.Set("v", "2")
	flag.Parse()

	masks, err := parseMasks()
	if err != nil {
		klog.Fatalf("Failed to parse counter masks: %v", err)
	}

	simConfig := sim.Config{
		Layout:      geometry.Current,
		Topology:    geometry.Topology{MemoryUnitSlices: *memorySlices, ShaderCores: *shaderCores},
		AutoAdvance: uint32(*autoAdvance),
	}
	if *legacyLayout {
		simConfig.Layout = geometry.Legacy
		simConfig.Topology = geometry.Topology{CoreGroups: *coreGroups}
	}
	device := sim.New(simConfig)
	counters := hwcnt.NewContext(device, device, device, device, hwcnt.Config{})

	var driver storage.Driver
	if *storageDriver != "" {
		driver, err = storage.New(*storageDriver)
		if err != nil {
			klog.Fatalf("Failed to initialize storage driver: %v", err)
		}
		klog.V(1).Infof("Using backend storage type %q", *storageDriver)
	}

	hostname, err := os.Hostname()
	if err != nil {
		klog.Fatalf("Failed to get hostname: %v", err)
	}

	s, err := sampler.New(counters, device.LayoutVersion(), simConfig.Topology, driver, masks, hostname, *samplingInterval, clock.RealClock{})
	if err != nil {
		klog.Fatalf("Failed to create sampler: %v", err)
	}
	s.Start()

	installSignalHandler(s, counters, driver)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewPrometheusCollector(s))

	mux := http.NewServeMux()
	if *enableProfiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	}
	mux.Handle(*prometheusEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	addr := fmt.Sprintf("%s:%d", *argIP, *argPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		klog.Fatal(err)
	}
	klog.V(1).Infof("Starting hwcntd on %s, sampling every %v", addr, *samplingInterval)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	klog.Fatal(server.Serve(listener))
}

func installSignalHandler(s *sampler.Sampler, counters *hwcnt.Context, driver storage.Driver) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received.
	go func() {
		sig := <-c
		s.Stop()
		counters.Close()
		if driver != nil {
			if err := driver.Close(); err != nil {
				klog.Errorf("Failed to close storage driver: %v", err)
			}
		}
		klog.Infof("Exiting given signal: %v", sig)
		klog.Flush()
		os.Exit(0)
	}()
}
