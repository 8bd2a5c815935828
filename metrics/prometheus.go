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

// Package metrics exports sampled counter data as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/gpumux/hwcnt/storage"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	categoryLabelName = "category"
	blockLabelName    = "block"
)

// SampleProvider hands out the most recent counter sample, or nil when
// none has been collected yet.
type SampleProvider interface {
	LastSample() *storage.Sample
}

// counterMetric describes one metric derived from a counter sample.
type counterMetric struct {
	name      string
	help      string
	valueType prometheus.ValueType
	getValues func(sample *storage.Sample) metricValues
}

type metricValue struct {
	value  float64
	labels []string
}

type metricValues []metricValue

func (metric *counterMetric) desc() *prometheus.Desc {
	return prometheus.NewDesc(metric.name, metric.help, []string{categoryLabelName, blockLabelName}, nil)
}

// PrometheusCollector implements prometheus.Collector over the sample
// provider.
type PrometheusCollector struct {
	provider       SampleProvider
	errors         prometheus.Gauge
	counterMetrics []counterMetric
}

// NewPrometheusCollector returns a collector exposing the provider's
// latest sample.
func NewPrometheusCollector(provider SampleProvider) *PrometheusCollector {
	c := &PrometheusCollector{
		provider: provider,
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hwcnt",
			Name:      "scrape_error",
			Help:      "1 if there was an error while getting counter metrics, 0 otherwise.",
		}),
		counterMetrics: []counterMetric{
			{
				name:      "hwcnt_block_counters_sum",
				help:      "Sum of the counter values in one block from the latest sample.",
				valueType: prometheus.GaugeValue,
				getValues: func(sample *storage.Sample) metricValues {
					values := make(metricValues, 0, len(sample.Blocks))
					for _, block := range sample.Blocks {
						sum := 0.0
						for _, v := range block.Values {
							sum += float64(v)
						}
						values = append(values, metricValue{value: sum, labels: blockLabels(block)})
					}
					return values
				},
			},
			{
				name:      "hwcnt_block_enable_mask",
				help:      "Delivered per-block counter enable mask from the latest sample.",
				valueType: prometheus.GaugeValue,
				getValues: func(sample *storage.Sample) metricValues {
					values := make(metricValues, 0, len(sample.Blocks))
					for _, block := range sample.Blocks {
						values = append(values, metricValue{value: float64(block.EnableMask), labels: blockLabels(block)})
					}
					return values
				},
			},
		},
	}
	return c
}

func blockLabels(block storage.BlockSample) []string {
	return []string{block.Category.String(), strconv.Itoa(block.Index)}
}

// Describe describes all the counter metrics ever exported. It
// implements prometheus.Collector.
func (collector *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	collector.errors.Describe(ch)
	for _, metric := range collector.counterMetrics {
		ch <- metric.desc()
	}
}

// Collect delivers the latest sample as Prometheus metrics. It
// implements prometheus.Collector.
func (collector *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	collector.errors.Set(0)
	collector.collectSample(ch)
	collector.errors.Collect(ch)
}

func (collector *PrometheusCollector) collectSample(ch chan<- prometheus.Metric) {
	sample := collector.provider.LastSample()
	if sample == nil {
		return
	}
	for _, metric := range collector.counterMetrics {
		for _, metricValue := range metric.getValues(sample) {
			ch <- prometheus.MustNewConstMetric(metric.desc(), metric.valueType, metricValue.value, metricValue.labels...)
		}
	}
}
