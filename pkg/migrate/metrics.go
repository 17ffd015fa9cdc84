// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package migrate

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/devmem-migrate/pkg/metrics"
)

var (
	requestsDesc = prometheus.NewDesc(
		"migrate_requests_total",
		"Number of migration requests by target and result.",
		[]string{"target", "result"}, nil,
	)
	batchesDesc = prometheus.NewDesc(
		"migrate_batches_total",
		"Number of finalized migration batches by target.",
		[]string{"target"}, nil,
	)
	pagesDesc = prometheus.NewDesc(
		"migrate_pages_total",
		"Number of pages processed by target and outcome.",
		[]string{"target", "outcome"}, nil,
	)
	durationDesc = prometheus.NewDesc(
		"migrate_request_seconds_total",
		"Total time spent in migration requests by target.",
		[]string{"target"}, nil,
	)
)

// collector exports Stats as prometheus metrics.
type collector struct {
	stats *Stats
}

// NewCollector creates a prometheus collector for the given Stats.
func NewCollector(s *Stats) prometheus.Collector {
	return &collector{stats: s}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- batchesDesc
	ch <- pagesDesc
	ch <- durationDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.stats.Targets() {
		st, ok := c.stats.Target(name)
		if !ok {
			continue
		}
		for _, result := range []Result{ResultOk, ResultInvalidRange, ResultSubmissionFailed, ResultAborted} {
			ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue,
				float64(st.Requests[result]), name, string(result))
		}
		ch <- prometheus.MustNewConstMetric(batchesDesc, prometheus.CounterValue,
			float64(st.Batches), name)
		for outcome, n := range map[string]uint64{
			"migrated":    st.Pages.Migrated,
			"exhausted":   st.Pages.Exhausted,
			"rejected":    st.Pages.Rejected,
			"unsupported": st.Pages.Unsupported,
		} {
			ch <- prometheus.MustNewConstMetric(pagesDesc, prometheus.CounterValue,
				float64(n), name, outcome)
		}
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.CounterValue,
			st.SumDuration.Seconds(), name)
	}
}

func init() {
	err := metrics.RegisterCollector("migrate", func() (prometheus.Collector, error) {
		return NewCollector(stats), nil
	})
	if err != nil {
		log.Error("failed to register collector: %v", err)
	}
}
