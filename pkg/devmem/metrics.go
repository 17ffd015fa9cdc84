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

package devmem

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/devmem-migrate/pkg/metrics"
)

var (
	poolPagesDesc = prometheus.NewDesc(
		"devmem_pool_pages",
		"Number of pages in a page pool.",
		[]string{"pool", "kind"}, nil,
	)
	poolUsedDesc = prometheus.NewDesc(
		"devmem_pool_used_pages",
		"Number of allocated pages in a page pool.",
		[]string{"pool", "kind"}, nil,
	)
)

// poolSet tracks all open pools for metrics collection.
type poolSet struct {
	sync.Mutex
	pools map[*Pool]struct{}
}

var pools = &poolSet{pools: make(map[*Pool]struct{})}

func (s *poolSet) add(p *Pool) {
	s.Lock()
	defer s.Unlock()
	s.pools[p] = struct{}{}
}

func (s *poolSet) remove(p *Pool) {
	s.Lock()
	defer s.Unlock()
	delete(s.pools, p)
}

func (s *poolSet) list() []*Pool {
	s.Lock()
	defer s.Unlock()
	list := make([]*Pool, 0, len(s.pools))
	for p := range s.pools {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].base < list[j].base })
	return list
}

// collector exports page pool usage.
type collector struct{}

// Describe implements prometheus.Collector.
func (collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolPagesDesc
	ch <- poolUsedDesc
}

// Collect implements prometheus.Collector.
func (collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range pools.list() {
		ch <- prometheus.MustNewConstMetric(poolPagesDesc, prometheus.GaugeValue,
			float64(p.Pages()), p.name, p.kind.String())
		ch <- prometheus.MustNewConstMetric(poolUsedDesc, prometheus.GaugeValue,
			float64(p.Used()), p.name, p.kind.String())
	}
}

func init() {
	err := metrics.RegisterCollector("devmem", func() (prometheus.Collector, error) {
		return collector{}, nil
	})
	if err != nil {
		log.Error("failed to register collector: %v", err)
	}
}
