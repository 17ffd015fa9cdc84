// Copyright 2019-2022 Intel Corporation. All Rights Reserved.
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

package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

var (
	lock                  sync.Mutex
	builtInCollectors     = make(map[string]InitCollector)
	registeredCollectors  = []prometheus.Collector{}
	initializedCollectors = make(map[string]struct{})
	log                   = logger.NewLogger("collectors")
)

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

// RegisterCollector registers the named prometheus.Collector for metrics collection.
func RegisterCollector(name string, init InitCollector) error {
	lock.Lock()
	defer lock.Unlock()

	log.Debug("registering collector %s...", name)

	if _, found := builtInCollectors[name]; found {
		return metricsError("Collector %s already registered", name)
	}

	builtInCollectors[name] = init

	return nil
}

// Collectors returns the names of all registered collectors.
func Collectors() []string {
	lock.Lock()
	defer lock.Unlock()

	names := make([]string, 0, len(builtInCollectors))
	for name := range builtInCollectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewMetricGatherer creates a new prometheus.Gatherer with all registered collectors.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	lock.Lock()
	defer lock.Unlock()

	reg := prometheus.NewPedanticRegistry()

	for name, cb := range builtInCollectors {
		if _, ok := initializedCollectors[name]; ok {
			continue
		}

		c, err := cb()
		if err != nil {
			log.Error("Failed to initialize collector '%s': %v. Skipping it.", name, err)
			continue
		}
		registeredCollectors = append(registeredCollectors, c)
		initializedCollectors[name] = struct{}{}
	}

	if err := reg.Register(prometheus.NewGoCollector()); err != nil {
		return nil, metricsError("failed to register Go collector: %v", err)
	}
	for _, c := range registeredCollectors {
		if err := reg.Register(c); err != nil {
			return nil, metricsError("failed to register collector: %v", err)
		}
	}

	return reg, nil
}

func metricsError(format string, args ...interface{}) error {
	return fmt.Errorf("metrics: "+format, args...)
}
