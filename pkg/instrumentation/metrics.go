// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package instrumentation

import (
	"strings"
	"sync"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	pclient "github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"go.opencensus.io/stats/view"

	"github.com/intel/devmem-migrate/pkg/instrumentation/http"
	pkgmetrics "github.com/intel/devmem-migrate/pkg/metrics"
)

const (
	// PrometheusMetricsPath is the URL path for exposing metrics to Prometheus.
	PrometheusMetricsPath = "/metrics"
	// prometheusExporter is used in log messages.
	prometheusExporter = "Prometheus metrics exporter"
)

// Gatherers registered for /metrics, collected on every request.
var dynamicGatherers = &gatherers{gatherers: pclient.Gatherers{}}

// metrics is the state of our Prometheus exporter.
type metrics struct {
	exporter *prometheus.Exporter
	mux      *http.ServeMux
	period   time.Duration
	builtin  bool
}

func (m *metrics) start(mux *http.ServeMux, period time.Duration, enabled bool) error {
	if !enabled {
		log.Info("%s is disabled", prometheusExporter)
		return nil
	}

	log.Info("starting %s...", prometheusExporter)

	if !m.builtin {
		g, err := pkgmetrics.NewMetricGatherer()
		if err != nil {
			return instrumentationError("failed to create metrics gatherer: %v", err)
		}
		dynamicGatherers.Register(g)
		m.builtin = true
	}

	reg := pclient.NewRegistry()
	cfg := prometheus.Options{
		Namespace: prometheusNamespace(ServiceName),
		Registry:  reg,
		Gatherer:  pclient.Gatherers{reg, dynamicGatherers},
		OnError:   func(err error) { log.Error("%v", err) },
	}

	exp, err := prometheus.NewExporter(cfg)
	if err != nil {
		return instrumentationError("failed to create %s: %v", prometheusExporter, err)
	}

	m.exporter = exp
	m.mux = mux
	m.period = period

	mux.Handle(PrometheusMetricsPath, m.exporter)
	view.RegisterExporter(m.exporter)
	if period > 0 {
		view.SetReportingPeriod(period)
	}

	return nil
}

func (m *metrics) stop() {
	if m.exporter == nil {
		return
	}

	log.Info("stopping %s...", prometheusExporter)

	view.UnregisterExporter(m.exporter)
	m.mux.Unregister(PrometheusMetricsPath)
	m.exporter = nil
	m.mux = nil
}

func (m *metrics) reconfigure(mux *http.ServeMux, period time.Duration, enabled bool) error {
	log.Info("reconfiguring %s...", prometheusExporter)

	switch {
	case !enabled:
		m.stop()
		return nil
	case m.exporter != nil && m.mux == mux:
		if m.period != period && period > 0 {
			m.period = period
			view.SetReportingPeriod(period)
		}
		return nil
	}

	m.stop()
	return m.start(mux, period, enabled)
}

func prometheusNamespace(service string) string {
	return strings.ReplaceAll(strings.ToLower(service), "-", "_")
}

// gatherers is a dynamically extensible set of prometheus.Gatherers.
type gatherers struct {
	sync.RWMutex
	gatherers pclient.Gatherers
}

func (g *gatherers) Register(gatherer pclient.Gatherer) {
	g.Lock()
	defer g.Unlock()
	g.gatherers = append(g.gatherers, gatherer)
}

func (g *gatherers) Gather() ([]*model.MetricFamily, error) {
	g.RLock()
	defer g.RUnlock()
	return g.gatherers.Gather()
}
