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

// Package instrumentation exports migration metrics and traces.
//
// It runs an HTTP server with removable handlers, exposes /metrics for
// Prometheus through the OpenCensus Prometheus exporter fed by registered
// gatherers, and exports trace spans to Jaeger.
package instrumentation

import (
	"fmt"
	"sync"

	pclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"

	"github.com/intel/devmem-migrate/pkg/instrumentation/http"
	logger "github.com/intel/devmem-migrate/pkg/log"
)

const (
	// ServiceName is our service name in external tracing and metrics services.
	ServiceName = "devmem-migrate"
)

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// Our instrumentation service instance.
var svc = newService()

// Views registered for export while the service is running.
var views = struct {
	sync.Mutex
	views []*view.View
}{}

// GetHTTPMux returns the mux of our HTTP server for external services.
func GetHTTPMux() *http.ServeMux {
	return svc.http.GetMux()
}

// HTTPAddress returns the address our HTTP server is listening on.
func HTTPAddress() string {
	return svc.http.GetAddress()
}

// TracingEnabled returns true if the Jaeger tracing sampler is not disabled.
func TracingEnabled() bool {
	return svc.TracingEnabled()
}

// Start starts our instrumentation services.
func Start() error {
	return svc.Start()
}

// Stop stops our instrumentation services.
func Stop() {
	svc.Stop()
}

// Restart restarts our instrumentation services.
func Restart() error {
	return svc.Restart()
}

// RegisterGatherer registers a prometheus gatherer for /metrics.
func RegisterGatherer(g pclient.Gatherer) {
	dynamicGatherers.Register(g)
}

// RegisterViews registers OpenCensus views for export.
func RegisterViews(v ...*view.View) error {
	views.Lock()
	views.views = append(views.views, v...)
	views.Unlock()

	if svc.isRunning() {
		if err := view.Register(v...); err != nil {
			return instrumentationError("failed to register views: %v", err)
		}
	}
	return nil
}

func registerViews() error {
	views.Lock()
	defer views.Unlock()
	if err := view.Register(views.views...); err != nil {
		return instrumentationError("failed to register views: %v", err)
	}
	return nil
}

func unregisterViews() {
	views.Lock()
	defer views.Unlock()
	view.Unregister(views.views...)
}

// instrumentationError produces a formatted instrumentation-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
