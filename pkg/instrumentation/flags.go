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
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opencensus.io/trace"

	"github.com/intel/devmem-migrate/pkg/config"
	"github.com/intel/devmem-migrate/pkg/utils"
)

// Sampling defines how often trace samples are taken.
type Sampling float64

const (
	// Disabled is the trace configuration for disabling tracing.
	Disabled Sampling = 0.0
	// Production is a trace configuration for production use.
	Production Sampling = 0.1
	// Testing is a trace configuration for testing.
	Testing Sampling = 1.0

	// ConfigPath is the configuration path for instrumentation.
	ConfigPath = "instrumentation"

	// defaultSampling is the default sampling frequency.
	defaultSampling = "0"
	// defaultReportPeriod is the default report period
	defaultReportPeriod = "15s"
	// defaultJaegerCollector is the default Jaeger collector endpoint.
	defaultJaegerCollector = ""
	// defaultJaegerAgent is the default Jaeger agent endpoint.
	defaultJaegerAgent = ""
	// defaultHTTPEndpoint is the default HTTP endpoint serving Prometheus /metrics.
	defaultHTTPEndpoint = ""
	// defaultPrometheusExport is the default state for Prometheus exporting.
	defaultPrometheusExport = "false"
)

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// Sampling is the sampling frequency for traces.
	Sampling Sampling
	// ReportPeriod is the OpenCensus view reporting period.
	ReportPeriod config.Duration
	// JaegerCollector is the URL to the Jaeger HTTP Thrift collector.
	JaegerCollector string
	// JaegerAgent, if set, defines the address of a Jaeger agent to send spans to.
	JaegerAgent string
	// HTTPEndpoint is our HTTP endpoint, used among others to export Prometheus /metrics.
	HTTPEndpoint string
	// PrometheusExport defines whether we export /metrics to/for Prometheus.
	PrometheusExport bool
}

// Our instrumentation options.
var opt = &options{}

// MarshalJSON is the JSON marshaller for Sampling values.
func (s Sampling) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the JSON unmarshaller for Sampling values.
func (s *Sampling) UnmarshalJSON(raw []byte) error {
	var obj interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return instrumentationError("failed to unmarshal Sampling value: %v", err)
	}
	switch v := obj.(type) {
	case string:
		if err := s.Parse(v); err != nil {
			return err
		}
	case float64:
		*s = Sampling(v)
	default:
		return instrumentationError("invalid Sampling value of type %T: %v", obj, obj)
	}
	return nil
}

// Parse parses the given string to a Sampling value.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(value) {
	case "disabled":
		*s = Disabled
	case "testing":
		*s = Testing
	case "production":
		*s = Production
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid Sampling value '%s': %v", value, err)
		}
		*s = Sampling(f)
	}
	return nil
}

// String returns the Sampling value as a string.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Sampler returns a trace.Sampler corresponding to the Sampling value.
func (s Sampling) Sampler() trace.Sampler {
	if s == Disabled {
		return trace.NeverSample()
	}
	return trace.ProbabilitySampler(float64(s))
}

// parseEnv parses the environment variable name or falls back to defval.
func parseEnv(name, defval string, parsefn func(string) error) {
	if envval := os.Getenv(name); envval != "" {
		err := parsefn(envval)
		if err == nil {
			return
		}
		log.Error("invalid environment %s=%q: %v, using default %q", name, envval, err, defval)
	}
	if err := parsefn(defval); err != nil {
		log.Error("invalid default %s=%q: %v", name, defval, err)
	}
}

// Reset resets options to their defaults, taking the environment into account.
func (o *options) Reset() {
	type param struct {
		defval  string
		parsefn func(string) error
	}

	params := map[string]param{
		"JAEGER_COLLECTOR": {
			defaultJaegerCollector,
			func(v string) error { o.JaegerCollector = v; return nil },
		},
		"JAEGER_AGENT": {
			defaultJaegerAgent,
			func(v string) error { o.JaegerAgent = v; return nil },
		},
		"HTTP_ENDPOINT": {
			defaultHTTPEndpoint,
			func(v string) error { o.HTTPEndpoint = v; return nil },
		},
		"PROMETHEUS_EXPORT": {
			defaultPrometheusExport,
			func(v string) error {
				enabled, err := utils.ParseEnabled(v)
				if err != nil {
					return err
				}
				o.PrometheusExport = enabled
				return nil
			},
		},
		"SAMPLING_FREQUENCY": {
			defaultSampling,
			func(v string) error { return o.Sampling.Parse(v) },
		},
		"REPORT_PERIOD": {
			defaultReportPeriod,
			func(v string) error {
				d, err := time.ParseDuration(v)
				if err != nil {
					return err
				}
				o.ReportPeriod = config.Duration(d)
				return nil
			},
		},
	}

	for envvar, p := range params {
		parseEnv(envvar, p.defval, p.parsefn)
	}
}

// Describe returns help for the options.
func (*options) Describe() string {
	return `Instrumentation for traces and metrics.

  instrumentation:
    HTTPEndpoint: :8891          # serve /metrics on this address
    PrometheusExport: true       # export metrics for Prometheus
    ReportPeriod: 15s            # OpenCensus view reporting period
    Sampling: production         # trace sampling: disabled, production, testing or a ratio
    JaegerAgent: localhost:6831  # Jaeger agent to send spans to
    JaegerCollector: ""          # Jaeger HTTP Thrift collector URL

  Defaults are taken from the environment variables HTTP_ENDPOINT,
  PROMETHEUS_EXPORT, REPORT_PERIOD, SAMPLING_FREQUENCY, JAEGER_AGENT and
  JAEGER_COLLECTOR.`
}

// Validate checks the options.
func (o *options) Validate() error {
	if o.Sampling < 0 || o.Sampling > 1 {
		return instrumentationError("invalid Sampling %v, expecting 0 - 1", o.Sampling)
	}
	if o.ReportPeriod.Duration() < 0 {
		return instrumentationError("invalid negative ReportPeriod %v", o.ReportPeriod.Duration())
	}
	return nil
}

// Configure reconfigures running instrumentation services.
func (o *options) Configure() error {
	log.Info("reconfiguring...")
	if err := svc.reconfigure(); err != nil {
		log.Error("failed to reconfigure instrumentation: %v", err)
		return err
	}
	return nil
}

// Register us for configuration handling.
func init() {
	if err := config.Register(ConfigPath, opt); err != nil {
		log.Error("failed to register configuration: %v", err)
	}
}
