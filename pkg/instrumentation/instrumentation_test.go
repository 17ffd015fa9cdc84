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
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"

	"github.com/intel/devmem-migrate/pkg/config"
)

func TestSamplingIdempotency(t *testing.T) {
	tcases := []Sampling{
		Disabled,
		Testing,
		Production,
		0.2, 0.25, 0.5, 0.75, 0.8,
	}
	for _, tc := range tcases {
		var chk Sampling
		require.NoError(t, chk.Parse(tc.String()), "parse %q", tc)
		require.Equal(t, tc, chk)
	}
}

func TestConfiguration(t *testing.T) {
	require.NoError(t, config.SetYAML([]byte(`
instrumentation:
  Sampling: production
  ReportPeriod: 1s
  HTTPEndpoint: "127.0.0.1:0"
`)))
	require.Equal(t, Production, opt.Sampling)
	require.Equal(t, time.Second, opt.ReportPeriod.Duration())
	require.False(t, opt.PrometheusExport)

	require.Error(t, config.SetYAML([]byte("instrumentation:\n  Sampling: 2\n")))
	require.Equal(t, Production, opt.Sampling)

	require.NoError(t, config.SetYAML([]byte("{}")))
	require.Equal(t, Disabled, opt.Sampling)
}

func TestPrometheusExport(t *testing.T) {
	measure := stats.Int64("test/requests", "test requests", stats.UnitDimensionless)
	require.NoError(t, RegisterViews(&view.View{
		Name:        "test_requests",
		Description: "test requests",
		Measure:     measure,
		Aggregation: view.Count(),
	}))

	require.NoError(t, config.SetYAML([]byte(`
instrumentation:
  HTTPEndpoint: "127.0.0.1:0"
  PrometheusExport: true
  ReportPeriod: 100ms
`)))
	require.NoError(t, Start())
	t.Cleanup(func() {
		Stop()
		require.NoError(t, config.SetYAML([]byte("{}")))
	})

	address := HTTPAddress()
	require.NotEmpty(t, address)
	require.False(t, TracingEnabled())

	body := checkPrometheus(t, address, true)
	require.Contains(t, body, "go_goroutines")

	// turn exporting off and back on, keeping the server address
	require.NoError(t, config.SetYAML([]byte(`
instrumentation:
  HTTPEndpoint: "`+address+`"
  PrometheusExport: false
`)))
	checkPrometheus(t, address, false)

	require.NoError(t, config.SetYAML([]byte(`
instrumentation:
  HTTPEndpoint: "`+address+`"
  PrometheusExport: true
`)))
	checkPrometheus(t, address, true)
}

func checkPrometheus(t *testing.T, server string, enabled bool) string {
	rpl, err := http.Get("http://" + server + PrometheusMetricsPath)
	if !enabled {
		if err == nil {
			defer rpl.Body.Close()
			require.NotEqual(t, http.StatusOK, rpl.StatusCode, "metrics should not be served")
		}
		return ""
	}

	require.NoError(t, err)
	defer rpl.Body.Close()
	require.Equal(t, http.StatusOK, rpl.StatusCode)

	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(body))
}
