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

package cdm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus(t *testing.T) {
	svc := newTestService(t)
	space := svc.Space()

	r, err := space.Map("heap", 0x100*psize, 16, false)
	require.NoError(t, err)
	require.NoError(t, space.Write(r.Start, make([]byte, 16*psize)))
	require.NoError(t, svc.Migrate(context.Background(), 0, r.Start, 4))

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, StatusPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	st := &Status{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), st))

	expected := []PoolStatus{
		{Name: SystemName, Kind: "system", Base: 0x10000, Pages: 256, Used: 12},
		{Name: "cdm0", Kind: "device", Base: 0x20000, Pages: 64, Used: 4},
		{Name: "cdm1", Kind: "device", Base: 0x40000, Pages: 64, Used: 0},
	}
	if diff := cmp.Diff(expected, st.Pools); diff != "" {
		t.Errorf("unexpected pools (-want +got):\n%s", diff)
	}

	require.Equal(t, []DeviceStatus{
		{Index: 0, Name: "cdm0", Compatible: CompatibleCDM},
		{Index: 1, Name: "cdm1", Compatible: CompatibleVolatile},
	}, st.Devices)

	require.Len(t, st.Regions, 1)
	require.Equal(t, "heap", st.Regions[0].Name)
	require.Equal(t, map[string]int{SystemName: 12, "cdm0": 4}, st.Regions[0].Resident)
	require.Contains(t, st.Stats, "cdm0")

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, StatusPath, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
