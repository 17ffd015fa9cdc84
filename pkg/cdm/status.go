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
	"encoding/json"
	"net/http"

	"github.com/intel/devmem-migrate/pkg/migrate"
)

// StatusPath is the HTTP path the service status is served at.
const StatusPath = "/devmem/status"

// Status is a snapshot of pools, devices, regions and migration statistics.
type Status struct {
	Pools   []PoolStatus                   `json:"pools"`
	Devices []DeviceStatus                 `json:"devices"`
	Regions []RegionStatus                 `json:"regions"`
	Stats   map[string]migrate.StatsTarget `json:"stats"`
}

// PoolStatus describes the usage of a page pool.
type PoolStatus struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Base  uint64 `json:"base"`
	Pages uint64 `json:"pages"`
	Used  uint64 `json:"used"`
}

// DeviceStatus describes a registered device.
type DeviceStatus struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Compatible string `json:"compatible"`
}

// RegionStatus describes a mapped region and where its pages reside.
type RegionStatus struct {
	migrate.Region
	Resident map[string]int `json:"resident"`
}

// Status returns the current status of the service.
func (s *Service) Status() *Status {
	st := &Status{
		Pools:   []PoolStatus{},
		Devices: []DeviceStatus{},
		Regions: []RegionStatus{},
		Stats:   map[string]migrate.StatsTarget{},
	}

	for _, p := range s.mem.Pools() {
		st.Pools = append(st.Pools, PoolStatus{
			Name:  p.Name(),
			Kind:  p.Kind().String(),
			Base:  uint64(p.Base()),
			Pages: p.Pages(),
			Used:  p.Used(),
		})
	}
	for _, d := range s.registry.Devices() {
		st.Devices = append(st.Devices, DeviceStatus{
			Index:      d.Index(),
			Name:       d.Name(),
			Compatible: d.Compatible(),
		})
	}
	for _, r := range s.space.Regions() {
		st.Regions = append(st.Regions, RegionStatus{
			Region:   r,
			Resident: s.space.Residency(r),
		})
	}

	stats := migrate.GetStats()
	for _, name := range stats.Targets() {
		if t, ok := stats.Target(name); ok {
			st.Stats[name] = t
		}
	}

	return st
}

// ServeHTTP serves the service status as JSON.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Status()); err != nil {
		log.Error("failed to encode status: %v", err)
	}
}
