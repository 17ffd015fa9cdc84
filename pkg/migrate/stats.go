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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tally counts per-page outcomes of a batch.
type Tally struct {
	Pages       uint64
	Migrated    uint64
	Exhausted   uint64
	Rejected    uint64
	Unsupported uint64
}

// TallyBatch counts the outcomes of a submitted batch.
func TallyBatch(b *Batch) Tally {
	t := Tally{Pages: uint64(b.Len())}
	for i := range b.Src {
		switch Outcome(&b.Src[i], &b.Dst[i]) {
		case nil:
			t.Migrated++
		case ErrAllocationExhausted:
			t.Exhausted++
		case ErrUnsupported:
			t.Unsupported++
		default:
			t.Rejected++
		}
	}
	return t
}

// Add adds the counts of another tally.
func (t *Tally) Add(o Tally) {
	t.Pages += o.Pages
	t.Migrated += o.Migrated
	t.Exhausted += o.Exhausted
	t.Rejected += o.Rejected
	t.Unsupported += o.Unsupported
}

// String returns the tally as a string.
func (t Tally) String() string {
	return fmt.Sprintf("pages %d: migrated %d, exhausted %d, rejected %d, unsupported %d",
		t.Pages, t.Migrated, t.Exhausted, t.Rejected, t.Unsupported)
}

// Result is the result of a request as recorded in Stats.
type Result string

const (
	// ResultOk is a successfully completed request.
	ResultOk Result = "ok"
	// ResultInvalidRange is a request rejected with ErrInvalidRange.
	ResultInvalidRange Result = "invalid-range"
	// ResultSubmissionFailed is a request aborted with ErrBatchSubmissionFailed.
	ResultSubmissionFailed Result = "submission-failed"
	// ResultAborted is a request aborted for any other reason.
	ResultAborted Result = "aborted"
)

// StatsBatch is the Stats entry for a finalized batch.
type StatsBatch struct {
	Target string
	Tally  Tally
}

// StatsRequest is the Stats entry for a completed request.
type StatsRequest struct {
	Target   string
	Pages    int
	Batches  int
	Result   Result
	Duration time.Duration
}

// StatsTarget are the accumulated statistics of one migration target.
type StatsTarget struct {
	Requests    map[Result]uint64
	Batches     uint64
	Pages       Tally
	SumDuration time.Duration
	LastRequest StatsRequest
}

// Stats accumulates migration statistics per target.
type Stats struct {
	sync.RWMutex
	targets map[string]*StatsTarget
}

var stats = NewStats()

// NewStats creates a new, empty Stats.
func NewStats() *Stats {
	return &Stats{
		targets: make(map[string]*StatsTarget),
	}
}

// GetStats returns the default Stats.
func GetStats() *Stats {
	return stats
}

func (s *Stats) target(name string) *StatsTarget {
	st, ok := s.targets[name]
	if !ok {
		st = &StatsTarget{Requests: make(map[Result]uint64)}
		s.targets[name] = st
	}
	return st
}

// Store records an entry, a StatsBatch or a StatsRequest.
func (s *Stats) Store(entry interface{}) {
	s.Lock()
	defer s.Unlock()

	switch v := entry.(type) {
	case StatsBatch:
		st := s.target(v.Target)
		st.Batches++
		st.Pages.Add(v.Tally)
	case StatsRequest:
		st := s.target(v.Target)
		st.Requests[v.Result]++
		st.SumDuration += v.Duration
		st.LastRequest = v
	}
}

// Targets returns the names of all targets with statistics, sorted.
func (s *Stats) Targets() []string {
	s.RLock()
	defer s.RUnlock()

	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Target returns a copy of the statistics of the given target.
func (s *Stats) Target(name string) (StatsTarget, bool) {
	s.RLock()
	defer s.RUnlock()

	st, ok := s.targets[name]
	if !ok {
		return StatsTarget{}, false
	}
	c := *st
	c.Requests = make(map[Result]uint64, len(st.Requests))
	for r, n := range st.Requests {
		c.Requests[r] = n
	}
	return c, true
}

// Reset drops all statistics.
func (s *Stats) Reset() {
	s.Lock()
	defer s.Unlock()
	s.targets = make(map[string]*StatsTarget)
}

// Summarize returns the statistics as text tables.
func (s *Stats) Summarize() string {
	lines := []string{}
	lines = append(lines, "table: migration requests")
	lines = append(lines, "  target       ok invalid  failed aborted  avg[ms]")
	for _, name := range s.Targets() {
		st, _ := s.Target(name)
		count := uint64(0)
		for _, n := range st.Requests {
			count += n
		}
		avg := float64(0)
		if count > 0 {
			avg = float64(st.SumDuration) / float64(count) / float64(time.Millisecond)
		}
		lines = append(lines, fmt.Sprintf("%8s %8d %7d %7d %7d %8.3f",
			name,
			st.Requests[ResultOk],
			st.Requests[ResultInvalidRange],
			st.Requests[ResultSubmissionFailed],
			st.Requests[ResultAborted],
			avg))
	}
	lines = append(lines, "table: migrated pages")
	lines = append(lines, "  target  batches    pages migrated exhausted rejected unsupported")
	for _, name := range s.Targets() {
		st, _ := s.Target(name)
		lines = append(lines, fmt.Sprintf("%8s %8d %8d %8d %9d %8d %11d",
			name,
			st.Batches,
			st.Pages.Pages,
			st.Pages.Migrated,
			st.Pages.Exhausted,
			st.Pages.Rejected,
			st.Pages.Unsupported))
	}
	return strings.Join(lines, "\n") + "\n"
}
