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

package addrspace

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/intel/devmem-migrate/pkg/devmem"
	"github.com/intel/devmem-migrate/pkg/migrate"
)

var psize = migrate.PageSize

type fixture struct {
	mem    *devmem.PhysMem
	system *devmem.Pool
	device *devmem.Pool
	space  *Space
	stats  *migrate.Stats
}

func newFixture(t *testing.T, sysPages, devPages uint64) *fixture {
	f := &fixture{
		mem:   devmem.NewPhysMem(),
		stats: migrate.NewStats(),
	}

	var err error
	f.system, err = devmem.NewPool("system", devmem.System, 0x10000*psize, sysPages*psize)
	require.NoError(t, err)
	f.device, err = devmem.NewPool("cdm0", devmem.Device, 0x20000*psize, devPages*psize)
	require.NoError(t, err)
	require.NoError(t, f.mem.Add(f.system))
	require.NoError(t, f.mem.Add(f.device))

	f.space = NewSpace("test", f.mem, f.system)
	t.Cleanup(func() {
		require.NoError(t, f.space.Close())
		require.NoError(t, f.mem.Close())
	})

	return f
}

// migrate migrates [addr, addr+npages) to pool.
func (f *fixture) migrate(pool *devmem.Pool, addr uint64, npages int, options ...migrate.Option) error {
	options = append([]migrate.Option{migrate.WithStats(f.stats)}, options...)
	p := migrate.NewPartitioner(f.space, NewCoordinator(f.space, pool), options...)
	return p.Migrate(context.Background(), migrate.NewEngine(pool.Name(), pool, f.mem), addr, npages)
}

func fill(t *testing.T, s *Space, r migrate.Region, pages ...int) map[uint64][]byte {
	content := map[uint64][]byte{}
	for _, idx := range pages {
		addr := r.Start + uint64(idx)*psize
		data := bytes.Repeat([]byte(fmt.Sprintf("<page %d>", idx)), int(psize)/16)
		require.NoError(t, s.Write(addr, data))
		content[addr] = data
	}
	return content
}

func verify(t *testing.T, s *Space, content map[uint64][]byte) {
	for addr, data := range content {
		got, err := s.Read(addr, len(data))
		require.NoError(t, err)
		require.True(t, bytes.Equal(data, got), "content of page at 0x%x differs", addr)
	}
}

func TestMapUnmap(t *testing.T) {
	f := newFixture(t, 64, 16)
	s := f.space

	heap, err := s.Map("heap", 0x100*psize, 16, false)
	require.NoError(t, err)
	_, err = s.Map("stack", 0x200*psize, 8, false)
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		start  uint64
		npages int
		huge   bool
	}{
		{name: "overlap head", start: 0xf8 * psize, npages: 16},
		{name: "overlap tail", start: 0x10f * psize, npages: 1},
		{name: "covering", start: 0x80 * psize, npages: 0x200},
		{name: "zero pages", start: 0x400 * psize, npages: 0},
		{name: "unaligned", start: 0x400*psize + 8, npages: 1},
		{name: "unaligned huge", start: 0x500 * psize, npages: 512, huge: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Map(tc.name, tc.start, tc.npages, tc.huge)
			require.Error(t, err)
		})
	}

	r, ok := s.FindRegion(heap.Start + 15*psize)
	require.True(t, ok)
	require.Equal(t, heap, r)
	_, ok = s.FindRegion(heap.End)
	require.False(t, ok)

	fill(t, s, heap, 0, 3, 15)
	require.Equal(t, uint64(3), f.system.Used())
	require.Equal(t, map[string]int{"system": 3}, s.Residency(heap))

	require.True(t, errors.Is(s.Unmap(heap.Start+psize), ErrNotMapped))
	require.NoError(t, s.Unmap(heap.Start))
	require.Equal(t, uint64(0), f.system.Used())
	require.Len(t, s.Regions(), 1)
	require.Empty(t, s.Resident())
}

func TestReadWrite(t *testing.T) {
	f := newFixture(t, 64, 16)
	s := f.space

	r, err := s.Map("data", 0x100*psize, 4, false)
	require.NoError(t, err)

	data := []byte("spanning a page boundary")
	addr := r.Start + psize - 8
	require.NoError(t, s.Write(addr, data))
	got, err := s.Read(addr, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, []uint64{r.Start, r.Start + psize}, s.Resident())

	hole, err := s.Read(r.Start+3*psize, 16)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 16), hole)
	_, ok := s.PageOf(r.Start + 3*psize)
	require.False(t, ok)

	require.True(t, errors.Is(s.Write(r.End-4, data), ErrNotMapped))
	_, err = s.Read(r.End, 1)
	require.True(t, errors.Is(err, ErrNotMapped))
}

func TestMigrateToDevice(t *testing.T) {
	f := newFixture(t, 64, 64)
	s := f.space

	r, err := s.Map("heap", 0x100*psize, 16, false)
	require.NoError(t, err)
	content := fill(t, s, r, 0, 1, 2, 5, 8, 13, 14, 15)

	require.NoError(t, f.migrate(f.device, r.Start, 16, migrate.WithMaxBatch(4)))

	verify(t, s, content)
	require.Equal(t, map[string]int{"cdm0": 16}, s.Residency(r))
	require.Equal(t, uint64(0), f.system.Used())
	require.Equal(t, uint64(16), f.device.Used())

	st, ok := f.stats.Target("cdm0")
	require.True(t, ok)
	require.Equal(t, uint64(4), st.Batches)
	require.Equal(t, migrate.Tally{Pages: 16, Migrated: 16}, st.Pages)

	// migrating again is a no-op, every page is already on the device
	require.NoError(t, f.migrate(f.device, r.Start, 16))
	require.Equal(t, uint64(16), f.device.Used())
	st, _ = f.stats.Target("cdm0")
	require.Equal(t, uint64(16), st.Pages.Rejected)

	// and back to system memory
	require.NoError(t, f.migrate(f.system, r.Start, 16))
	verify(t, s, content)
	require.Equal(t, map[string]int{"system": 16}, s.Residency(r))
	require.Equal(t, uint64(0), f.device.Used())
}

func TestMigrateRejections(t *testing.T) {
	f := newFixture(t, 64, 64)
	s := f.space

	heap, err := s.Map("heap", 0x100*psize, 8, false)
	require.NoError(t, err)
	locked, err := s.Map("locked", 0x200*psize, 4, false)
	require.NoError(t, err)

	content := fill(t, s, heap, 0, 1, 2, 3)
	fill(t, s, locked, 0, 1)

	require.NoError(t, s.Pin(heap.Start+psize))
	require.NoError(t, s.SetLocked(locked.Start, true))

	require.NoError(t, f.migrate(f.device, heap.Start, 4))
	require.NoError(t, f.migrate(f.device, locked.Start, 4))

	verify(t, s, content)
	require.Equal(t, map[string]int{"cdm0": 3, "system": 1}, s.Residency(heap))
	require.Equal(t, map[string]int{"system": 2}, s.Residency(locked))
	require.Equal(t, uint64(3), f.device.Used(), "rejected destination pages leaked")

	require.NoError(t, s.Unpin(heap.Start+psize))
	require.Error(t, s.Unpin(heap.Start+psize))
	require.NoError(t, s.SetLocked(locked.Start, false))

	require.NoError(t, f.migrate(f.device, heap.Start, 4))
	require.NoError(t, f.migrate(f.device, locked.Start, 4))
	require.Equal(t, map[string]int{"cdm0": 4}, s.Residency(heap))
	require.Equal(t, map[string]int{"cdm0": 4}, s.Residency(locked))
}

func TestMigrateDeviceExhausted(t *testing.T) {
	f := newFixture(t, 64, 4)
	s := f.space

	r, err := s.Map("heap", 0x100*psize, 8, false)
	require.NoError(t, err)
	content := fill(t, s, r, 0, 1, 2, 3, 4, 5, 6, 7)

	require.NoError(t, f.migrate(f.device, r.Start, 8))
	verify(t, s, content)
	require.Equal(t, map[string]int{"cdm0": 4, "system": 4}, s.Residency(r))

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, migrate.Tally{Pages: 8, Migrated: 4, Exhausted: 4}, st.Pages)
}

func TestConcurrentWrite(t *testing.T) {
	f := newFixture(t, 64, 16)
	s := f.space

	r, err := s.Map("heap", 0x100*psize, 2, false)
	require.NoError(t, err)
	fill(t, s, r, 0, 1)

	c := NewCoordinator(s, f.device)
	e := migrate.NewEngine("cdm0", f.device, f.mem)
	ctx := context.Background()

	s.RLock()
	b := migrate.NewBatch(0, r.Start, r.End, migrate.SizeNormal)
	require.NoError(t, c.Collect(ctx, r, b))
	require.NoError(t, e.AllocateAndCopy(b.Src, b.Dst))
	s.ptl.Lock()
	s.ptes[r.Start+psize].gen++
	s.ptl.Unlock()
	decision, err := c.Submit(ctx, b)
	require.NoError(t, err)
	require.NoError(t, e.FinalizeAndMap(decision.Src, decision.Dst))
	s.RUnlock()

	require.Equal(t, migrate.Committed, decision.Dst[0].State)
	require.Equal(t, migrate.Released, decision.Dst[1].State)
	require.Equal(t, map[string]int{"cdm0": 1, "system": 1}, s.Residency(r))
	require.Equal(t, uint64(1), f.device.Used())

	_, err = c.Submit(ctx, b)
	require.Error(t, err, "submitting a batch twice should fail")
}

func TestTeardown(t *testing.T) {
	f := newFixture(t, 64, 64)
	s := f.space

	r, err := s.Map("heap", 0x100*psize, 16, false)
	require.NoError(t, err)
	fill(t, s, r, 0, 4, 8, 12)

	closed := make(chan error, 1)
	observer := func(string, *migrate.Batch, migrate.Tally) {
		go func() { closed <- s.Close() }()
		for !s.isClosed() {
			runtime.Gosched()
		}
	}

	err = f.migrate(f.device, r.Start, 16, migrate.WithMaxBatch(4), migrate.WithObserver(observer))
	require.True(t, errors.Is(err, migrate.ErrBatchSubmissionFailed), "expected submission failure, got %v", err)
	require.NoError(t, <-closed)

	require.Equal(t, uint64(0), f.system.Used())
	require.Equal(t, uint64(0), f.device.Used())

	_, err = s.Map("again", 0x100*psize, 1, false)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(s.Write(r.Start, []byte{1}), ErrNotMapped))
}
