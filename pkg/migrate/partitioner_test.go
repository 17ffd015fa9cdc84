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
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/intel/devmem-migrate/pkg/config"
)

// mockSpace is an address space with a fixed set of regions.
type mockSpace struct {
	sync.RWMutex
	regions []Region
}

func (s *mockSpace) FindRegion(addr uint64) (Region, bool) {
	for _, r := range s.regions {
		if r.Start <= addr && addr < r.End {
			return r, true
		}
	}
	return Region{}, false
}

// mockCoordinator resolves addresses to source pages and approves them,
// rejecting the ones listed in reject.
type mockCoordinator struct {
	sync.Mutex
	pages     map[uint64]Page
	reject    map[uint64]bool
	failAt    int
	collected int
	submitted []*Batch
	// onCollect and onSubmit, if set, can fail the corresponding phase.
	onCollect func(ctx context.Context) error
	onSubmit  func(ctx context.Context) error
	// decide, if set, replaces the returned decision batch.
	decide func(b *Batch) *Batch
}

func (c *mockCoordinator) Collect(ctx context.Context, r Region, b *Batch) error {
	c.Lock()
	defer c.Unlock()
	c.collected++
	if c.onCollect != nil {
		if err := c.onCollect(ctx); err != nil {
			return err
		}
	}
	for i := range b.Src {
		s := &b.Src[i]
		if r.Huge {
			s.Flags |= FlagHuge
		}
		if page, ok := c.pages[s.Addr]; ok {
			s.Page = page
			s.Flags |= FlagValid
		}
		s.Flags |= FlagMigrate
	}
	return nil
}

func (c *mockCoordinator) Submit(ctx context.Context, b *Batch) (*Batch, error) {
	c.Lock()
	defer c.Unlock()
	if c.failAt > 0 && len(c.submitted)+1 == c.failAt {
		c.submitted = append(c.submitted, b)
		return nil, fmt.Errorf("mock coordinator: submission #%d failed", c.failAt)
	}
	if c.onSubmit != nil {
		if err := c.onSubmit(ctx); err != nil {
			c.submitted = append(c.submitted, b)
			return nil, err
		}
	}
	for i := range b.Src {
		if c.reject[b.Src[i].Addr] || b.Dst[i].State != AllocatedLocked {
			b.Src[i].Flags &^= FlagMigrate
		}
	}
	c.submitted = append(c.submitted, b)
	if c.decide != nil {
		return c.decide(b), nil
	}
	return b, nil
}

type partitionerFixture struct {
	space  *mockSpace
	coord  *mockCoordinator
	alloc  *mockAllocator
	copier *mockCopier
	engine *Engine
	stats  *Stats
	part   *Partitioner
}

func newPartitionerFixture(t *testing.T, capacity int, regions ...Region) *partitionerFixture {
	f := &partitionerFixture{
		space: &mockSpace{regions: regions},
		coord: &mockCoordinator{pages: map[uint64]Page{}, reject: map[uint64]bool{}},
		alloc: newMockAllocator(0x10000, capacity),
		stats: NewStats(),
	}
	f.copier = &mockCopier{source: map[Page][]byte{}, dest: f.alloc}
	f.engine = NewEngine("cdm0", f.alloc, f.copier)
	f.part = NewPartitioner(f.space, f.coord, WithMaxBatch(64), WithStats(f.stats))

	for _, r := range regions {
		if r.Huge {
			continue
		}
		for addr, pfn := r.Start, Page(r.Start/PageSize); addr < r.End; addr, pfn = addr+PageSize, pfn+1 {
			f.coord.pages[addr] = pfn
			f.copier.source[pfn] = []byte(fmt.Sprintf("page at 0x%x", addr))
		}
	}
	return f
}

func TestMigrateBatching(t *testing.T) {
	start := 0x1000 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 256*PageSize})

	require.NoError(t, f.part.Migrate(context.Background(), f.engine, start+PageSize, 128))
	require.Equal(t, 2, len(f.coord.submitted))
	for i, b := range f.coord.submitted {
		require.Equal(t, i, b.Seq)
		require.Equal(t, 64, b.Len())
		require.Equal(t, start+PageSize+uint64(i)*64*PageSize, b.Start)
	}

	tcases := []struct {
		npages  int
		batches int
		last    int
	}{
		{npages: 1, batches: 1, last: 1},
		{npages: 63, batches: 1, last: 63},
		{npages: 64, batches: 1, last: 64},
		{npages: 65, batches: 2, last: 1},
		{npages: 200, batches: 4, last: 8},
	}
	for _, tc := range tcases {
		t.Run(fmt.Sprintf("%d pages", tc.npages), func(t *testing.T) {
			f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 256*PageSize})
			require.NoError(t, f.part.Migrate(context.Background(), f.engine, start, tc.npages))
			require.Len(t, f.coord.submitted, tc.batches)
			for i, b := range f.coord.submitted {
				if i < tc.batches-1 {
					require.Equal(t, 64, b.Len())
				} else {
					require.Equal(t, tc.last, b.Len())
				}
			}
			require.Equal(t, tc.npages, f.alloc.inUse())
		})
	}
}

func TestMigrateInvalidRange(t *testing.T) {
	start := 0x2000 * PageSize
	regions := []Region{
		{Name: "text", Start: start, End: start + 16*PageSize},
		{Name: "data", Start: start + 16*PageSize, End: start + 32*PageSize},
		{Name: "huge", Start: 4 * HugePageSize, End: 6 * HugePageSize, Huge: true},
	}

	tcases := []struct {
		name   string
		addr   uint64
		npages int
	}{
		{name: "spanning two regions", addr: start + 8*PageSize, npages: 16},
		{name: "unmapped", addr: start - 4*PageSize, npages: 2},
		{name: "running off a region", addr: start + 30*PageSize, npages: 4},
		{name: "zero pages", addr: start, npages: 0},
		{name: "negative pages", addr: start, npages: -1},
		{name: "unaligned", addr: start + 1, npages: 1},
		{name: "overflow", addr: start, npages: int(^uint(0) >> 1)},
		{name: "partial huge page", addr: 4*HugePageSize + PageSize, npages: 512},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPartitionerFixture(t, 1024, regions...)
			err := f.part.Migrate(context.Background(), f.engine, tc.addr, tc.npages)
			require.True(t, errors.Is(err, ErrInvalidRange), "expected invalid range, got %v", err)
			require.Equal(t, 0, f.alloc.allocs)
			require.Equal(t, 0, f.coord.collected)

			st, ok := f.stats.Target("cdm0")
			require.True(t, ok)
			require.Equal(t, uint64(1), st.Requests[ResultInvalidRange])
		})
	}
}

func TestMigrateSinglePage(t *testing.T) {
	start := 0x3000 * PageSize
	region := Region{Name: "stack", Start: start, End: start + 4*PageSize}

	t.Run("committed", func(t *testing.T) {
		f := newPartitionerFixture(t, 1, region)
		content := append([]byte{}, f.copier.source[Page(start/PageSize)]...)

		require.NoError(t, f.part.Migrate(context.Background(), f.engine, start, 1))
		require.Len(t, f.coord.submitted, 1)

		b := f.coord.submitted[0]
		require.Equal(t, Committed, b.Dst[0].State)
		require.Equal(t, FlagValid, b.Dst[0].Flags)
		require.Equal(t, content, f.alloc.allocated[b.Dst[0].Page][:len(content)])
	})

	t.Run("exhausted", func(t *testing.T) {
		f := newPartitionerFixture(t, 0, region)

		require.NoError(t, f.part.Migrate(context.Background(), f.engine, start, 1))
		b := f.coord.submitted[0]
		require.Empty(t, cmp.Diff(Descriptor{}, b.Dst[0]))
		require.Equal(t, Page(start/PageSize), b.Src[0].Page)
		require.False(t, b.Src[0].Flags.Has(FlagMigrate))
		require.Empty(t, f.alloc.released)

		st, _ := f.stats.Target("cdm0")
		require.Equal(t, Tally{Pages: 1, Exhausted: 1}, st.Pages)
	})
}

func TestMigrateReleasesRejected(t *testing.T) {
	start := 0x4000 * PageSize
	f := newPartitionerFixture(t, 128, Region{Name: "heap", Start: start, End: start + 100*PageSize})
	for i := uint64(0); i < 100; i += 3 {
		f.coord.reject[start+i*PageSize] = true
	}

	var observed Tally
	f.part = NewPartitioner(f.space, f.coord, WithMaxBatch(64), WithStats(f.stats),
		WithObserver(func(target string, b *Batch, t Tally) {
			observed.Add(t)
		}))

	require.NoError(t, f.part.Migrate(context.Background(), f.engine, start, 100))
	require.Equal(t, Tally{Pages: 100, Migrated: 66, Rejected: 34}, observed)
	require.Equal(t, 66, f.alloc.inUse())
	require.Len(t, f.alloc.released, 34)

	for _, b := range f.coord.submitted {
		for i := range b.Dst {
			if f.coord.reject[b.Src[i].Addr] {
				require.Equal(t, Released, b.Dst[i].State)
			} else {
				require.Equal(t, Committed, b.Dst[i].State)
			}
		}
	}

	st, ok := f.stats.Target("cdm0")
	require.True(t, ok)
	require.Equal(t, observed, st.Pages)
	require.Equal(t, uint64(2), st.Batches)
	require.Equal(t, uint64(1), st.Requests[ResultOk])
}

func TestMigrateSubmissionFailure(t *testing.T) {
	start := 0x5000 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 256*PageSize})
	f.coord.failAt = 2

	err := f.part.Migrate(context.Background(), f.engine, start, 192)
	require.True(t, errors.Is(err, ErrBatchSubmissionFailed), "expected submission failure, got %v", err)
	require.Len(t, f.coord.submitted, 2)

	// first batch stays committed, second one is rolled back, third never runs
	require.Equal(t, 64, f.alloc.inUse())
	require.Len(t, f.alloc.released, 64)
	for i := range f.coord.submitted[1].Dst {
		require.Equal(t, Released, f.coord.submitted[1].Dst[i].State)
	}

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, uint64(1), st.Requests[ResultSubmissionFailed])
	require.Equal(t, 1, st.LastRequest.Batches)
}

func TestMigrateNoDecision(t *testing.T) {
	start := 0x5800 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 64*PageSize})
	f.coord.decide = func(*Batch) *Batch { return nil }

	err := f.part.Migrate(context.Background(), f.engine, start, 16)
	require.True(t, errors.Is(err, ErrBatchSubmissionFailed), "expected submission failure, got %v", err)
	require.Equal(t, 0, f.alloc.inUse())
	require.Len(t, f.alloc.released, 16)
}

func TestMigrateMalformedDecision(t *testing.T) {
	start := 0x5a00 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 64*PageSize})

	// the decision comes back short, after its mappings may have been published
	f.coord.decide = func(b *Batch) *Batch {
		return &Batch{Seq: b.Seq, Start: b.Start, End: b.Start + PageSize, Src: b.Src[:1], Dst: b.Dst[:1]}
	}

	err := f.part.Migrate(context.Background(), f.engine, start, 16)
	require.True(t, errors.Is(err, ErrBatchSubmissionFailed), "expected submission failure, got %v", err)
	require.Len(t, f.coord.submitted, 1)

	// nothing is released behind the back of the published mappings
	require.Empty(t, f.alloc.released)
	require.Equal(t, 16, f.alloc.inUse())
	b := f.coord.submitted[0]
	for i := range b.Dst {
		require.Equal(t, AllocatedLocked, b.Dst[i].State)
		require.True(t, b.Src[i].Flags.Has(FlagMigrate))
	}

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, uint64(1), st.Requests[ResultSubmissionFailed])
	require.Equal(t, uint64(0), st.Batches)
}

func TestMigrateCancelWithinBatch(t *testing.T) {
	start := 0x5c00 * PageSize
	region := Region{Name: "heap", Start: start, End: start + 256*PageSize}

	t.Run("collect", func(t *testing.T) {
		f := newPartitionerFixture(t, 1024, region)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.coord.onCollect = func(ctx context.Context) error {
			if f.coord.collected == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		}

		err := f.part.Migrate(ctx, f.engine, start, 192)
		require.True(t, errors.Is(err, context.Canceled), "expected cancellation, got %v", err)
		require.False(t, errors.Is(err, ErrBatchSubmissionFailed))
		require.Len(t, f.coord.submitted, 1)
		require.Equal(t, 64, f.alloc.inUse())

		st, _ := f.stats.Target("cdm0")
		require.Equal(t, uint64(1), st.Requests[ResultAborted])
		require.Equal(t, uint64(0), st.Requests[ResultSubmissionFailed])
	})

	t.Run("submit", func(t *testing.T) {
		f := newPartitionerFixture(t, 1024, region)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.coord.onSubmit = func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}

		err := f.part.Migrate(ctx, f.engine, start, 32)
		require.True(t, errors.Is(err, context.Canceled), "expected cancellation, got %v", err)
		require.False(t, errors.Is(err, ErrBatchSubmissionFailed))
		require.Equal(t, 0, f.alloc.inUse())
		require.Len(t, f.alloc.released, 32)

		st, _ := f.stats.Target("cdm0")
		require.Equal(t, uint64(1), st.Requests[ResultAborted])
	})
}

func TestMigrateHugeRegion(t *testing.T) {
	region := Region{Name: "thp", Start: 8 * HugePageSize, End: 12 * HugePageSize, Huge: true}
	f := newPartitionerFixture(t, 1024, region)

	npages := int(4 * HugePageSize / PageSize)
	require.NoError(t, f.part.Migrate(context.Background(), f.engine, region.Start, npages))
	require.Len(t, f.coord.submitted, 1)

	b := f.coord.submitted[0]
	require.Equal(t, 4, b.Len())
	for i := range b.Dst {
		require.Equal(t, Unsupported, b.Dst[i].State)
		require.Equal(t, ErrUnsupported, Outcome(&b.Src[i], &b.Dst[i]))
	}
	require.Equal(t, 0, f.alloc.allocs)

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, Tally{Pages: 4, Unsupported: 4}, st.Pages)
}

func TestMigrateCancel(t *testing.T) {
	start := 0x6000 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 256*PageSize})

	ctx, cancel := context.WithCancel(context.Background())
	f.part = NewPartitioner(f.space, f.coord, WithMaxBatch(64), WithStats(f.stats),
		WithObserver(func(string, *Batch, Tally) { cancel() }))

	err := f.part.Migrate(ctx, f.engine, start, 256)
	require.True(t, errors.Is(err, context.Canceled), "expected cancellation, got %v", err)
	require.Len(t, f.coord.submitted, 1)
	require.Equal(t, 64, f.alloc.inUse())

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, uint64(1), st.Requests[ResultAborted])
}

func TestMigrateConcurrentRequests(t *testing.T) {
	start := 0x7000 * PageSize
	f := newPartitionerFixture(t, 4096, Region{Name: "heap", Start: start, End: start + 1024*PageSize})

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		addr := start + uint64(i)*128*PageSize
		g.Go(func() error {
			return f.part.Migrate(context.Background(), f.engine, addr, 128)
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1024, f.alloc.inUse())
	require.Len(t, f.coord.submitted, 16)

	st, _ := f.stats.Target("cdm0")
	require.Equal(t, uint64(8), st.Requests[ResultOk])
	require.Equal(t, uint64(1024), st.Pages.Migrated)
}

func TestMaxBatchConfig(t *testing.T) {
	p := NewPartitioner(&mockSpace{}, &mockCoordinator{})
	require.Equal(t, DefaultMaxBatch, p.MaxBatch())

	require.NoError(t, config.SetYAML([]byte("migrate:\n  MaxBatch: 16\n")))
	require.Equal(t, 16, p.MaxBatch())

	require.Error(t, config.SetYAML([]byte("migrate:\n  MaxBatch: 0\n")))
	require.Equal(t, 16, p.MaxBatch())

	require.NoError(t, config.SetYAML([]byte("{}")))
	require.Equal(t, DefaultMaxBatch, p.MaxBatch())
	require.Equal(t, 8, NewPartitioner(&mockSpace{}, &mockCoordinator{}, WithMaxBatch(8)).MaxBatch())
}
