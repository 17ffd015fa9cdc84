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

package devmem

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/intel/devmem-migrate/pkg/migrate"
)

func newTestPool(t *testing.T, name string, startPFN, npages uint64) *Pool {
	p, err := NewPool(name, Device, startPFN*migrate.PageSize, npages*migrate.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func TestNewPoolArguments(t *testing.T) {
	psize := migrate.PageSize
	tcases := []struct {
		name  string
		start uint64
		size  uint64
	}{
		{name: "zero size", start: psize, size: 0},
		{name: "partial page", start: psize, size: psize + 1},
		{name: "unaligned start", start: psize + 1, size: psize},
		{name: "zero start", start: 0, size: psize},
		{name: "overflow", start: ^uint64(0) - psize + 1, size: 2 * psize},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPool(tc.name, Device, tc.start, tc.size)
			require.Error(t, err)
		})
	}
}

func TestAllocateRelease(t *testing.T) {
	p := newTestPool(t, "test", 0x100, 70)
	require.Equal(t, uint64(70), p.Pages())
	require.Equal(t, migrate.Page(0x100), p.Base())

	seen := map[migrate.Page]bool{}
	for i := 0; i < 70; i++ {
		page, err := p.Allocate()
		require.NoError(t, err)
		require.True(t, p.Contains(page), "page 0x%x in pool", page)
		require.False(t, seen[page], "page 0x%x allocated twice", page)
		seen[page] = true
	}
	require.Equal(t, uint64(70), p.Used())
	require.Equal(t, uint64(0), p.Free())

	_, err := p.Allocate()
	require.True(t, errors.Is(err, ErrExhausted), "expected exhaustion, got %v", err)

	require.NoError(t, p.Release(0x100+42))
	require.Equal(t, uint64(1), p.Free())
	require.False(t, p.Allocated(0x100+42))

	err = p.Release(0x100 + 42)
	require.True(t, errors.Is(err, ErrNotAllocated), "expected double release error, got %v", err)

	err = p.Release(0x100 + 70)
	require.True(t, errors.Is(err, ErrNoPage), "expected out of pool error, got %v", err)

	page, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, migrate.Page(0x100+42), page)
}

func TestAllocateZeroes(t *testing.T) {
	p := newTestPool(t, "test", 0x200, 1)

	page, err := p.Allocate()
	require.NoError(t, err)
	mem, err := p.Bytes(page)
	require.NoError(t, err)
	require.Len(t, mem, int(migrate.PageSize))
	for i := range mem {
		mem[i] = 0xa5
	}
	require.NoError(t, p.Release(page))

	_, err = p.Bytes(page)
	require.True(t, errors.Is(err, ErrNotAllocated))

	page, err = p.Allocate()
	require.NoError(t, err)
	mem, err = p.Bytes(page)
	require.NoError(t, err)
	require.Equal(t, make([]byte, migrate.PageSize), mem)
}

func TestConcurrentAllocation(t *testing.T) {
	const (
		workers   = 8
		perWorker = 32
	)
	p := newTestPool(t, "test", 0x1000, workers*perWorker)

	var (
		lock  sync.Mutex
		pages = map[migrate.Page]int{}
		g     errgroup.Group
	)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				page, err := p.Allocate()
				if err != nil {
					return err
				}
				lock.Lock()
				pages[page]++
				lock.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, pages, workers*perWorker)
	require.Equal(t, uint64(0), p.Free())

	for page := range pages {
		g.Go(func(page migrate.Page) func() error {
			return func() error { return p.Release(page) }
		}(page))
	}
	require.NoError(t, g.Wait())
	require.Equal(t, uint64(0), p.Used())
}

func TestClosedPool(t *testing.T) {
	p, err := NewPool("closed", System, 0x300*migrate.PageSize, migrate.PageSize)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Allocate()
	require.Error(t, err)
	require.Error(t, p.Release(0x300))
}
