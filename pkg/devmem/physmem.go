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

	"github.com/google/btree"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/migrate"
)

// PhysMem is the physical memory map, all pools ordered by base PFN.
type PhysMem struct {
	sync.RWMutex
	pools *btree.BTreeG[*Pool]
}

var _ migrate.Copier = &PhysMem{}

// NewPhysMem creates an empty physical memory map.
func NewPhysMem() *PhysMem {
	return &PhysMem{
		pools: btree.NewG(8, func(a, b *Pool) bool { return a.base < b.base }),
	}
}

// Add adds a pool to the memory map.
func (m *PhysMem) Add(p *Pool) error {
	m.Lock()
	defer m.Unlock()

	for _, pfn := range []uint64{p.base, p.base + p.npages - 1} {
		if prev, ok := m.lookup(migrate.Page(pfn)); ok {
			return devmemError("pool %s overlaps with pool %s", p, prev)
		}
	}
	var overlap *Pool
	m.pools.AscendGreaterOrEqual(p, func(o *Pool) bool {
		if o.base < p.base+p.npages {
			overlap = o
		}
		return false
	})
	if overlap != nil {
		return devmemError("pool %s overlaps with pool %s", p, overlap)
	}

	m.pools.ReplaceOrInsert(p)
	return nil
}

// Remove removes a pool from the memory map.
func (m *PhysMem) Remove(p *Pool) bool {
	m.Lock()
	defer m.Unlock()

	_, ok := m.pools.Delete(p)
	return ok
}

// Lookup returns the pool which contains the given page.
func (m *PhysMem) Lookup(page migrate.Page) (*Pool, bool) {
	m.RLock()
	defer m.RUnlock()
	return m.lookup(page)
}

func (m *PhysMem) lookup(page migrate.Page) (*Pool, bool) {
	var found *Pool
	m.pools.DescendLessOrEqual(&Pool{base: uint64(page)}, func(p *Pool) bool {
		if p.Contains(page) {
			found = p
		}
		return false
	})
	return found, found != nil
}

// Pools returns all pools in PFN order.
func (m *PhysMem) Pools() []*Pool {
	m.RLock()
	defer m.RUnlock()

	pools := make([]*Pool, 0, m.pools.Len())
	m.pools.Ascend(func(p *Pool) bool {
		pools = append(pools, p)
		return true
	})
	return pools
}

// Bytes returns the content of an allocated page.
func (m *PhysMem) Bytes(page migrate.Page) ([]byte, error) {
	p, ok := m.Lookup(page)
	if !ok {
		return nil, errors.Wrapf(ErrNoPage, "PFN 0x%x", uint64(page))
	}
	return p.Bytes(page)
}

// Release releases the page to the pool it belongs to.
func (m *PhysMem) Release(page migrate.Page) error {
	p, ok := m.Lookup(page)
	if !ok {
		return errors.Wrapf(ErrNoPage, "PFN 0x%x", uint64(page))
	}
	return p.Release(page)
}

// Copy copies the full content of page src to page dst.
func (m *PhysMem) Copy(dst, src migrate.Page) error {
	to, err := m.Bytes(dst)
	if err != nil {
		return errors.Wrap(err, "copy destination")
	}
	from, err := m.Bytes(src)
	if err != nil {
		return errors.Wrap(err, "copy source")
	}
	copy(to, from)
	return nil
}

// Close removes and closes all pools.
func (m *PhysMem) Close() error {
	var errs *multierror.Error
	for _, p := range m.Pools() {
		m.Remove(p)
		if err := p.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
