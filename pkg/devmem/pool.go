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
	"fmt"
	"math/bits"
	"sync"

	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/migrate"
)

// Pool is a fixed-size pool of pages covering a contiguous PFN range.
type Pool struct {
	sync.Mutex
	name   string
	kind   Kind
	base   uint64 // first PFN
	npages uint64
	arena  []byte
	mapped bool
	bitmap []uint64
	used   uint64
	hint   uint64 // next bitmap word to scan
	closed bool
}

var _ migrate.PageAllocator = &Pool{}

// NewPool creates a pool of size bytes starting at physical address start.
func NewPool(name string, kind Kind, start, size uint64) (*Pool, error) {
	psize := migrate.PageSize
	switch {
	case size == 0 || size%psize != 0:
		return nil, devmemError("%s: invalid pool size %d, not a multiple of page size %d",
			name, size, psize)
	case start%psize != 0:
		return nil, devmemError("%s: unaligned pool start 0x%x", name, start)
	case start == 0:
		return nil, devmemError("%s: pool cannot start at physical address 0", name)
	case start+size < start:
		return nil, devmemError("%s: pool [0x%x+0x%x] overflows", name, start, size)
	}

	npages := size / psize
	arena, mapped := mapArena(size)

	p := &Pool{
		name:   name,
		kind:   kind,
		base:   start / psize,
		npages: npages,
		arena:  arena,
		mapped: mapped,
		bitmap: make([]uint64, (npages+63)/64),
	}

	pools.add(p)

	log.Info("created %s pool %s: PFN 0x%x-0x%x (%d pages)",
		kind, name, p.base, p.base+npages-1, npages)

	return p, nil
}

// Name returns the name of the pool.
func (p *Pool) Name() string {
	return p.name
}

// Kind returns the kind of memory in the pool.
func (p *Pool) Kind() Kind {
	return p.kind
}

// Base returns the first PFN of the pool.
func (p *Pool) Base() migrate.Page {
	return migrate.Page(p.base)
}

// Pages returns the number of pages in the pool.
func (p *Pool) Pages() uint64 {
	return p.npages
}

// Used returns the number of allocated pages.
func (p *Pool) Used() uint64 {
	p.Lock()
	defer p.Unlock()
	return p.used
}

// Free returns the number of free pages.
func (p *Pool) Free() uint64 {
	p.Lock()
	defer p.Unlock()
	return p.npages - p.used
}

// Contains checks if the page belongs to the pool.
func (p *Pool) Contains(page migrate.Page) bool {
	pfn := uint64(page)
	return p.base <= pfn && pfn < p.base+p.npages
}

// Allocate allocates a zeroed page.
func (p *Pool) Allocate() (migrate.Page, error) {
	p.Lock()
	defer p.Unlock()

	if p.closed {
		return migrate.NilPage, devmemError("%s: pool closed", p.name)
	}
	if p.used == p.npages {
		return migrate.NilPage, errors.Wrapf(ErrExhausted, "%s", p.name)
	}

	words := uint64(len(p.bitmap))
	for n := uint64(0); n < words; n++ {
		w := (p.hint + n) % words
		free := ^p.bitmap[w]
		if free == 0 {
			continue
		}
		idx := w*64 + uint64(bits.TrailingZeros64(free))
		if idx >= p.npages {
			continue
		}
		p.bitmap[w] |= 1 << (idx % 64)
		p.used++
		p.hint = w

		mem := p.page(idx)
		for i := range mem {
			mem[i] = 0
		}
		return migrate.Page(p.base + idx), nil
	}

	return migrate.NilPage, errors.Wrapf(ErrExhausted, "%s", p.name)
}

// Release returns an allocated page to the pool.
func (p *Pool) Release(page migrate.Page) error {
	p.Lock()
	defer p.Unlock()

	idx, err := p.index(page)
	if err != nil {
		return err
	}
	w, bit := idx/64, uint64(1)<<(idx%64)
	if p.bitmap[w]&bit == 0 {
		return errors.Wrapf(ErrNotAllocated, "%s: PFN 0x%x", p.name, uint64(page))
	}
	p.bitmap[w] &^= bit
	p.used--
	discardPage(p.page(idx), p.mapped)

	return nil
}

// Allocated checks if the page is allocated.
func (p *Pool) Allocated(page migrate.Page) bool {
	p.Lock()
	defer p.Unlock()

	idx, err := p.index(page)
	if err != nil {
		return false
	}
	return p.bitmap[idx/64]&(1<<(idx%64)) != 0
}

// Bytes returns the content of an allocated page.
func (p *Pool) Bytes(page migrate.Page) ([]byte, error) {
	p.Lock()
	defer p.Unlock()

	idx, err := p.index(page)
	if err != nil {
		return nil, err
	}
	if p.bitmap[idx/64]&(1<<(idx%64)) == 0 {
		return nil, errors.Wrapf(ErrNotAllocated, "%s: PFN 0x%x", p.name, uint64(page))
	}
	return p.page(idx), nil
}

// Close releases the memory of the pool.
func (p *Pool) Close() error {
	p.Lock()
	defer p.Unlock()

	if p.closed {
		return nil
	}
	if p.used > 0 {
		log.Warn("%s: closing pool with %d pages in use", p.name, p.used)
	}
	p.closed = true
	pools.remove(p)
	err := unmapArena(p.arena, p.mapped)
	p.arena = nil
	if err != nil {
		return devmemError("%s: failed to unmap pool arena: %v", p.name, err)
	}
	return nil
}

// String returns a short description of the pool.
func (p *Pool) String() string {
	return fmt.Sprintf("%s %s PFN 0x%x-0x%x", p.kind, p.name, p.base, p.base+p.npages-1)
}

func (p *Pool) index(page migrate.Page) (uint64, error) {
	if p.closed {
		return 0, devmemError("%s: pool closed", p.name)
	}
	if !p.Contains(page) {
		return 0, errors.Wrapf(ErrNoPage, "%s: PFN 0x%x", p.name, uint64(page))
	}
	return uint64(page) - p.base, nil
}

func (p *Pool) page(idx uint64) []byte {
	psize := migrate.PageSize
	return p.arena[idx*psize : (idx+1)*psize : (idx+1)*psize]
}
