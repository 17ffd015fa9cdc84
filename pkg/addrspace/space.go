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
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/devmem"
	"github.com/intel/devmem-migrate/pkg/migrate"
)

// vma is a mapped region.
type vma struct {
	migrate.Region
	locked bool
}

// pte is a page table entry.
type pte struct {
	page   migrate.Page
	gen    uint64
	pinned int
}

// Space is a virtual address space.
type Space struct {
	mmap    sync.RWMutex // mapping lock, protects regions
	ptl     sync.Mutex   // page table lock, protects ptes and closed
	name    string
	mem     *devmem.PhysMem
	system  *devmem.Pool
	regions *btree.BTreeG[*vma]
	ptes    map[uint64]*pte
	closed  bool
}

var _ migrate.AddressSpace = &Space{}

// NewSpace creates an empty address space. Pages are faulted in from the
// system pool which must be part of mem.
func NewSpace(name string, mem *devmem.PhysMem, system *devmem.Pool) *Space {
	return &Space{
		name:    name,
		mem:     mem,
		system:  system,
		regions: btree.NewG(8, func(a, b *vma) bool { return a.Start < b.Start }),
		ptes:    make(map[uint64]*pte),
	}
}

// Name returns the name of the address space.
func (s *Space) Name() string {
	return s.name
}

// RLock takes the mapping lock in shared mode.
func (s *Space) RLock() {
	s.mmap.RLock()
}

// RUnlock releases the shared mapping lock.
func (s *Space) RUnlock() {
	s.mmap.RUnlock()
}

// FindRegion returns the region containing addr. The caller must hold the
// mapping lock.
func (s *Space) FindRegion(addr uint64) (migrate.Region, bool) {
	if v := s.findVMA(addr); v != nil {
		return v.Region, true
	}
	return migrate.Region{}, false
}

func (s *Space) findVMA(addr uint64) *vma {
	var found *vma
	s.regions.DescendLessOrEqual(&vma{Region: migrate.Region{Start: addr}}, func(v *vma) bool {
		if addr < v.End {
			found = v
		}
		return false
	})
	return found
}

// Map maps a new region of npages pages at start.
func (s *Space) Map(name string, start uint64, npages int, huge bool) (migrate.Region, error) {
	align := migrate.PageSize
	if huge {
		align = migrate.HugePageSize
	}

	if npages <= 0 {
		return migrate.Region{}, addrspaceError("%s: invalid page count %d", name, npages)
	}
	length := uint64(npages) * migrate.PageSize
	end := start + length
	switch {
	case length/migrate.PageSize != uint64(npages) || end < start:
		return migrate.Region{}, addrspaceError("%s: 0x%x+%d pages overflows", name, start, npages)
	case start%align != 0 || end%align != 0:
		return migrate.Region{}, addrspaceError("%s: [0x%x-0x%x) not aligned to 0x%x",
			name, start, end, align)
	}

	s.mmap.Lock()
	defer s.mmap.Unlock()

	if s.isClosed() {
		return migrate.Region{}, errors.Wrapf(ErrClosed, "%s", s.name)
	}

	r := migrate.Region{Name: name, Start: start, End: end, Huge: huge}
	if v := s.findVMA(start); v != nil {
		return migrate.Region{}, errors.Wrapf(ErrOverlap, "%s overlaps %s", r, v.Region)
	}
	var next *vma
	s.regions.AscendGreaterOrEqual(&vma{Region: migrate.Region{Start: start}}, func(v *vma) bool {
		next = v
		return false
	})
	if next != nil && next.Start < end {
		return migrate.Region{}, errors.Wrapf(ErrOverlap, "%s overlaps %s", r, next.Region)
	}

	s.regions.ReplaceOrInsert(&vma{Region: r})
	log.Debug("%s: mapped %s", s.name, r)

	return r, nil
}

// Unmap unmaps the region starting at start, releasing its pages.
func (s *Space) Unmap(start uint64) error {
	s.mmap.Lock()
	defer s.mmap.Unlock()

	v := s.findVMA(start)
	if v == nil || v.Start != start {
		return errors.Wrapf(ErrNotMapped, "no region at 0x%x", start)
	}
	s.regions.Delete(v)

	s.ptl.Lock()
	defer s.ptl.Unlock()

	var errs *multierror.Error
	for addr := v.Start; addr < v.End; addr += migrate.PageSize {
		if err := s.drop(addr); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	log.Debug("%s: unmapped %s", s.name, v.Region)

	return errs.ErrorOrNil()
}

// SetLocked locks or unlocks the region at start. Pages of locked regions
// cannot be migrated.
func (s *Space) SetLocked(start uint64, locked bool) error {
	s.mmap.Lock()
	defer s.mmap.Unlock()

	v := s.findVMA(start)
	if v == nil || v.Start != start {
		return errors.Wrapf(ErrNotMapped, "no region at 0x%x", start)
	}
	v.locked = locked
	return nil
}

// Regions returns all regions in address order.
func (s *Space) Regions() []migrate.Region {
	s.mmap.RLock()
	defer s.mmap.RUnlock()

	regions := make([]migrate.Region, 0, s.regions.Len())
	s.regions.Ascend(func(v *vma) bool {
		regions = append(regions, v.Region)
		return true
	})
	return regions
}

// Write writes data at addr, faulting in pages as necessary.
func (s *Space) Write(addr uint64, data []byte) error {
	return s.access(addr, uint64(len(data)), true, func(pt *pte, mem []byte, off uint64) {
		copy(mem, data[off:])
		pt.gen++
	})
}

// Read reads n bytes at addr. Non-resident pages read as zeros.
func (s *Space) Read(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	err := s.access(addr, uint64(n), false, func(_ *pte, mem []byte, off uint64) {
		copy(buf[off:], mem)
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// access calls fn for every page overlapping [addr, addr+n) with the slice
// of the page and its offset within the accessed range.
func (s *Space) access(addr, n uint64, fault bool, fn func(*pte, []byte, uint64)) error {
	s.mmap.RLock()
	defer s.mmap.RUnlock()

	v := s.findVMA(addr)
	if v == nil || !v.Contains(addr, addr+n) {
		return errors.Wrapf(ErrNotMapped, "[0x%x-0x%x)", addr, addr+n)
	}

	s.ptl.Lock()
	defer s.ptl.Unlock()

	if s.closed {
		return errors.Wrapf(ErrClosed, "%s", s.name)
	}

	for off := uint64(0); off < n; {
		va := addr + off
		base := va &^ (migrate.PageSize - 1)
		inpage := va - base
		chunk := migrate.PageSize - inpage
		if chunk > n-off {
			chunk = n - off
		}

		pt, ok := s.ptes[base]
		if !ok && fault {
			var err error
			if pt, err = s.fault(base); err != nil {
				return err
			}
			ok = true
		}
		if ok {
			mem, err := s.mem.Bytes(pt.page)
			if err != nil {
				return errors.Wrapf(err, "%s: page at 0x%x", s.name, base)
			}
			fn(pt, mem[inpage:inpage+chunk], off)
		}

		off += chunk
	}

	return nil
}

// Pin faults in and pins the page at addr.
func (s *Space) Pin(addr uint64) error {
	return s.access(addr, 1, true, func(pt *pte, _ []byte, _ uint64) {
		pt.pinned++
	})
}

// Unpin unpins the page at addr.
func (s *Space) Unpin(addr uint64) error {
	s.mmap.RLock()
	defer s.mmap.RUnlock()
	s.ptl.Lock()
	defer s.ptl.Unlock()

	pt, ok := s.ptes[addr&^(migrate.PageSize-1)]
	if !ok || pt.pinned == 0 {
		return addrspaceError("%s: page at 0x%x not pinned", s.name, addr)
	}
	pt.pinned--
	return nil
}

// PageOf returns the physical page mapped at addr.
func (s *Space) PageOf(addr uint64) (migrate.Page, bool) {
	s.ptl.Lock()
	defer s.ptl.Unlock()

	if pt, ok := s.ptes[addr&^(migrate.PageSize-1)]; ok {
		return pt.page, true
	}
	return migrate.NilPage, false
}

// Residency returns the number of resident pages of r per pool.
func (s *Space) Residency(r migrate.Region) map[string]int {
	s.ptl.Lock()
	defer s.ptl.Unlock()

	residency := map[string]int{}
	for addr := r.Start; addr < r.End; addr += migrate.PageSize {
		pt, ok := s.ptes[addr]
		if !ok {
			continue
		}
		if p, ok := s.mem.Lookup(pt.page); ok {
			residency[p.Name()]++
		}
	}
	return residency
}

// Resident returns the addresses of all resident pages in ascending order.
func (s *Space) Resident() []uint64 {
	s.ptl.Lock()
	defer s.ptl.Unlock()

	addrs := make([]uint64, 0, len(s.ptes))
	for addr := range s.ptes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Close tears down the address space, releasing all of its pages.
// Migrations in progress fail their next submission.
func (s *Space) Close() error {
	s.ptl.Lock()
	if s.closed {
		s.ptl.Unlock()
		return nil
	}
	s.closed = true
	s.ptl.Unlock()

	s.mmap.Lock()
	defer s.mmap.Unlock()
	s.ptl.Lock()
	defer s.ptl.Unlock()

	var errs *multierror.Error
	for addr := range s.ptes {
		if err := s.drop(addr); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.regions.Clear(false)
	log.Info("%s: address space torn down", s.name)

	return errs.ErrorOrNil()
}

func (s *Space) isClosed() bool {
	s.ptl.Lock()
	defer s.ptl.Unlock()
	return s.closed
}

// fault allocates a page for addr, the caller holds the page table lock.
func (s *Space) fault(addr uint64) (*pte, error) {
	page, err := s.system.Allocate()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: page fault at 0x%x", s.name, addr)
	}
	pt := &pte{page: page}
	s.ptes[addr] = pt
	return pt, nil
}

// drop removes the page table entry for addr and releases its page, the
// caller holds the page table lock.
func (s *Space) drop(addr uint64) error {
	pt, ok := s.ptes[addr]
	if !ok {
		return nil
	}
	delete(s.ptes, addr)
	if err := s.mem.Release(pt.page); err != nil {
		return errors.Wrapf(err, "%s: releasing page at 0x%x", s.name, addr)
	}
	return nil
}
