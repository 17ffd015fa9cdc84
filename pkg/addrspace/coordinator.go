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
	"context"

	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/devmem"
	"github.com/intel/devmem-migrate/pkg/migrate"
)

// Coordinator approves or rejects the pages of a Space migrated to a
// target pool, and switches the mappings of approved pages.
type Coordinator struct {
	space   *Space
	target  *devmem.Pool
	pending map[*migrate.Batch][]snapshot
}

// snapshot is the state of a page table entry at collection time.
type snapshot struct {
	present bool
	page    migrate.Page
	gen     uint64
}

var _ migrate.Coordinator = &Coordinator{}

// NewCoordinator creates a Coordinator for migrating pages of space to target.
func NewCoordinator(space *Space, target *devmem.Pool) *Coordinator {
	return &Coordinator{
		space:   space,
		target:  target,
		pending: make(map[*migrate.Batch][]snapshot),
	}
}

// Collect fills in the source descriptors of a batch and marks every page
// as requested for migration.
func (c *Coordinator) Collect(ctx context.Context, r migrate.Region, b *migrate.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.space
	s.ptl.Lock()
	defer s.ptl.Unlock()

	if s.closed {
		return errors.Wrapf(ErrClosed, "%s", s.name)
	}

	snap := make([]snapshot, b.Len())
	for i := range b.Src {
		src := &b.Src[i]
		if r.Huge {
			src.Flags |= migrate.FlagHuge
		}
		if pt, ok := s.ptes[src.Addr]; ok {
			src.Page = pt.page
			src.Flags |= migrate.FlagValid
			snap[i] = snapshot{present: true, page: pt.page, gen: pt.gen}
		}
		src.Flags |= migrate.FlagMigrate
	}
	c.pending[b] = snap

	return nil
}

// Submit decides the fate of every page of a collected batch. Rejected
// pages have FlagMigrate cleared. Approved pages get mapped to their
// destination page and their source page is released.
func (c *Coordinator) Submit(ctx context.Context, b *migrate.Batch) (*migrate.Batch, error) {
	s := c.space
	s.ptl.Lock()
	defer s.ptl.Unlock()

	snap, ok := c.pending[b]
	delete(c.pending, b)

	switch {
	case !ok:
		return nil, addrspaceError("%s: %s was never collected", s.name, b)
	case s.closed:
		return nil, errors.Wrapf(ErrClosed, "%s", s.name)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	v := s.findVMA(b.Start)
	if v == nil || !v.Contains(b.Start, b.End) {
		return nil, errors.Wrapf(ErrNotMapped, "%s: %s", s.name, b)
	}

	approved := 0
	for i := range b.Src {
		src, dst := &b.Src[i], &b.Dst[i]

		if reason := c.check(v, src, dst, snap[i]); reason != "" {
			if src.Flags.Has(migrate.FlagMigrate) {
				log.Debug("%s: page at 0x%x rejected: %s", s.name, src.Addr, reason)
			}
			src.Flags &^= migrate.FlagMigrate
			continue
		}

		pt, ok := s.ptes[src.Addr]
		if !ok {
			pt = &pte{}
			s.ptes[src.Addr] = pt
		}
		old := pt.page
		pt.page = dst.Page

		if old != migrate.NilPage {
			if err := s.mem.Release(old); err != nil {
				log.Error("%s: failed to release migrated page 0x%x: %v", s.name, uint64(old), err)
			}
		}
		approved++
	}

	log.Debug("%s: %s: %d pages approved for %s", s.name, b, approved, c.target.Name())

	return b, nil
}

// check returns why a page cannot be migrated, or "" if it can.
func (c *Coordinator) check(v *vma, src, dst *migrate.Descriptor, snap snapshot) string {
	pt, present := c.space.ptes[src.Addr]

	switch {
	case !src.Flags.Has(migrate.FlagMigrate):
		return "not requested"
	case dst.State != migrate.AllocatedLocked || !dst.Flags.Has(migrate.FlagValid):
		return "no destination page"
	case v.locked:
		return "region locked"
	case present != snap.present:
		return "mapping changed"
	case present && (pt.page != snap.page || pt.gen != snap.gen):
		return "written during migration"
	case present && pt.pinned > 0:
		return "page pinned"
	case present && c.target.Contains(pt.page):
		return "already on target"
	}

	return ""
}

// Target returns the target pool of the Coordinator.
func (c *Coordinator) Target() *devmem.Pool {
	return c.target
}
