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
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

// Engine implements Ops for a destination page pool.
type Engine struct {
	name   string
	alloc  PageAllocator
	copier Copier
	warn   logger.Logger
}

var _ Ops = &Engine{}

// NewEngine creates an Engine allocating destination pages from alloc.
func NewEngine(name string, alloc PageAllocator, copier Copier) *Engine {
	return &Engine{
		name:   name,
		alloc:  alloc,
		copier: copier,
		warn:   logger.RateLimit(log, logger.Interval(10*time.Second)),
	}
}

// Name returns the name of the destination of this Engine.
func (e *Engine) Name() string {
	return e.name
}

// AllocateAndCopy allocates a destination page for every source page and
// copies the source content into it. Destinations for pages in huge mappings
// only get FlagHuge and end up Unsupported. Destinations which could not be
// allocated or filled are left all-zero.
func (e *Engine) AllocateAndCopy(src, dst []Descriptor) error {
	if len(src) != len(dst) {
		return migrateError("%s: descriptor count mismatch (%d source, %d destination)",
			e.name, len(src), len(dst))
	}

	for i := range src {
		s, d := &src[i], &dst[i]

		if d.State != Unallocated || d.Page != NilPage {
			return migrateError("%s: destination descriptor %s already in use", e.name, d)
		}

		if s.Flags.Has(FlagHuge) || s.Size == SizeHuge {
			*d = Descriptor{
				Addr:  s.Addr,
				Size:  s.Size,
				Flags: s.Flags & FlagHuge,
				State: Unsupported,
			}
			continue
		}

		*d = Descriptor{}

		page, err := e.alloc.Allocate()
		if err != nil {
			e.warn.Warn("%s: failed to allocate destination page: %v", e.name, err)
			continue
		}

		if s.Page != NilPage {
			if err := e.copier.Copy(page, s.Page); err != nil {
				log.Error("%s: failed to copy page 0x%x to 0x%x: %v",
					e.name, uint64(s.Page), uint64(page), err)
				if err := e.alloc.Release(page); err != nil {
					log.Error("%s: failed to release page 0x%x: %v", e.name, uint64(page), err)
				}
				continue
			}
		}

		*d = Descriptor{
			Addr:  s.Addr,
			Page:  page,
			Size:  s.Size,
			Flags: FlagValid | FlagLocked,
			State: AllocatedLocked,
		}
	}

	return nil
}

// FinalizeAndMap commits every locked destination whose source has
// FlagMigrate set and releases every other locked destination back to the
// pool. Descriptors already finalized are left alone, so applying it more
// than once is harmless.
func (e *Engine) FinalizeAndMap(src, dst []Descriptor) error {
	if len(src) != len(dst) {
		return migrateError("%s: descriptor count mismatch (%d source, %d destination)",
			e.name, len(src), len(dst))
	}

	var errs *multierror.Error
	for i := range src {
		s, d := &src[i], &dst[i]

		if d.State != AllocatedLocked {
			continue
		}

		if s.Flags.Has(FlagMigrate) {
			d.Flags &^= FlagLocked
			d.State = Committed
			continue
		}

		if err := e.alloc.Release(d.Page); err != nil {
			errs = multierror.Append(errs,
				migrateError("%s: failed to release page 0x%x: %v", e.name, uint64(d.Page), err))
		}
		*d = Descriptor{
			Addr:  d.Addr,
			Size:  d.Size,
			State: Released,
		}
	}

	return errs.ErrorOrNil()
}
