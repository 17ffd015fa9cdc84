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

// Package migrate implements batched migration of virtual address ranges
// between page pools.
//
// A Partitioner validates that a requested range lies within one mapped
// region, splits it into batches of at most MaxBatch pages and migrates the
// batches one by one, in ascending address order. Each batch goes through a
// two-phase protocol:
//
//  1. The Coordinator collects the source pages of the batch.
//  2. Ops.AllocateAndCopy allocates and fills a locked destination page
//     for every source page.
//  3. The Coordinator accepts or rejects each page and publishes the
//     mappings of the accepted ones (Submit).
//  4. Ops.FinalizeAndMap commits accepted destinations and releases the
//     rest back to the destination pool.
//
// Per-page failures (pool exhaustion, rejection) leave the page on its
// source and do not fail the request.
package migrate

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

var (
	// ErrInvalidRange is returned for ranges not contained in a single region.
	ErrInvalidRange = errors.New("invalid range")
	// ErrBatchSubmissionFailed is returned when a batch cannot be submitted.
	ErrBatchSubmissionFailed = errors.New("batch submission failed")
	// ErrAllocationExhausted is the outcome of a page with no destination page.
	ErrAllocationExhausted = errors.New("destination allocation exhausted")
	// ErrCoordinatorRejected is the outcome of a page the Coordinator rejected.
	ErrCoordinatorRejected = errors.New("rejected by coordinator")
	// ErrUnsupported is the outcome of a page in a huge mapping.
	ErrUnsupported = errors.New("huge page migration not supported")
)

// Region is a mapped virtual address region.
type Region struct {
	// Name is an optional name for the region.
	Name string
	// Start is the first address of the region.
	Start uint64
	// End is the address right after the region.
	End uint64
	// Huge is true if the region is mapped with huge pages.
	Huge bool
}

// Contains checks if [start, end) lies within the region.
func (r Region) Contains(start, end uint64) bool {
	return r.Start <= start && start <= end && end <= r.End
}

// SizeClass returns the size class of the pages in the region.
func (r Region) SizeClass() SizeClass {
	if r.Huge {
		return SizeHuge
	}
	return SizeNormal
}

// String returns a short description of the region.
func (r Region) String() string {
	kind := ""
	if r.Huge {
		kind = " huge"
	}
	return fmt.Sprintf("%s[0x%x-0x%x)%s", r.Name, r.Start, r.End, kind)
}

// AddressSpace is the owner of the regions we migrate.
type AddressSpace interface {
	// RLock takes the shared mapping lock of the address space.
	RLock()
	// RUnlock releases the shared mapping lock.
	RUnlock()
	// FindRegion returns the region containing addr.
	FindRegion(addr uint64) (Region, bool)
}

// PageAllocator allocates pages from a pool.
type PageAllocator interface {
	// Allocate allocates a single zeroed page.
	Allocate() (Page, error)
	// Release returns a page to the pool.
	Release(Page) error
}

// Copier copies page content.
type Copier interface {
	// Copy copies the full content of src to dst.
	Copy(dst, src Page) error
}

// Coordinator decides which pages of a batch get migrated.
type Coordinator interface {
	// Collect fills in the source descriptors of the batch. Pages which
	// can be migrated are marked with FlagMigrate.
	Collect(ctx context.Context, region Region, b *Batch) error
	// Submit runs the acceptance pass for the batch, clearing FlagMigrate
	// for every rejected page, publishes the mappings of accepted pages
	// and returns the resulting decision batch. A Submit returning an
	// error must not have published any mapping. Once a decision batch is
	// returned its mappings may be live, so a decision which does not
	// match the batch fails the batch with its destinations left in place.
	Submit(ctx context.Context, b *Batch) (*Batch, error)
}

// Ops are the operations of the two-phase migration protocol.
type Ops interface {
	// AllocateAndCopy fills dst with freshly allocated copies of src.
	AllocateAndCopy(src, dst []Descriptor) error
	// FinalizeAndMap commits or releases dst according to src.
	FinalizeAndMap(src, dst []Descriptor) error
}

// Outcome returns the per-page outcome of a submitted descriptor pair,
// nil if the page gets migrated.
func Outcome(src, dst *Descriptor) error {
	switch dst.State {
	case Unsupported:
		return ErrUnsupported
	case Unallocated:
		return ErrAllocationExhausted
	case AllocatedLocked:
		if !src.Flags.Has(FlagMigrate) {
			return ErrCoordinatorRejected
		}
		return nil
	case Committed:
		return nil
	}
	return ErrCoordinatorRejected
}

// Our logger instance.
var log = logger.NewLogger("migrate")

// migrateError returns a package-specific formatted error.
func migrateError(format string, args ...interface{}) error {
	return fmt.Errorf("migrate: "+format, args...)
}
