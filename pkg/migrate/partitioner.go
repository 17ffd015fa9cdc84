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
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Observer is called with every finalized batch.
type Observer func(target string, b *Batch, t Tally)

// Partitioner migrates address ranges batch by batch.
type Partitioner struct {
	space     AddressSpace
	coord     Coordinator
	maxBatch  int
	stats     *Stats
	observers []Observer
}

// Option is an option for a Partitioner.
type Option func(*Partitioner)

// WithMaxBatch sets the maximum number of pages per batch.
func WithMaxBatch(n int) Option {
	return func(p *Partitioner) {
		p.maxBatch = n
	}
}

// WithStats sets the Stats requests and batches are recorded in.
func WithStats(s *Stats) Option {
	return func(p *Partitioner) {
		p.stats = s
	}
}

// WithObserver adds an Observer for finalized batches.
func WithObserver(o Observer) Option {
	return func(p *Partitioner) {
		p.observers = append(p.observers, o)
	}
}

// NewPartitioner creates a Partitioner for the given address space.
func NewPartitioner(space AddressSpace, coord Coordinator, options ...Option) *Partitioner {
	p := &Partitioner{
		space: space,
		coord: coord,
		stats: stats,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// MaxBatch returns the maximum number of pages per batch.
func (p *Partitioner) MaxBatch() int {
	if p.maxBatch > 0 {
		return p.maxBatch
	}
	if opt.MaxBatch > 0 {
		return opt.MaxBatch
	}
	return DefaultMaxBatch
}

// Migrate migrates npages pages starting at addr using ops. The range must
// lie within a single region, otherwise ErrInvalidRange is returned and no
// page is touched. The range is migrated in batches in ascending address
// order. The first batch which cannot be submitted stops the migration with
// ErrBatchSubmissionFailed, leaving earlier batches migrated. Cancelling ctx
// stops the migration the same way with the context error. The shared
// mapping lock of the address space is held throughout.
func (p *Partitioner) Migrate(ctx context.Context, ops Ops, addr uint64, npages int) error {
	target := targetName(ops)

	ctx, span := trace.StartSpan(ctx, "migrate.Range")
	defer span.End()
	span.AddAttributes(
		trace.StringAttribute("target", target),
		trace.Int64Attribute("address", int64(addr)),
		trace.Int64Attribute("pages", int64(npages)),
	)

	start := time.Now()
	batches, err := p.migrate(ctx, target, ops, addr, npages)

	result := resultOf(err)
	p.stats.Store(StatsRequest{
		Target:   target,
		Pages:    npages,
		Batches:  batches,
		Result:   result,
		Duration: time.Since(start),
	})

	if err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeAborted, Message: err.Error()})
		log.Error("%s: migration of 0x%x (%d pages) failed after %d batches: %v",
			target, addr, npages, batches, err)
		return err
	}

	log.Debug("%s: migrated 0x%x (%d pages) in %d batches", target, addr, npages, batches)
	return nil
}

func (p *Partitioner) migrate(ctx context.Context, target string, ops Ops, addr uint64, npages int) (int, error) {
	p.space.RLock()
	defer p.space.RUnlock()

	region, end, err := p.validate(addr, npages)
	if err != nil {
		return 0, err
	}

	size := region.SizeClass()
	span := uint64(p.MaxBatch()) * size.Bytes()

	seq := 0
	for next := addr; addr < end; addr = next {
		if err := ctx.Err(); err != nil {
			return seq, errors.Wrapf(err, "migration of [0x%x-0x%x) aborted", addr, end)
		}

		next = end
		if end-addr > span {
			next = addr + span
		}

		b := NewBatch(seq, addr, next, size)
		if err := p.migrateBatch(ctx, target, ops, region, b); err != nil {
			return seq, err
		}
		seq++
	}

	return seq, nil
}

// validate checks that [addr, addr+npages*PageSize) lies within one region.
func (p *Partitioner) validate(addr uint64, npages int) (Region, uint64, error) {
	if npages <= 0 {
		return Region{}, 0, errors.Wrapf(ErrInvalidRange, "invalid page count %d", npages)
	}
	if addr%PageSize != 0 {
		return Region{}, 0, errors.Wrapf(ErrInvalidRange, "unaligned address 0x%x", addr)
	}

	length := uint64(npages) * PageSize
	end := addr + length
	if end < addr || length/PageSize != uint64(npages) {
		return Region{}, 0, errors.Wrapf(ErrInvalidRange, "range 0x%x+%d pages overflows", addr, npages)
	}

	region, ok := p.space.FindRegion(addr)
	if !ok || !region.Contains(addr, end) {
		return Region{}, 0, errors.Wrapf(ErrInvalidRange,
			"[0x%x-0x%x) is not within a single region", addr, end)
	}

	if region.Huge && (addr%HugePageSize != 0 || end%HugePageSize != 0) {
		return Region{}, 0, errors.Wrapf(ErrInvalidRange,
			"[0x%x-0x%x) splits a huge page in region %s", addr, end, region)
	}

	return region, end, nil
}

// migrateBatch runs the two-phase protocol for a single batch.
func (p *Partitioner) migrateBatch(ctx context.Context, target string, ops Ops, region Region, b *Batch) error {
	ctx, span := trace.StartSpan(ctx, "migrate.Batch")
	defer span.End()
	span.AddAttributes(
		trace.Int64Attribute("seq", int64(b.Seq)),
		trace.Int64Attribute("pages", int64(b.Len())),
	)
	start := time.Now()

	if err := p.coord.Collect(ctx, region, b); err != nil {
		return batchError(ctx, b, "collect", err)
	}

	if err := ops.AllocateAndCopy(b.Src, b.Dst); err != nil {
		p.discard(ops, b)
		return errors.Wrapf(ErrBatchSubmissionFailed, "%s: %v", b, err)
	}

	decision, err := p.coord.Submit(ctx, b)
	switch {
	case err != nil:
		p.discard(ops, b)
		return batchError(ctx, b, "submit", err)
	case decision == nil:
		p.discard(ops, b)
		return errors.Wrapf(ErrBatchSubmissionFailed, "%s: no decision batch", b)
	case decision.Len() != b.Len() || len(decision.Dst) != b.Len():
		// Mappings of the decision may already be published.
		log.Error("%s: %s: malformed decision batch, leaving destinations in place", target, b)
		return errors.Wrapf(ErrBatchSubmissionFailed, "%s: malformed decision batch", b)
	}

	tally := TallyBatch(decision)

	if err := ops.FinalizeAndMap(decision.Src, decision.Dst); err != nil {
		log.Error("%s: %s: finalize: %v", target, b, err)
	}

	span.AddAttributes(
		trace.Int64Attribute("migrated", int64(tally.Migrated)),
		trace.Int64Attribute("rejected", int64(tally.Rejected)),
		trace.Int64Attribute("exhausted", int64(tally.Exhausted)),
	)
	log.Debug("%s: %s: %s", target, b, tally)

	recordBatch(ctx, target, time.Since(start), tally)
	p.stats.Store(StatsBatch{Target: target, Tally: tally})
	for _, o := range p.observers {
		o(target, decision, tally)
	}

	return nil
}

// batchError wraps a Coordinator failure of a batch. Failures caused by
// cancellation of ctx abort the migration instead of failing submission.
func batchError(ctx context.Context, b *Batch, phase string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return errors.Wrapf(cerr, "%s: %s aborted: %v", b, phase, err)
	}
	return errors.Wrapf(ErrBatchSubmissionFailed, "%s: %s: %v", b, phase, err)
}

// discard releases all destinations of a batch which did not get submitted.
func (p *Partitioner) discard(ops Ops, b *Batch) {
	for i := range b.Src {
		b.Src[i].Flags &^= FlagMigrate
	}
	if err := ops.FinalizeAndMap(b.Src, b.Dst); err != nil {
		log.Error("%s: failed to release destinations: %v", b, err)
	}
}

// targetName returns the name of the migration target implementing ops.
func targetName(ops Ops) string {
	if n, ok := ops.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "<unnamed>"
}

// resultOf maps a request error to its recorded Result.
func resultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOk
	case errors.Is(err, ErrInvalidRange):
		return ResultInvalidRange
	case errors.Is(err, ErrBatchSubmissionFailed):
		return ResultSubmissionFailed
	}
	return ResultAborted
}
