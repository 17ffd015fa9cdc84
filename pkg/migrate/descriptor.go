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
	"fmt"
	"os"
	"strings"
)

// Page is an opaque handle to a physical page, its page frame number.
type Page uint64

// NilPage is the null page handle, a page not resident anywhere.
const NilPage Page = 0

var (
	// PageSize is the size of a normal page.
	PageSize = uint64(os.Getpagesize())
	// HugePageSize is the size of a huge page.
	HugePageSize = PageSize * 512
)

// SizeClass is the size of the page a Descriptor represents.
type SizeClass uint8

const (
	// SizeNormal is a normal page.
	SizeNormal SizeClass = iota
	// SizeHuge is a huge page.
	SizeHuge
)

// Bytes returns the size of the page in bytes.
func (s SizeClass) Bytes() uint64 {
	if s == SizeHuge {
		return HugePageSize
	}
	return PageSize
}

// String returns the size class as a string.
func (s SizeClass) String() string {
	if s == SizeHuge {
		return "huge"
	}
	return "normal"
}

// Flags are the migration flags of a Descriptor.
type Flags uint8

const (
	// FlagValid marks the page identity as meaningful.
	FlagValid Flags = 1 << iota
	// FlagLocked marks a destination page held exclusively by the Engine.
	FlagLocked
	// FlagMigrate marks a page approved for migration by the Coordinator.
	FlagMigrate
	// FlagHuge marks a page which is part of a huge mapping.
	FlagHuge
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagValid, "VALID"},
	{FlagLocked, "LOCKED"},
	{FlagMigrate, "MIGRATE"},
	{FlagHuge, "HUGE"},
}

// Has checks if all of the given flags are set.
func (f Flags) Has(flags Flags) bool {
	return f&flags == flags
}

// String returns the flags as a |-separated list.
func (f Flags) String() string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// State is the migration state of a single page.
type State uint8

const (
	// Unallocated means no destination page is held for the descriptor.
	Unallocated State = iota
	// AllocatedLocked means a destination page is allocated, filled and locked.
	AllocatedLocked
	// Committed means the destination page replaced the source page.
	Committed
	// Released means the page stays on its source, no destination is held.
	Released
	// Unsupported means the page was skipped, it is part of a huge mapping.
	Unsupported
)

var stateNames = map[State]string{
	Unallocated:     "unallocated",
	AllocatedLocked: "allocated-locked",
	Committed:       "committed",
	Released:        "released",
	Unsupported:     "unsupported",
}

// String returns the name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("<unknown state %d>", s)
}

// Terminal checks if no further transitions are possible from the state.
func (s State) Terminal() bool {
	return s == Committed || s == Released || s == Unsupported
}

// Descriptor describes one page of a batch.
type Descriptor struct {
	// Addr is the page-aligned virtual address of the page.
	Addr uint64
	// Page is the identity of the physical page, NilPage if none.
	Page Page
	// Size is the size class of the page.
	Size SizeClass
	// Flags are the migration flags of the page.
	Flags Flags
	// State is the migration state, only tracked for destinations.
	State State
}

// IsZero checks if the descriptor carries no page or flags.
func (d *Descriptor) IsZero() bool {
	return d.Page == NilPage && d.Flags == 0
}

// String returns a short description of the descriptor.
func (d Descriptor) String() string {
	return fmt.Sprintf("0x%x:pfn=0x%x,%s,%s,%s", d.Addr, uint64(d.Page), d.Size, d.Flags, d.State)
}

// Batch is a contiguous run of source and destination descriptor pairs.
type Batch struct {
	// Seq is the sequence number of the batch within its request.
	Seq int
	// Start is the virtual address of the first page.
	Start uint64
	// End is the virtual address right after the last page.
	End uint64
	// Src are the source descriptors, filled in by the Coordinator.
	Src []Descriptor
	// Dst are the destination descriptors, filled in by the Engine.
	// A destination the Engine could not allocate is left all-zero.
	Dst []Descriptor
}

// NewBatch creates a batch for [start, end) with source descriptors of the
// given size and zeroed destination descriptors.
func NewBatch(seq int, start, end uint64, size SizeClass) *Batch {
	n := int((end - start) / size.Bytes())
	b := &Batch{
		Seq:   seq,
		Start: start,
		End:   end,
		Src:   make([]Descriptor, n),
		Dst:   make([]Descriptor, n),
	}
	for i := range b.Src {
		b.Src[i].Addr = start + uint64(i)*size.Bytes()
		b.Src[i].Size = size
	}
	return b
}

// Len returns the number of descriptor pairs in the batch.
func (b *Batch) Len() int {
	return len(b.Src)
}

// String returns a short description of the batch.
func (b *Batch) String() string {
	return fmt.Sprintf("batch #%d [0x%x-0x%x) %d pages", b.Seq, b.Start, b.End, b.Len())
}
