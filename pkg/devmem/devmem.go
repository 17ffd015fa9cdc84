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

// Package devmem implements page pools for system and coherent device memory.
//
// A Pool manages a contiguous range of page frame numbers (PFNs) backed by
// an anonymous memory arena. PhysMem is the physical memory map: it keeps
// every pool ordered by its base PFN, resolves PFNs to pools and copies
// page content between them.
package devmem

import (
	"fmt"

	"github.com/pkg/errors"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

// Kind is the kind of memory a Pool provides.
type Kind int

const (
	// System is ordinary system memory.
	System Kind = iota
	// Device is coherent device memory.
	Device
)

var (
	// ErrExhausted is returned when a pool has no free pages left.
	ErrExhausted = errors.New("page pool exhausted")
	// ErrNotAllocated is returned when releasing or accessing a free page.
	ErrNotAllocated = errors.New("page not allocated")
	// ErrNoPage is returned for PFNs outside of any known pool.
	ErrNoPage = errors.New("no such page")
)

// Our logger instance.
var log = logger.NewLogger("devmem")

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case System:
		return "system"
	case Device:
		return "device"
	}
	return fmt.Sprintf("<unknown memory kind %d>", int(k))
}

// devmemError returns a package-specific formatted error.
func devmemError(format string, args ...interface{}) error {
	return fmt.Errorf("devmem: "+format, args...)
}
