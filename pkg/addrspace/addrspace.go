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

// Package addrspace implements a process address space backed by devmem
// page pools, and the migration coordinator for it.
//
// A Space is a set of non-overlapping regions and a page table mapping
// page-aligned virtual addresses to physical pages. Pages are faulted in
// from the system pool on first write. The mapping lock of the Space is
// the lock migrate.Partitioner holds in shared mode for the duration of a
// migration request; mapping and unmapping regions take it exclusively.
package addrspace

import (
	"fmt"

	"github.com/pkg/errors"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

var (
	// ErrClosed is returned for operations on a torn down address space.
	ErrClosed = errors.New("address space torn down")
	// ErrNotMapped is returned for accesses outside any region.
	ErrNotMapped = errors.New("address not mapped")
	// ErrOverlap is returned when mapping over an existing region.
	ErrOverlap = errors.New("region overlaps existing mapping")
)

// Our logger instance.
var log = logger.NewLogger("addrspace")

// addrspaceError returns a package-specific formatted error.
func addrspaceError(format string, args ...interface{}) error {
	return fmt.Errorf("addrspace: "+format, args...)
}
