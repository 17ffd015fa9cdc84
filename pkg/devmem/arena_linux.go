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
	"golang.org/x/sys/unix"
)

// mapArena maps an anonymous private arena of the given size. If mmap
// fails the arena falls back to Go heap memory.
func mapArena(size uint64) ([]byte, bool) {
	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		log.Warn("mmap of %d bytes failed (%v), using heap arena", size, err)
		return make([]byte, size), false
	}
	return mem, true
}

// unmapArena releases an arena returned by mapArena.
func unmapArena(mem []byte, mapped bool) error {
	if !mapped {
		return nil
	}
	return unix.Munmap(mem)
}

// discardPage tells the kernel it can drop the content of a freed page.
func discardPage(mem []byte, mapped bool) {
	if !mapped {
		return
	}
	if err := unix.Madvise(mem, unix.MADV_DONTNEED); err != nil {
		log.Debug("madvise(MADV_DONTNEED) failed: %v", err)
	}
}
