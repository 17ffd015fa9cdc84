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

// Package cdm implements coherent device memory devices and the migration
// service on top of them.
//
// Devices are described in the configuration, the way a device tree would
// describe them to a driver. Every device gets a page pool of its own in
// the physical memory map. The Service migrates address ranges of an
// address space to a device, or back to system memory.
package cdm

import (
	"fmt"

	"github.com/pkg/errors"

	logger "github.com/intel/devmem-migrate/pkg/log"
)

const (
	// DevicePrefix is the name prefix of coherent device memory devices.
	DevicePrefix = "cdm"
	// SystemName is the name of the system memory pool.
	SystemName = "system"
)

var (
	// ErrNoDevice is returned for requests to a nonexistent device.
	ErrNoDevice = errors.New("no such device")
)

// Our logger instance.
var log = logger.NewLogger("cdm")

// cdmError returns a package-specific formatted error.
func cdmError(format string, args ...interface{}) error {
	return fmt.Errorf("cdm: "+format, args...)
}
