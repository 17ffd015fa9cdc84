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

package cdm

import (
	"strings"

	"github.com/intel/devmem-migrate/pkg/config"
	"github.com/intel/devmem-migrate/pkg/migrate"
	"github.com/intel/devmem-migrate/pkg/utils"
)

const (
	// ConfigPath is the configuration path for devices.
	ConfigPath = "cdm"

	// CompatibleCDM is the compatible string of coherent device memory.
	CompatibleCDM = "ibm,coherent-device-memory"
	// CompatibleVolatile is the compatible string of volatile nvdimm regions.
	CompatibleVolatile = "nvdimm-volatile"
	// CompatiblePersistent is the compatible string of persistent nvdimm regions.
	CompatiblePersistent = "nvdimm-persistent"

	defaultSystemStart = "0x100000000"
	defaultSystemSize  = "256M"
	defaultDeviceStart = "0x200000000"
	defaultDeviceSize  = "64M"
)

// MemoryConfig describes a physical memory range.
type MemoryConfig struct {
	// Start is the physical start address of the range.
	Start string
	// Size is the size of the range, with an optional k, M, G or T suffix.
	Size string
}

// DeviceConfig describes a device.
type DeviceConfig struct {
	// Compatible identifies the kind of the device.
	Compatible string
	MemoryConfig
}

// options captures our configurable parameters.
type options struct {
	// System is the system memory range.
	System MemoryConfig
	// Devices are the devices to probe, in order.
	Devices []DeviceConfig
}

// Our runtime configuration.
var opt = &options{}

// Reset resets options to their defaults.
func (o *options) Reset() {
	o.System = MemoryConfig{Start: defaultSystemStart, Size: defaultSystemSize}
	o.Devices = []DeviceConfig{
		{
			Compatible:   CompatibleCDM,
			MemoryConfig: MemoryConfig{Start: defaultDeviceStart, Size: defaultDeviceSize},
		},
	}
}

// Describe returns help for the options.
func (*options) Describe() string {
	return `Coherent device memory.

  cdm:
    System:
      Start: "0x100000000"  # physical start address of system memory
      Size: 256M            # size of system memory
    Devices:                # devices, probed in this order
      - Compatible: ibm,coherent-device-memory
        Start: "0x200000000"
        Size: 64M

  Devices with a compatible string other than ibm,coherent-device-memory,
  nvdimm-volatile or nvdimm-persistent are ignored.`
}

// Validate checks the options.
func (o *options) Validate() error {
	if _, _, err := o.System.Parse(); err != nil {
		return cdmError("invalid system memory: %v", err)
	}
	for i, dev := range o.Devices {
		if _, _, err := dev.Parse(); err != nil {
			return cdmError("invalid device #%d (%s): %v", i, dev.Compatible, err)
		}
	}
	return nil
}

// Parse parses the start address and size of the range.
func (m MemoryConfig) Parse() (uint64, uint64, error) {
	start, err := utils.ParseUint(strings.TrimSpace(m.Start))
	if err != nil {
		return 0, 0, cdmError("invalid start address %q: %v", m.Start, err)
	}
	size, err := utils.ParseBytes(strings.TrimSpace(m.Size))
	if err != nil {
		return 0, 0, cdmError("invalid size %q: %v", m.Size, err)
	}
	if size == 0 || uint64(size)%migrate.PageSize != 0 {
		return 0, 0, cdmError("size %q is not a positive multiple of page size", m.Size)
	}
	return start, uint64(size), nil
}

// Supported checks if the device is a kind of memory we can drive.
func (d DeviceConfig) Supported() bool {
	switch d.Compatible {
	case CompatibleCDM, CompatibleVolatile, CompatiblePersistent:
		return true
	}
	return false
}

// Register us for configuration handling.
func init() {
	if err := config.Register(ConfigPath, opt); err != nil {
		log.Error("failed to register configuration: %v", err)
	}
}
