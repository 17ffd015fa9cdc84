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
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/devmem-migrate/pkg/devmem"
	"github.com/intel/devmem-migrate/pkg/migrate"
)

// MaxDevices is the maximum number of devices in a Registry.
const MaxDevices = 6

// Device is a coherent device memory device.
type Device struct {
	index      int
	name       string
	compatible string
	start      uint64
	size       uint64
	pool       *devmem.Pool
	engine     *migrate.Engine
}

// Index returns the index of the device.
func (d *Device) Index() int {
	return d.index
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// Compatible returns the compatible string the device was probed with.
func (d *Device) Compatible() string {
	return d.compatible
}

// Pool returns the page pool of the device.
func (d *Device) Pool() *devmem.Pool {
	return d.pool
}

// Ops returns the migration operations of the device.
func (d *Device) Ops() migrate.Ops {
	return d.engine
}

// String returns a short description of the device.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) [0x%x-0x%x)", d.name, d.compatible, d.start, d.start+d.size)
}

// Registry is the set of probed devices.
type Registry struct {
	sync.Mutex
	mem     *devmem.PhysMem
	devices [MaxDevices]*Device
	count   int
}

// NewRegistry creates an empty device registry for the memory map.
func NewRegistry(mem *devmem.PhysMem) *Registry {
	return &Registry{mem: mem}
}

// Probe creates and registers a device. Unsupported devices and devices
// beyond MaxDevices are ignored, in which case no Device is returned.
func (r *Registry) Probe(cfg DeviceConfig) (*Device, error) {
	if !cfg.Supported() {
		log.Info("ignoring device with unsupported compatible %q", cfg.Compatible)
		return nil, nil
	}

	start, size, err := cfg.Parse()
	if err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	if r.count >= MaxDevices {
		log.Info("ignoring %s device at 0x%x, all %d device slots in use",
			cfg.Compatible, start, MaxDevices)
		return nil, nil
	}

	name := DevicePrefix + strconv.Itoa(r.count)
	pool, err := devmem.NewPool(name, devmem.Device, start, size)
	if err != nil {
		return nil, cdmError("failed to probe %s: %v", name, err)
	}
	if err := r.mem.Add(pool); err != nil {
		pool.Close()
		return nil, cdmError("failed to probe %s: %v", name, err)
	}

	dev := &Device{
		index:      r.count,
		name:       name,
		compatible: cfg.Compatible,
		start:      start,
		size:       size,
		pool:       pool,
		engine:     migrate.NewEngine(name, pool, r.mem),
	}
	r.devices[r.count] = dev
	r.count++

	log.Info("probed device %s", dev)

	return dev, nil
}

// ProbeAll probes all devices. If any of them fails, every registered
// device is removed.
func (r *Registry) ProbeAll(cfgs []DeviceConfig) error {
	for i, cfg := range cfgs {
		if _, err := r.Probe(cfg); err != nil {
			err = errors.Wrapf(err, "device #%d", i)
			if rmErr := r.RemoveAll(); rmErr != nil {
				return multierror.Append(err, rmErr)
			}
			return err
		}
	}
	return nil
}

// Get returns the device with the given index.
func (r *Registry) Get(index int) (*Device, error) {
	r.Lock()
	defer r.Unlock()

	if index < 0 || index >= r.count {
		return nil, errors.Wrapf(ErrNoDevice, "%s%d", DevicePrefix, index)
	}
	return r.devices[index], nil
}

// Devices returns all registered devices in index order.
func (r *Registry) Devices() []*Device {
	r.Lock()
	defer r.Unlock()

	devices := make([]*Device, r.count)
	copy(devices, r.devices[:r.count])
	return devices
}

// RemoveAll removes and closes all devices.
func (r *Registry) RemoveAll() error {
	r.Lock()
	defer r.Unlock()

	var errs *multierror.Error
	for i := r.count - 1; i >= 0; i-- {
		dev := r.devices[i]
		r.devices[i] = nil
		r.mem.Remove(dev.pool)
		if used := dev.pool.Used(); used > 0 {
			log.Warn("removing %s with %d pages in use", dev.name, used)
		}
		if err := dev.pool.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "%s", dev.name))
		}
		log.Info("removed device %s", dev.name)
	}
	r.count = 0

	return errs.ErrorOrNil()
}
