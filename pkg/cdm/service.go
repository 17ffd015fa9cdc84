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
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/devmem-migrate/pkg/addrspace"
	"github.com/intel/devmem-migrate/pkg/devmem"
	"github.com/intel/devmem-migrate/pkg/migrate"
)

// Service migrates address ranges between system memory and devices.
type Service struct {
	mem      *devmem.PhysMem
	system   *devmem.Pool
	registry *Registry
	space    *addrspace.Space
	engine   *migrate.Engine
	options  []migrate.Option
}

// NewService creates a service with system memory, devices and address
// space set up according to the active configuration.
func NewService(options ...migrate.Option) (*Service, error) {
	start, size, err := opt.System.Parse()
	if err != nil {
		return nil, err
	}

	mem := devmem.NewPhysMem()
	system, err := devmem.NewPool(SystemName, devmem.System, start, size)
	if err != nil {
		return nil, cdmError("failed to create system memory: %v", err)
	}
	if err := mem.Add(system); err != nil {
		system.Close()
		return nil, cdmError("failed to add system memory: %v", err)
	}

	registry := NewRegistry(mem)
	if err := registry.ProbeAll(opt.Devices); err != nil {
		mem.Close()
		return nil, err
	}

	return &Service{
		mem:      mem,
		system:   system,
		registry: registry,
		space:    addrspace.NewSpace("default", mem, system),
		engine:   migrate.NewEngine(SystemName, system, mem),
		options:  options,
	}, nil
}

// Memory returns the physical memory map of the service.
func (s *Service) Memory() *devmem.PhysMem {
	return s.mem
}

// System returns the system memory pool.
func (s *Service) System() *devmem.Pool {
	return s.system
}

// Registry returns the device registry of the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Space returns the address space of the service.
func (s *Service) Space() *addrspace.Space {
	return s.space
}

// Migrate migrates npages pages at addr to the device with the given index.
func (s *Service) Migrate(ctx context.Context, device int, addr uint64, npages int) error {
	dev, err := s.registry.Get(device)
	if err != nil {
		return err
	}
	return s.migrate(ctx, dev.Pool(), dev.Ops(), addr, npages)
}

// MigrateBack migrates npages pages at addr back to system memory.
func (s *Service) MigrateBack(ctx context.Context, addr uint64, npages int) error {
	return s.migrate(ctx, s.system, s.engine, addr, npages)
}

func (s *Service) migrate(ctx context.Context, target *devmem.Pool, ops migrate.Ops, addr uint64, npages int) error {
	coord := addrspace.NewCoordinator(s.space, target)
	return migrate.NewPartitioner(s.space, coord, s.options...).Migrate(ctx, ops, addr, npages)
}

// Close tears down the address space, the devices and system memory.
func (s *Service) Close() error {
	var errs *multierror.Error
	if err := s.space.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.registry.RemoveAll(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.mem.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
