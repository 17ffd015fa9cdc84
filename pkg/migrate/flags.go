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
	"github.com/intel/devmem-migrate/pkg/config"
)

const (
	// ConfigPath is the configuration path for migration.
	ConfigPath = "migrate"
	// DefaultMaxBatch is the default number of pages migrated per batch.
	DefaultMaxBatch = 64
	// maxMaxBatch is the largest accepted batch size.
	maxMaxBatch = 4096
)

// options captures our configurable parameters.
type options struct {
	// MaxBatch is the maximum number of pages in a batch.
	MaxBatch int
}

// Our runtime configuration.
var opt = &options{}

// Reset resets options to their defaults.
func (o *options) Reset() {
	o.MaxBatch = DefaultMaxBatch
}

// Describe returns help for the options.
func (*options) Describe() string {
	return `Batched page migration.

  migrate:
    MaxBatch: 64    # maximum number of pages migrated per batch`
}

// Validate checks the options.
func (o *options) Validate() error {
	if o.MaxBatch < 1 || o.MaxBatch > maxMaxBatch {
		return migrateError("invalid MaxBatch %d, expecting 1 - %d", o.MaxBatch, maxMaxBatch)
	}
	return nil
}

// Register us for configuration handling.
func init() {
	if err := config.Register(ConfigPath, opt); err != nil {
		log.Error("failed to register configuration: %v", err)
	}
}
