// Copyright 2019-2022 Intel Corporation. All Rights Reserved.
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

// Package register pulls in all metrics collectors.
package register

import (
	// Pull in page pool usage collector.
	_ "github.com/intel/devmem-migrate/pkg/devmem"
	// Pull in migration statistics collector.
	_ "github.com/intel/devmem-migrate/pkg/migrate"
)
