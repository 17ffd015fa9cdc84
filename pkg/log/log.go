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

package log

import (
	"fmt"
	"strings"
	"sync"
)

// logging is the runtime state of all loggers and backends.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	active  Backend              // active backend
	name    string               // name of the active backend
	backend map[string]BackendFn // registered backends
	loggers map[string]logger    // source to logger mapping
	sources map[logger]string    // logger to source mapping
	configs map[logger]config    // per-logger configuration
	forced  bool                 // forced full debugging
	align   int                  // longest enabled source name
}

// log is our runtime logging state.
var log = &logging{
	level:   DefaultLevel,
	active:  createFmtBackend(),
	name:    FmtBackendName,
	backend: map[string]BackendFn{FmtBackendName: createFmtBackend},
	loggers: make(map[string]logger),
	sources: make(map[logger]string),
	configs: make(map[logger]config),
}

// Get returns the logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity level that is not suppressed.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.setLevel(level)
}

// SetBackend activates the named logging backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// Flush flushes any messages buffered by the active backend.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	active.Flush()
}

// Sync waits until all pending messages have been emitted.
func Sync() {
	log.RLock()
	active := log.active
	log.RUnlock()
	active.Sync()
}

// get looks up or creates the logger for source.
func (log *logging) get(source string) logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	l := logger(len(log.loggers))
	log.loggers[source] = l
	log.sources[l] = source
	log.configs[l] = mkConfig(l, opt.sourceEnabled(source), opt.debugEnabled(source))
	log.realign()

	return l
}

// setLevel sets the logging severity level, caller holds the lock.
func (log *logging) setLevel(level Level) {
	log.level = level
}

// setBackend activates the named backend, caller holds the lock.
func (log *logging) setBackend(name string) error {
	if name == "" {
		name = FmtBackendName
	}
	if name == log.name {
		return nil
	}

	fn, ok := log.backend[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}

	old := log.active
	log.active = fn()
	log.name = name
	log.active.SetSourceAlignment(log.align)

	if old != nil {
		old.Flush()
		old.Stop()
	}

	return nil
}

// update reconfigures loggers for changed enabled or debugging sources.
func (log *logging) update(enable, debug srcmap) {
	for source, l := range log.loggers {
		cfg := log.configs[l]
		if enable != nil {
			cfg.setLogging(enable.isEnabled(source, true))
		}
		if debug != nil {
			cfg.setDebugging(debug.isEnabled(source, false))
		}
		log.configs[l] = cfg
	}
	log.realign()
}

// realign recalculates source alignment for the active backend.
func (log *logging) realign() {
	align := 0
	for source, l := range log.loggers {
		cfg := log.configs[l]
		if cfg.isEnabled() && len(source) > align {
			align = len(source)
		}
	}
	if align != log.align {
		log.align = align
		if log.active != nil {
			log.active.SetSourceAlignment(align)
		}
	}
}

// loggerError produces a formatted logger-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
