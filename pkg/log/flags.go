// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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
	"encoding/json"
	"flag"
	"sort"
	"strings"

	pkgcfg "github.com/intel/devmem-migrate/pkg/config"
	"github.com/intel/devmem-migrate/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optLogger = optPrefix
	// configModule is our module name in the runtime configuration.
	configModule = optPrefix
)

// Logger options configurable via the command line or pkg/config.
type options struct {
	// Level is the logging severity/level.
	Level Level
	// Enable is a map for enabling/disabling normal logging for sources.
	Enable srcmap
	// Debug is a map for enabling/disabling debug logging for sources.
	Debug srcmap
	// Logger is the name of the logger backend to use.
	Logger backendName
}

// srcmap tracks logging or debugging settings for sources.
type srcmap map[string]bool

// backendName is a name for a Backend.
type backendName string

// Default configuration given on the command line.
var defaults = &options{
	Logger: FmtBackendName,
	Level:  DefaultLevel,
	Enable: make(srcmap),
	Debug:  make(srcmap),
}

// Runtime configuration, from the command line or a configuration file.
var opt = &options{
	Logger: FmtBackendName,
	Level:  DefaultLevel,
	Enable: make(srcmap),
	Debug:  make(srcmap),
}

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
	LevelFatal: "fatal",
	LevelPanic: "panic",
}

// parseLevel parses the given level name.
func parseLevel(value string) (Level, error) {
	for level, name := range levelNames {
		if name == strings.ToLower(value) {
			return level, nil
		}
	}
	if strings.ToLower(value) == "warn" {
		return LevelWarn, nil
	}
	return LevelInfo, loggerError("invalid logging level %s", value)
}

// Set sets the level from the given name.
func (l *Level) Set(value string) error {
	level, err := parseLevel(value)
	if err != nil {
		return err
	}

	*l = level
	opt.Level = level
	SetLevel(level)

	return nil
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[LevelInfo]
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	level, err := parseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Set sets the name of the active Backend.
func (n *backendName) Set(value string) error {
	if err := SetBackend(value); err != nil {
		return err
	}
	*n = backendName(value)
	opt.Logger = backendName(value)
	return nil
}

// String returns the name of the active backend.
func (n backendName) String() string {
	return string(n)
}

// Set sets entries of srcmap by parsing the given value.
func (m *srcmap) Set(value string) error {
	log.Lock()
	defer log.Unlock()

	if err := m.parse(value); err != nil {
		return err
	}

	// propagate command-line to runtime defaults, reconfigure loggers
	if m == &defaults.Enable {
		opt.Enable.copy(*m)
		log.update(opt.Enable, nil)
	}
	if m == &defaults.Debug {
		opt.Debug.copy(*m)
		log.update(nil, opt.Debug)
	}

	return nil
}

// parse parses a comma-separated list of [state:]source entries.
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}

	sm := *m
	prev, state, src := "", "", ""
	for _, entry := range strings.Split(value, ",") {
		statesrc := strings.Split(entry, ":")
		switch len(statesrc) {
		case 2:
			state, src = statesrc[0], statesrc[1]
		case 1:
			state, src = "", statesrc[0]
		default:
			return loggerError("invalid entry '%s' in source map", entry)
		}

		if state != "" {
			prev = state
		} else {
			state = prev
			if state == "" {
				state = "on"
			}
		}
		if src == "all" {
			src = "*"
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state '%s' in source map", state)
		}
		sm[src] = enabled
	}

	return nil
}

// String returns a string representation of the srcmap.
func (m *srcmap) String() string {
	on, off := []string{}, []string{}
	for src, state := range *m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// isEnabled returns the state of source, falling back to '*', then to fallback.
func (m srcmap) isEnabled(source string, fallback bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return fallback
}

// MarshalJSON is the JSON marshaller for srcmap.
func (m srcmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON is the JSON unmarshaller for srcmap.
func (m *srcmap) UnmarshalJSON(raw []byte) error {
	*m = make(srcmap)

	boolmap := map[bool][]string{}
	if err := json.Unmarshal(raw, &boolmap); err == nil {
		for state, sources := range boolmap {
			for _, src := range sources {
				if src == "all" {
					src = "*"
				}
				(*m)[src] = state
			}
		}
		return nil
	}

	cfgstr := ""
	if err := json.Unmarshal(raw, &cfgstr); err != nil {
		return loggerError("failed to unmarshal logger source map '%s': %v",
			string(raw), err)
	}

	return m.parse(cfgstr)
}

// copy state from another srcmap.
func (m srcmap) copy(o srcmap) {
	for src, state := range o {
		m[src] = state
	}
}

// sourceEnabled checks if normal logging is enabled for source.
func (o *options) sourceEnabled(source string) bool {
	return o.Enable.isEnabled(source, true)
}

// debugEnabled checks if debug logging is enabled for source.
func (o *options) debugEnabled(source string) bool {
	return o.Debug.isEnabled(source, false)
}

// Reset resets the runtime options to the command line defaults.
func (o *options) Reset() {
	o.Logger = defaults.Logger
	o.Level = defaults.Level
	o.Enable = make(srcmap)
	o.Debug = make(srcmap)
	o.Enable.copy(defaults.Enable)
	o.Debug.copy(defaults.Debug)
}

// Describe returns the help for the logger configuration.
func (o *options) Describe() string {
	return configHelp
}

// Configure activates the runtime logger configuration.
func (o *options) Configure() error {
	log.Lock()
	defer log.Unlock()

	log.setLevel(o.Level)
	if err := log.setBackend(o.Logger.String()); err != nil {
		return err
	}
	log.update(o.Enable, o.Debug)

	return nil
}

// Register us for command line parsing and configuration handling.
func init() {
	cfglog := log.get("config")
	pkgcfg.SetLogger(pkgcfg.Logger{
		Debugf: cfglog.Debug,
		Errorf: cfglog.Error,
	})

	flag.Var(&defaults.Logger, optLogger,
		"logger backend to use (fmt, klog).")
	flag.Var(&defaults.Level, optLevel,
		"lowest severity level to pass through (info, warning, error)")
	flag.Var(&defaults.Enable, optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.")
	flag.Var(&defaults.Debug, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")

	if err := pkgcfg.Register(configModule, opt); err != nil {
		cfglog.Error("failed to register configuration: %v", err)
	}
}
