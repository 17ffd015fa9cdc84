// Copyright 2021-2022 Intel Corporation. All Rights Reserved.
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

// Package klogcontrol exposes klog flags on the command line and as
// the logger.klog configuration fragment.
package klogcontrol

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/intel/devmem-migrate/pkg/config"
)

const (
	// ConfigPath is where the klog fragment lives in the configuration.
	ConfigPath = "logger.klog"
)

// Config is the runtime klog configuration.
type Config struct {
	// Flags are klog flag values by flag name.
	Flags map[string]string `json:"flags,omitempty"`
}

// control tracks klog flags and their command line defaults.
type control struct {
	sync.Mutex
	flags    *flag.FlagSet
	defaults map[string]string
	applied  map[string]bool
}

var ctl *control

// Reset resets the fragment.
func (c *Config) Reset() {
	c.Flags = nil
}

// Describe returns help for the fragment.
func (*Config) Describe() string {
	return `Runtime control of klog flags, used with the klog logger backend.

  logger:
    klog:
      flags:
        v: "4"
        skip_headers: "true"`
}

// Validate checks that all flags are known klog flags.
func (c *Config) Validate() error {
	for name := range c.Flags {
		if ctl.flags.Lookup(name) == nil {
			return klogError("unknown klog flag %q", name)
		}
	}
	return nil
}

// Configure sets configured flags, restoring command line defaults for the rest.
func (c *Config) Configure() error {
	return ctl.configure(c.Flags)
}

// Get returns the current value of the given klog flag.
func Get(name string) (string, error) {
	f := ctl.flags.Lookup(name)
	if f == nil {
		return "", klogError("unknown klog flag %q", name)
	}
	return f.Value.String(), nil
}

// Flags returns the names of all klog flags.
func Flags() []string {
	names := []string{}
	ctl.flags.VisitAll(func(f *flag.Flag) {
		names = append(names, f.Name)
	})
	sort.Strings(names)
	return names
}

func (c *control) configure(values map[string]string) error {
	c.Lock()
	defer c.Unlock()

	for name := range c.applied {
		if _, ok := values[name]; !ok {
			if err := c.set(name, c.defaults[name]); err != nil {
				return err
			}
			delete(c.applied, name)
		}
	}
	for name, value := range values {
		if err := c.set(name, value); err != nil {
			return err
		}
		c.applied[name] = true
	}
	return nil
}

func (c *control) set(name, value string) error {
	if name == "stderrthreshold" { // klog expects thresholds in ALL CAPS
		value = strings.ToUpper(value)
	}
	if err := c.flags.Set(name, value); err != nil {
		return klogError("failed to set klog flag %q to %q: %v", name, value, err)
	}
	return nil
}

// klogflag wraps a klog flag for the command line.
type klogflag struct {
	flag *flag.Flag
}

// Set implements flag.Value.Set() for wrapped klog flags.
func (klogf *klogflag) Set(value string) error {
	ctl.Lock()
	defer ctl.Unlock()
	if err := ctl.set(klogf.flag.Name, value); err != nil {
		return err
	}
	ctl.defaults[klogf.flag.Name] = klogf.flag.Value.String()
	return nil
}

// String implements flag.Value.String() for wrapped klog flags.
func (klogf *klogflag) String() string {
	if klogf.flag == nil { // flag.isZeroValue() probing us...
		return ""
	}
	value := klogf.flag.Value.String()
	if klogf.flag.Name == "log_backtrace_at" && value == ":0" {
		value = ""
	}
	return value
}

// boolFlag is identical to the unexported flag.boolFlag interface.
type boolFlag interface {
	IsBoolFlag() bool
}

// IsBoolFlag implements flag.boolFlag.IsBoolFlag() for wrapped klog flags.
func (klogf *klogflag) IsBoolFlag() bool {
	if klogf.flag == nil {
		return false
	}
	if boolf, ok := klogf.flag.Value.(boolFlag); ok {
		return boolf.IsBoolFlag()
	}
	return false
}

// getEnv returns a default value for the flag from the environment.
func (klogf *klogflag) getEnv() (string, string, bool) {
	name := "LOGGER_" + strings.ToUpper(strings.ReplaceAll(klogf.flag.Name, "-", "_"))
	if value, ok := os.LookupEnv(name); ok {
		return name, value, true
	}
	return "", "", false
}

// klogError returns a package-specific formatted error.
func klogError(format string, args ...interface{}) error {
	return fmt.Errorf("klogcontrol: "+format, args...)
}

// init discovers klog flags and sets up dynamic control for them.
func init() {
	ctl = &control{
		flags:    flag.NewFlagSet("klog flags", flag.ContinueOnError),
		defaults: make(map[string]string),
		applied:  make(map[string]bool),
	}
	ctl.flags.SetOutput(ioutil.Discard)
	klog.InitFlags(ctl.flags)

	ctl.flags.VisitAll(func(f *flag.Flag) {
		klogf := &klogflag{flag: f}
		ctl.defaults[f.Name] = f.Value.String()
		if flag.Lookup(f.Name) == nil {
			flag.Var(klogf, f.Name, f.Usage)
		}
		if name, value, ok := klogf.getEnv(); ok {
			if err := klogf.Set(value); err != nil {
				klog.Errorf("klog flag %q: invalid environment default %s=%q: %v",
					f.Name, name, value, err)
			}
		}
	})

	if err := config.Register(ConfigPath, &Config{}); err != nil {
		klog.Errorf("failed to register klog configuration: %v", err)
	}
}
