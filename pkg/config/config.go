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

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// Fragment is a piece of configuration registered under a dotted path.
type Fragment interface {
	// Reset resets the fragment to its defaults.
	Reset()
	// Describe returns help about the fragment.
	Describe() string
}

// Validator is a Fragment which can check its own consistency.
type Validator interface {
	Validate() error
}

// Notifier is a Fragment which wants to activate a new configuration.
type Notifier interface {
	Configure() error
}

// fragment is a registered Fragment.
type fragment struct {
	path  string
	keys  []string
	ptr   Fragment
	order int
}

// registry of all fragments.
type registry struct {
	sync.Mutex
	fragments map[string]*fragment
	applied   Data
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		fragments: make(map[string]*fragment),
		applied:   make(Data),
	}
}

// ReInitialize drops all registered fragments.
func ReInitialize() {
	reg.Lock()
	defer reg.Unlock()
	reg.fragments = make(map[string]*fragment)
	reg.applied = make(Data)
}

// Register registers ptr as the configuration fragment for path.
func Register(path string, ptr interface{}) error {
	reg.Lock()
	defer reg.Unlock()
	return reg.register(path, ptr)
}

// GetConfig returns the fragment registered for path.
func GetConfig(path string) (Fragment, bool) {
	reg.Lock()
	defer reg.Unlock()
	if f, ok := reg.fragments[path]; ok {
		return f.ptr, true
	}
	return nil, false
}

// SetYAML applies the given YAML configuration to all registered fragments.
// If any fragment rejects its part, the previous configuration is restored.
func SetYAML(raw []byte) error {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return configError("failed to parse YAML configuration: %v", err)
	}
	return SetData(data)
}

// SetYAMLFile applies the configuration in the given YAML file.
func SetYAMLFile(path string) error {
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return SetData(data)
}

// SetData applies the given configuration data to all registered fragments.
func SetData(data Data) error {
	reg.Lock()
	defer reg.Unlock()
	return reg.set(data)
}

// GetData returns the last successfully applied configuration data.
func GetData() Data {
	reg.Lock()
	defer reg.Unlock()
	return reg.applied.copy()
}

func (r *registry) register(path string, ptr interface{}) error {
	if ptr == nil {
		return configError("%q: nil fragment", path)
	}
	if v := reflect.ValueOf(ptr); v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return configError("%q: fragment %T is not a pointer to a struct", path, ptr)
	}
	frag, ok := ptr.(Fragment)
	if !ok {
		return configError("%q: %T does not implement Fragment", path, ptr)
	}
	if path == "" {
		return configError("empty fragment path")
	}
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return configError("invalid fragment path %q", path)
		}
	}
	for p := range r.fragments {
		if strings.EqualFold(p, path) {
			return configError("fragment path %q conflicts with %q", path, p)
		}
	}

	r.fragments[path] = &fragment{
		path:  path,
		keys:  keys,
		ptr:   frag,
		order: len(r.fragments),
	}
	frag.Reset()

	log.Debugf("registered configuration fragment %q (%T)", path, ptr)
	return nil
}

// sorted returns fragments in registration order.
func (r *registry) sorted() []*fragment {
	frags := make([]*fragment, 0, len(r.fragments))
	for _, f := range r.fragments {
		frags = append(frags, f)
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].order < frags[j].order })
	return frags
}

func (r *registry) set(data Data) error {
	frags := r.sorted()

	if err := r.apply(frags, data); err != nil {
		log.Errorf("configuration rejected, reverting: %v", err)
		if rerr := r.apply(frags, r.applied); rerr != nil {
			log.Errorf("failed to revert configuration: %v", rerr)
		}
		r.configure(frags)
		return err
	}

	if err := r.configure(frags); err != nil {
		log.Errorf("failed to activate configuration, reverting: %v", err)
		if rerr := r.apply(frags, r.applied); rerr != nil {
			log.Errorf("failed to revert configuration: %v", rerr)
		}
		r.configure(frags)
		return err
	}

	r.applied = data.copy()
	return nil
}

// apply resets each fragment and unmarshals its part of data into it.
func (r *registry) apply(frags []*fragment, data Data) error {
	for _, f := range frags {
		f.ptr.Reset()
		part, err := r.pick(f, data)
		if err != nil {
			return err
		}
		if part != nil {
			raw, err := yaml.Marshal(part)
			if err != nil {
				return configError("%s: failed to marshal data: %v", f.path, err)
			}
			if err := yaml.UnmarshalStrict(raw, f.ptr); err != nil {
				return configError("%s: invalid configuration: %v", f.path, err)
			}
		}
		if v, ok := f.ptr.(Validator); ok {
			if err := v.Validate(); err != nil {
				return configError("%s: %v", f.path, err)
			}
		}
	}
	return nil
}

// configure activates the configuration of all Notifier fragments.
func (r *registry) configure(frags []*fragment) error {
	for _, f := range frags {
		if n, ok := f.ptr.(Notifier); ok {
			if err := n.Configure(); err != nil {
				return configError("%s: %v", f.path, err)
			}
		}
	}
	return nil
}

// pick returns the data of fragment f, without data for other fragments nested under it.
func (r *registry) pick(f *fragment, data Data) (Data, error) {
	part := data
	for _, k := range f.keys {
		obj, ok := part.lookup(k)
		if !ok || obj == nil {
			return nil, nil
		}
		sub, ok := obj.(map[string]interface{})
		if !ok {
			return nil, configError("%s: expected a map for key %q, got %T", f.path, k, obj)
		}
		part = Data(sub)
	}

	picked := part.copy()
	for _, o := range r.fragments {
		if len(o.keys) == len(f.keys)+1 && o.path[len(f.path)] == '.' &&
			strings.EqualFold(o.path[:len(f.path)], f.path) {
			picked.remove(o.keys[len(o.keys)-1])
		}
	}
	return picked, nil
}

// Describe returns help for the fragments under the given paths, or all of them.
func Describe(paths ...string) string {
	reg.Lock()
	defer reg.Unlock()

	var b strings.Builder
	for _, f := range reg.sorted() {
		if !matchesAny(f.path, paths) {
			continue
		}
		fmt.Fprintf(&b, "- %s (%T):\n", f.path, f.ptr)
		help := strings.Trim(f.ptr.Describe(), "\n")
		if help == "" {
			help = "No description."
		}
		for _, line := range strings.Split(help, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}

func matchesAny(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// configError returns a formatted package-specific error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
