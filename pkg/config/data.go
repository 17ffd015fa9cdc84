// Copyright 2019 Intel Corporation. All Rights Reserved.
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
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Data is our internal representation of configuration data.
type Data map[string]interface{}

// DataFromFile unmarshals the content of the given file into configuration data.
func DataFromFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read file %q: %v", path, err)
	}
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, configError("failed to load configuration from file %q: %v", path, err)
	}
	return data, nil
}

// copy does a shallow copy of the given data.
func (d Data) copy() Data {
	data := make(Data)
	for key, value := range d {
		data[key] = value
	}
	return data
}

// lookup looks up key, falling back to a case-insensitive match.
func (d Data) lookup(key string) (interface{}, bool) {
	if obj, ok := d[key]; ok {
		return obj, true
	}
	for k, obj := range d {
		if strings.EqualFold(k, key) {
			return obj, true
		}
	}
	return nil, false
}

// remove removes key, ignoring case.
func (d Data) remove(key string) {
	for k := range d {
		if strings.EqualFold(k, key) {
			delete(d, k)
		}
	}
}

// String returns configuration data as a string.
func (d Data) String() string {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Sprintf("<config.data: failed to marshal: %v>", err)
	}
	return string(raw)
}
