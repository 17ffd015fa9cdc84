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
	"os"
)

// Logger is the set of logging functions we use. pkg/log registers its
// own configuration with us, so it sets these instead of us importing it.
type Logger struct {
	Debugf func(string, ...interface{})
	Errorf func(string, ...interface{})
}

var log = Logger{
	Debugf: func(format string, args ...interface{}) {
		if os.Getenv("CONFIG_DEBUG") != "" {
			fmt.Fprintf(os.Stderr, "D: [config] "+format+"\n", args...)
		}
	},
	Errorf: func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "E: [config] "+format+"\n", args...)
	},
}

// SetLogger overrides the given logging functions.
func SetLogger(logger Logger) {
	if logger.Debugf != nil {
		log.Debugf = logger.Debugf
	}
	if logger.Errorf != nil {
		log.Errorf = logger.Errorf
	}
}
