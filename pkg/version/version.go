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

// Package version carries build metadata, set at link time with
//
//	-ldflags "-X=github.com/intel/devmem-migrate/pkg/version.Version=<version> \
//	          -X=github.com/intel/devmem-migrate/pkg/version.Build=<build-id>"
//
// and puts a -version option in place for printing it.
package version

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var (
	// Version is our version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository we've been built from.
	Build = "unknown"
)

// String returns a one-line summary of the version metadata.
func String() string {
	return fmt.Sprintf("%s (build %s)", Version, Build)
}

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo() {
	fmt.Printf("%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Printf("  - version: %s\n", Version)
	fmt.Printf("  - build:   %s\n", Build)
}

// printer hooks into flag parsing of -version.
type printer struct{}

func (printer) IsBoolFlag() bool {
	return true
}

func (printer) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		PrintVersionInfo()
		os.Exit(0)
	}
	return nil
}

func (printer) String() string {
	return "false"
}

func init() {
	flag.Var(printer{}, "version", "print version information and exit")
}
