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

package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseEnabled parses an on/off style boolean.
func ParseEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "enable", "enabled", "true", "yes", "1":
		return true, nil
	case "off", "disable", "disabled", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled/disabled value %q", value)
}

// ParseBytes parses a byte count with an optional k, M, G or T unit
// suffix, optionally followed by B. Units are powers of 1024.
func ParseBytes(s string) (int64, error) {
	origS := s
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("syntax error in bytes: string is empty")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("syntax error in bytes %q", origS)
		}
		return n, nil
	}
	if s[len(s)-1] == 'B' {
		s = s[:len(s)-1]
		if len(s) == 0 {
			return 0, fmt.Errorf("syntax error in bytes %q: no numeric part", origS)
		}
	}
	factor := int64(1)
	numpart := s[:len(s)-1]
	switch c := s[len(s)-1]; {
	case c == 'k' || c == 'K':
		factor = 1 << 10
	case c == 'M':
		factor = 1 << 20
	case c == 'G':
		factor = 1 << 30
	case c == 'T':
		factor = 1 << 40
	case '0' <= c && c <= '9':
		numpart = s
	default:
		return 0, fmt.Errorf("syntax error in bytes %q: unexpected unit %q", origS, c)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numpart), 0, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("syntax error in bytes %q: bad numeric part %q", origS, numpart)
	}
	return n * factor, nil
}

// ParseUint parses a decimal or 0x-prefixed unsigned integer.
func ParseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned integer %q", s)
	}
	return v, nil
}
