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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	tcases := []struct {
		input    string
		expected int64
		fail     bool
	}{
		{input: "4096", expected: 4096},
		{input: "64k", expected: 64 << 10},
		{input: "64kB", expected: 64 << 10},
		{input: "100M", expected: 100 << 20},
		{input: "2G", expected: 2 << 30},
		{input: "1T", expected: 1 << 40},
		{input: "0x1000", expected: 4096},
		{input: "0x10000a", expected: 0x10000a},
		{input: "", fail: true},
		{input: "B", fail: true},
		{input: "12X", fail: true},
		{input: "-1M", fail: true},
	}
	for _, tc := range tcases {
		t.Run(tc.input, func(t *testing.T) {
			n, err := ParseBytes(tc.input)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, n)
		})
	}
}

func TestParseEnabled(t *testing.T) {
	for _, on := range []string{"on", "true", "Enabled", "1"} {
		v, err := ParseEnabled(on)
		require.NoError(t, err)
		require.True(t, v, on)
	}
	for _, off := range []string{"off", "false", "disabled", "0"} {
		v, err := ParseEnabled(off)
		require.NoError(t, err)
		require.False(t, v, off)
	}
	_, err := ParseEnabled("maybe")
	require.Error(t, err)
}
