// Copyright 2022 Intel Corporation. All Rights Reserved.
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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFmtBackendBuffering(t *testing.T) {
	out := &bytes.Buffer{}
	f := newFmtBackend(out)
	defer f.Stop()

	f.Log(LevelInfo, "migrate", "batch %d", 1)
	f.Sync()
	require.Empty(t, out.String(), "messages are buffered until the first flush")

	f.Flush()
	require.Equal(t, "I: [migrate] batch 1\n", out.String())

	out.Reset()
	f.Log(LevelWarn, "cdm", "device %s", "cdm0")
	f.Sync()
	require.Equal(t, "W: [cdm] device cdm0\n", out.String())
}

func TestFmtBackendErrorFlushes(t *testing.T) {
	out := &bytes.Buffer{}
	f := newFmtBackend(out)
	defer f.Stop()

	f.Log(LevelInfo, "devmem", "first")
	f.Log(LevelError, "devmem", "second")
	f.Sync()
	require.Equal(t, "I: [devmem] first\nE: [devmem] second\n", out.String())
}

func TestFmtBackendFormatting(t *testing.T) {
	out := &bytes.Buffer{}
	f := newFmtBackend(out)
	defer f.Stop()

	f.Flush()
	f.SetSourceAlignment(6)
	f.Log(LevelDebug, "cdm", "aligned")
	f.Block(LevelInfo, "cdm", "  > ", "line %d\nline %d", 1, 2)
	f.Sync()

	require.Equal(t,
		"D: [  cdm ] aligned\n"+
			"I: [  cdm ]   > line 1\n"+
			"I: [  cdm ]   > line 2\n",
		out.String())
}
