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

package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "run", "test.pid")
}

func TestWriteRead(t *testing.T) {
	p := New(testPath(t))

	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, 0, pid, "no PID file yet")

	require.NoError(t, p.Write())
	require.NoError(t, p.Write(), "second write by the owner")

	pid, err = p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	owner, err := p.Owner()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), owner)

	require.NoError(t, p.Remove())
	_, err = os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))
	require.NoError(t, p.Remove(), "remove without owning")
}

func TestExclusive(t *testing.T) {
	path := testPath(t)
	first, second := New(path), New(path)

	require.NoError(t, first.Write())
	defer first.Remove()

	err := second.Write()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, first.Remove())
	require.NoError(t, second.Write())
	require.NoError(t, second.Remove())
}

func TestStaleFile(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	// PIDs are capped well below this on Linux.
	require.NoError(t, os.WriteFile(path, []byte("2147483600\n"), 0644))

	p := New(path)
	owner, err := p.Owner()
	require.NoError(t, err)
	require.Equal(t, 0, owner)

	require.NoError(t, p.Write())
	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
	require.NoError(t, p.Remove())
}

func TestInvalidContent(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	p := New(path)
	pid, err := p.Read()
	require.Error(t, err)
	require.Equal(t, -1, pid)
}

func TestDefaultPath(t *testing.T) {
	p := New("")
	require.Equal(t, DefaultPath(), p.Path())
	require.Equal(t, ".pid", filepath.Ext(p.Path()))
}
