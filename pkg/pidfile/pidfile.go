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

// Package pidfile guards a daemon against a second instance running with the
// same simulated device memory layout.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another live process holds the PID file.
var ErrLocked = errors.New("PID file is locked by another process")

// PidFile is an exclusively locked file holding the PID of its owner.
type PidFile struct {
	sync.Mutex
	path string
	file *os.File
}

// New creates a PidFile for the given path, or the default one if empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Write creates and locks the PID file, then writes os.Getpid() to it. A file
// left behind by a dead process is taken over. Write is a no-op if we already
// own the file.
func (p *PidFile) Write() error {
	p.Lock()
	defer p.Unlock()

	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file directory")
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return errors.Wrapf(ErrLocked, "%s", p.path)
		}
		return errors.Wrap(err, "failed to lock PID file")
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to truncate PID file")
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write PID file")
	}

	p.file = f
	return nil
}

// Read returns the process ID stored in the PID file, 0 if there is no file.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	str := strings.TrimSpace(string(buf))
	if str == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(str)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", str)
	}

	return pid, nil
}

// Owner returns the PID of the live process owning the PID file, or 0 if
// no live process owns it.
func (p *PidFile) Owner() (int, error) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return pid, err
	}

	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
		return pid, nil
	case unix.ESRCH:
		return 0, nil
	default:
		return -1, errors.Wrapf(err, "failed to check process %d", pid)
	}
}

// Remove releases and removes the PID file if we own it.
func (p *PidFile) Remove() error {
	p.Lock()
	defer p.Unlock()

	if p.file == nil {
		return nil
	}

	err := os.Remove(p.path)
	p.file.Close()
	p.file = nil

	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// DefaultPath returns the default PID file path for this binary.
func DefaultPath() string {
	name := "devmem-migrate"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}
