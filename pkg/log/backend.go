// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

//
// Logging backend interface and default fmt-based backend implementation.
//

// BackendFn is a functions that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log messages, with an additional line prefix.
	Block(Level, string, string, string, ...interface{})
	// Flush flushes and stops initial buffering synchronously
	Flush()
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum prefix length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
	if name == string(opt.Logger) && name != log.name {
		if err := log.setBackend(name); err != nil {
			fmt.Printf("E: failed to activate logger backend %q: %v\n", name, err)
		}
	}
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
	// fmtBackendQueueLen is the length of the fmt message queue and of the
	// initial buffer which holds messages until the first flush.
	fmtBackendQueueLen = 1024
)

// control requests, never emitted
const (
	levelNop Level = iota + levelHighest
	levelStop
)

// severity tags prefixed to emitted messages.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
	LevelFatal: "FATAL ERROR:",
	LevelPanic: "PANIC:",
}

// fmtBackend emits messages to an io.Writer from a single goroutine.
type fmtBackend struct {
	out   io.Writer
	q     chan *fmtReq
	align int32
}

type fmtReq struct {
	level  Level
	source string
	prefix string
	msg    string
	sync   chan struct{} // closed once the request is processed
	flush  bool          // emit and stop buffering
}

func createFmtBackend() Backend {
	return newFmtBackend(os.Stdout)
}

func newFmtBackend(out io.Writer) *fmtBackend {
	f := &fmtBackend{
		out: out,
		q:   make(chan *fmtReq, fmtBackendQueueLen),
	}
	go f.run()
	return f
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.log(level, source, "", format, args...)
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	f.log(level, source, prefix, format, args...)
}

func (f *fmtBackend) Flush() {
	f.control(levelNop, true)
}

func (f *fmtBackend) Sync() {
	f.control(levelNop, false)
}

func (f *fmtBackend) Stop() {
	f.control(levelStop, true)
}

func (f *fmtBackend) SetSourceAlignment(align int) {
	atomic.StoreInt32(&f.align, int32(align))
}

// control sends a control request and waits for it to get processed.
func (f *fmtBackend) control(level Level, flush bool) {
	req := &fmtReq{
		level: level,
		flush: flush,
		sync:  make(chan struct{}),
	}
	f.q <- req
	<-req.sync
}

// log queues a message. Errors flush, fatal and panic messages are synchronous.
func (f *fmtBackend) log(level Level, source, prefix, format string, args ...interface{}) {
	req := &fmtReq{
		level:  level,
		source: source,
		prefix: prefix,
		msg:    fmt.Sprintf(format, args...),
		flush:  level >= LevelError,
	}
	if level > LevelError {
		req.sync = make(chan struct{})
	}

	f.q <- req

	if req.sync != nil {
		<-req.sync
	}
}

// run buffers messages until the first flush or a full buffer, then emits
// them as they come.
func (f *fmtBackend) run() {
	buf := make([]*fmtReq, 0, fmtBackendQueueLen)

	for req := range f.q {
		switch {
		case buf == nil:
			f.emit(req)
		case req.flush || len(buf) == cap(buf):
			for _, r := range buf {
				f.emit(r)
			}
			f.emit(req)
			buf = nil
		default:
			buf = append(buf, req)
		}

		if req.sync != nil {
			close(req.sync)
		}
		if req.level == levelStop {
			return
		}
	}
}

// emit writes a single, possibly multi-line, message centering source in
// the aligned source column.
func (f *fmtBackend) emit(req *fmtReq) {
	if req.level >= levelHighest {
		return
	}

	align := int(atomic.LoadInt32(&f.align))
	pad := align - len(req.source)
	if pad < 0 {
		pad = 0
	}
	source := "[" + strings.Repeat(" ", pad-pad/2) + req.source + strings.Repeat(" ", pad/2) + "]"

	tag := fmtTags[req.level]
	for _, line := range strings.Split(req.msg, "\n") {
		if req.prefix != "" {
			fmt.Fprintln(f.out, tag, source, req.prefix+line)
		} else {
			fmt.Fprintln(f.out, tag, source, line)
		}
	}
}
