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
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate specifies the maximum logging rate of messages with the same format.
type Rate struct {
	// Limit is the sustained rate.
	Limit goxrate.Limit
	// Burst is the number of messages allowed at once.
	Burst int
	// Window is the number of distinct formats tracked.
	Window int
}

const (
	// DefaultWindow is the default number of formats tracked.
	DefaultWindow = 256
	// MinimumWindow is the smallest number of formats tracked.
	MinimumWindow = 32
)

// ratelimited is a Logger which throttles messages per format string, so
// messages differing only in their arguments (pages, addresses) share a limit.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	window []string
	limits map[string]*limit
}

// limit tracks one format and the number of messages it suppressed.
type limit struct {
	*goxrate.Limiter
	suppressed int
}

// Every defines a rate limit for the given interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate of one message per interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit returns a rate-limited version of the given logger.
func RateLimit(log Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: log,
		rate:   rate,
		limits: make(map[string]*limit),
		window: make([]string, 0, rate.Window),
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if !rl.Logger.DebugEnabled() {
		return
	}
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Debug("%s", msg)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Info("%s", msg)
	}
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Warn("%s", msg)
	}
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Error("%s", msg)
	}
}

// filter returns the formatted message if the format is within its limit,
// noting how many messages were suppressed since the last one let through.
func (rl *ratelimited) filter(format string, args ...interface{}) (string, bool) {
	rl.Lock()
	defer rl.Unlock()

	lim := rl.getLimit(format)
	if !lim.Allow() {
		lim.suppressed++
		return "", false
	}

	msg := fmt.Sprintf(format, args...)
	if lim.suppressed > 0 {
		msg += fmt.Sprintf(" (%d similar messages suppressed)", lim.suppressed)
		lim.suppressed = 0
	}
	return msg, true
}

// getLimit returns the limit for format, shifting the oldest format out of
// the window if it is full. The caller holds the lock.
func (rl *ratelimited) getLimit(format string) *limit {
	if lim, ok := rl.limits[format]; ok {
		return lim
	}

	if len(rl.window) == cap(rl.window) {
		delete(rl.limits, rl.window[0])
		rl.window = append(rl.window[:0], rl.window[1:]...)
	}
	rl.window = append(rl.window, format)

	lim := &limit{Limiter: goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)}
	rl.limits[format] = lim

	return lim
}
