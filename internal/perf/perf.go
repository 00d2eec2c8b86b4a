/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package perf offers opt-in call-site timers for the corpus, executor
// and scheduler: each one records cumulative time spent inside the
// wrapped component and logs every call's elapsed time at debug level.
// Off by default; wiring one of these in is purely a diagnostic choice.
package perf

import (
	"sync"
	"time"

	"github.com/nabbar/libaflstar-go/internal/logger"
)

// Timer accumulates the total time spent across repeated calls to a single
// instrumented operation.
type Timer struct {
	mu        sync.Mutex
	total     time.Duration
	totalOK   time.Duration
	calls     uint64
	log       logger.Logger
	component string
}

// NewTimer builds a Timer that logs each measured call under component's
// name, e.g. "executor", "corpus", "scheduler".
func NewTimer(component string, log logger.Logger) *Timer {
	return &Timer{component: component, log: log}
}

// Track runs f, recording its elapsed time into the timer, and returns
// whatever error f returned.
func (t *Timer) Track(op string, f func() error) error {
	start := time.Now()
	err := f()
	elapsed := time.Since(start)

	t.mu.Lock()
	t.calls++
	t.total += elapsed
	if err == nil {
		t.totalOK += elapsed
	}
	t.mu.Unlock()

	if t.log != nil {
		t.log.Debug(t.component+" "+op, logger.Fields{"elapsed_ns": elapsed.Nanoseconds()})
	}
	return err
}

// Snapshot returns the accumulated call count and cumulative durations.
func (t *Timer) Snapshot() (calls uint64, total, totalOK time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls, t.total, t.totalOK
}

// ExecutorTimers groups the handful of call sites ExecutorPerf measured:
// one execution cycle, split into overall and error-free-call totals.
type ExecutorTimers struct {
	Run *Timer
}

// NewExecutorTimers builds the timer set for an executor, logging under
// "executor".
func NewExecutorTimers(log logger.Logger) *ExecutorTimers {
	return &ExecutorTimers{Run: NewTimer("executor", log)}
}

// CorpusTimers groups the corpus call sites CorpusPerf measured: count and
// add.
type CorpusTimers struct {
	Count *Timer
	Add   *Timer
}

// NewCorpusTimers builds the timer set for a corpus, logging under
// "corpus".
func NewCorpusTimers(log logger.Logger) *CorpusTimers {
	return &CorpusTimers{
		Count: NewTimer("corpus.count", log),
		Add:   NewTimer("corpus.add", log),
	}
}

// SchedulerTimers groups the scheduler call sites SchedulerPerf measured:
// on_add and choose_next_state.
type SchedulerTimers struct {
	OnAdd      *Timer
	ChooseNext *Timer
}

// NewSchedulerTimers builds the timer set for a scheduler, logging under
// "scheduler".
func NewSchedulerTimers(log logger.Logger) *SchedulerTimers {
	return &SchedulerTimers{
		OnAdd:      NewTimer("scheduler.on_add", log),
		ChooseNext: NewTimer("scheduler.choose_next_state", log),
	}
}
