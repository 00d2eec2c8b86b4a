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

package executor

import (
	"github.com/nabbar/libaflstar-go/internal/atomicx"
	"github.com/nabbar/libaflstar-go/internal/forkserver"
)

// ResetFunc restarts the target into its initial protocol state (e.g.
// reconnecting a fresh FTP session). It does not replay a prefix: the fuzz
// loop does that afterwards, once it observes StateResetOccurred.
type ResetFunc func() error

// StatefulExecutor wraps an Executor with the bookkeeping a resettable
// persistent-mode target needs on top of a plain forkserver: a sticky
// "state was reset" flag consumed once per read, and a timeout counter
// used to decide when a UserStats event is worth emitting (every one of
// the first 20 timeouts, then only every 20th).
type StatefulExecutor struct {
	*Executor

	resetOccurred atomicx.Flag
	timeouts      atomicx.Counter

	reset ResetFunc
}

// NewStateful attaches state-reset tracking to an already-built Executor.
func NewStateful(e *Executor, reset ResetFunc) *StatefulExecutor {
	return &StatefulExecutor{Executor: e, reset: reset}
}

// ResetTargetState restarts the child's logical protocol state and marks
// the reset as pending for the next RunTracked caller to observe.
func (s *StatefulExecutor) ResetTargetState() error {
	if s.reset == nil {
		return nil
	}
	if err := s.reset(); err != nil {
		return err
	}
	s.resetOccurred.Set()
	return nil
}

// StateResetOccurred reports and clears the pending reset flag, which is
// set by a successful ResetTargetState call and by every Timeout result.
func (s *StatefulExecutor) StateResetOccurred() bool {
	return s.resetOccurred.ConsumeTrue()
}

// TimeoutCount returns the number of timeouts observed since construction.
func (s *StatefulExecutor) TimeoutCount() uint64 {
	return s.timeouts.Load()
}

// ShouldEmitTimeoutStats reports whether the just-incremented timeout count
// is worth surfacing as a UserStats event: every one of the first 20, then
// only every 20th after that, to avoid flooding the event manager.
func ShouldEmitTimeoutStats(count uint64) bool {
	return count < 20 || count%20 == 0
}

// RunTracked runs one execution cycle and folds the result into the
// timeout counter, returning the same triple as Run plus whether this call
// crossed a reporting threshold worth an event.
func (s *StatefulExecutor) RunTracked(input []byte) (forkserver.ExitKind, []byte, bool, error) {
	kind, resp, err := s.Executor.Run(input)
	if err != nil {
		return kind, resp, false, err
	}
	return kind, resp, s.recordOutcome(kind), nil
}

// recordOutcome folds one execution's classification into the sticky
// reset flag and timeout counter. A Timeout means the target had to be
// killed mid-execution (forkserver.onTimeout), which desyncs it from
// whatever protocol state the prefix put it in just as much as an explicit
// ResetTargetState call does, so it sets resetOccurred too. Returns
// whether this timeout crossed a reporting threshold.
func (s *StatefulExecutor) recordOutcome(kind forkserver.ExitKind) bool {
	if kind != forkserver.Timeout {
		return false
	}
	s.resetOccurred.Set()
	n := s.timeouts.Add(1)
	return ShouldEmitTimeoutStats(n)
}
