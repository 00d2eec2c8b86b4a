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

package forkserver

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// ExitKind classifies how one execution of the target finished. Ok, Crash,
// Timeout and Oom are classifications, not errors.
type ExitKind uint8

const (
	Ok ExitKind = iota
	Crash
	Timeout
	Oom
)

func (k ExitKind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case Crash:
		return "Cr"
	case Timeout:
		return "Tm"
	case Oom:
		return "Oo"
	default:
		return "Unknown"
	}
}

// Fork drives the first half of one cycle of the forkserver protocol:
// tell the forkserver about the previous timeout and collect the fresh
// child PID. Kept separate from Await so the caller can deliver a
// socket-mode input between the fork and the status wait, since the
// request can only be written once the child exists to receive it.
func (f *Forkserver) Fork(pidTimeout time.Duration) error {
	prev := uint32(0)
	if f.lastRunTimeout {
		prev = 1
	}
	if err := f.writeWordTimeout(prev, ctlWriteTimeout); err != nil {
		return errs.New(errs.CodeShuttingDown, "cannot reach forkserver: "+err.Error())
	}
	f.lastRunTimeout = false

	pidWord, err := f.readWordTimeout(pidTimeout)
	if err != nil {
		return errs.New(errs.CodeShuttingDown, "read child pid: "+err.Error())
	}
	pid := int(int32(pidWord))
	if pid <= 0 {
		return errs.New(errs.CodeIllegalState, "forkserver reported non-positive child pid")
	}
	f.childPID = pid
	return nil
}

// Await drives the second half of a cycle: wait for the child's
// completion status within the per-execution timeout, classify the
// result, and fold the PID back for the next cycle if the child merely
// stopped (persistent mode).
func (f *Forkserver) Await(perExecTimeout time.Duration) (ExitKind, error) {
	statusWord, err := f.readWordTimeout(perExecTimeout)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return f.onTimeout()
		}
		return Ok, errs.New(errs.CodeFile, "read child status: "+err.Error())
	}

	return f.classify(statusWord)
}

// Run is Fork followed immediately by Await, for input modes with nothing
// to deliver in between (stdin file, shared memory).
func (f *Forkserver) Run(perExecTimeout, pidTimeout time.Duration) (ExitKind, error) {
	if err := f.Fork(pidTimeout); err != nil {
		return Ok, err
	}
	return f.Await(perExecTimeout)
}

// onTimeout is the no-status-arrived branch: flag the next ctl write as
// "last timed out", kill the child with the configured signal, then read
// the status with the fixed fallback timeout so the forkserver's own
// bookkeeping (e.g. persistent-mode loop counters) stays consistent.
func (f *Forkserver) onTimeout() (ExitKind, error) {
	f.lastRunTimeout = true
	if f.childPID > 0 {
		_ = unix.Kill(f.childPID, KillSignal)
	}

	if _, err := f.readWordTimeout(statusFallbackWait); err != nil {
		// Even the fallback read failed: the forkserver itself is gone.
		return Timeout, errs.New(errs.CodeShuttingDown, "forkserver unresponsive after timeout kill: "+err.Error())
	}

	// The kill was acknowledged, so no child is running anymore. A PID
	// still recorded alongside lastRunTimeout would read as the desync
	// ResetTargetState treats as illegal.
	f.childPID = 0
	return Timeout, nil
}

// classify interprets a received status word as a Go wait-status: WIFSIGNALED
// means the instrumented target crashed; a stopped (not exited) child is
// persistent mode pausing for the next input, and its PID is retained rather
// than cleared.
func (f *Forkserver) classify(statusWord uint32) (ExitKind, error) {
	ws := unix.WaitStatus(statusWord)

	if ws.Signaled() {
		f.childPID = 0
		return Crash, nil
	}

	if ws.Stopped() {
		// persistent-mode pause: keep PID for the next cycle
		return Ok, nil
	}

	f.childPID = 0
	return Ok, nil
}
