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

// Package fuzzloop drives the outer state-select / fuzz-for-a-while cycle:
// pick the next target state, reset the target into it, run a bounded
// number of fuzz-one iterations, replay the prefix whenever the target had
// to be restarted mid-state, then report coverage and move on. Errors are
// classified recoverable-vs-fatal through Go's net error predicates.
package fuzzloop

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/nabbar/libaflstar-go/internal/atomicx"
	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/eventmanager"
	"github.com/nabbar/libaflstar-go/internal/logger"
	"github.com/nabbar/libaflstar-go/internal/multistate"
	"github.com/nabbar/libaflstar-go/internal/prefix"
	"github.com/nabbar/libaflstar-go/internal/scheduler"
)

// DefaultLoops is the number of seeds fuzzed per state visit before the
// scheduler is asked to pick the next state.
const DefaultLoops = 100

// reportInterval is the progress-report cadence.
const reportInterval = 15 * time.Second

// FuzzOneFunc runs exactly one seed through the fuzzing stages against the
// currently selected target state (mutate, execute, update corpus/feedback).
type FuzzOneFunc func(ctx context.Context, state multistate.TargetStateIdx) error

// ResetStateFunc restarts the target for the newly selected state
// (reconnect) and is called once per state change; the prefix bootstrap is
// replayed afterwards through Replay.
type ResetStateFunc func(ctx context.Context, state multistate.TargetStateIdx) error

// StateResetOccurredFunc reports (and clears) whether the executor had to
// restart the target mid-state since the last check.
type StateResetOccurredFunc func() bool

// Loop owns the wiring the outer loop needs beyond the multistate container
// and scheduler: the per-seed fuzz function, the reset hook, the prefix
// replayer, and the event manager for progress reporting.
type Loop struct {
	Container *multistate.Container
	Scheduler scheduler.Scheduler

	FuzzOne            FuzzOneFunc
	ResetState         ResetStateFunc
	StateResetOccurred StateResetOccurredFunc
	Prefixes           []multistate.Prefix
	Replay             func(ctx context.Context, p multistate.Prefix) error

	Events *eventmanager.Manager
	Log    logger.Logger

	// Progress, when set, is nudged on the reporting cadence so a live
	// terminal display re-renders (eventmanager.ProgressBoard).
	Progress interface{ Refresh() }

	// StatsPath, when non-empty, is refreshed with the current stats
	// snapshot (<out>/stats.json) on the same cadence as the
	// terminal progress report.
	StatsPath string

	Loops int // seeds per state visit; defaults to DefaultLoops if zero

	quitting     atomicx.Flag
	bestCoverage int
	lastReportAt time.Time
}

// RequestStop marks the loop for termination at the next safe point; the
// signal handler drives it through an atomic flag.
func (l *Loop) RequestStop() { l.quitting.Set() }

// isRecoverable reports whether err is one of the connection failures
// treated as "kill the target, pick a new state" rather than fatal:
// connection refused/aborted/reset, broken pipe, not connected.
func isRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOTCONN) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

func isFatalTimeout(err error) bool {
	return errs.Has(err, errs.CodeShuttingDown) || errors.Is(err, os.ErrDeadlineExceeded)
}

func isEINTR(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Run executes the outer loop until RequestStop is called or a fatal
// error is returned.
func (l *Loop) Run(ctx context.Context) error {
	loops := l.Loops
	if loops <= 0 {
		loops = DefaultLoops
	}

	for {
		newIdx, err := l.Scheduler.ChooseNextState(l.Container)
		if err != nil {
			return err
		}

		switch changeErr := l.changeTargetState(ctx, newIdx); {
		case changeErr == nil:
			if l.Log != nil {
				l.Log.Debug("changed target state", logger.Fields{"state": int(newIdx)})
			}
		case isEINTR(changeErr):
			return nil
		case isRecoverable(changeErr):
			if l.Log != nil {
				l.Log.Warning("recoverable connection error when changing state", nil)
			}
			continue
		case isFatalTimeout(changeErr):
			return errs.New(errs.CodeShuttingDown, "forkserver misbehaving during state change")
		default:
			return changeErr
		}

		stop, err := l.fuzzStateForAWhile(ctx, newIdx, loops)
		if err != nil {
			return err
		}

		l.Container.IncrementFuzzCycles()
		l.reportEndOfStateVisit(int(newIdx))

		if stop {
			return nil
		}
	}
}

// changeTargetState begins each outer cycle: switch
// the container, restart the target, then drive it back into the selected
// protocol state by replaying the prefix. The reset flag the deliberate
// restart raised is drained first so the inner loop doesn't replay the same
// prefix a second time on its first iteration.
func (l *Loop) changeTargetState(ctx context.Context, idx multistate.TargetStateIdx) error {
	if err := l.Container.SwitchState(idx); err != nil {
		return err
	}
	if l.ResetState != nil {
		if err := l.ResetState(ctx, idx); err != nil {
			return err
		}
	}
	if l.StateResetOccurred != nil {
		l.StateResetOccurred()
	}
	return l.replayPrefix(ctx, idx)
}

// fuzzStateForAWhile runs up to `loops` seeds against the current state,
// returning stop=true if the caller should end the whole outer loop.
func (l *Loop) fuzzStateForAWhile(ctx context.Context, idx multistate.TargetStateIdx, loops int) (bool, error) {
	for i := 0; i < loops; i++ {
		switch err := l.FuzzOne(ctx, idx); {
		case err == nil:
			// ok
		case isEINTR(err):
			return true, nil
		case isRecoverable(err):
			if l.Log != nil {
				l.Log.Debug("recoverable connection error, stopping this state early", nil)
			}
			return false, nil
		case isFatalTimeout(err):
			return false, errs.New(errs.CodeShuttingDown, "forkserver misbehaving during fuzz_one")
		default:
			return false, err
		}

		if l.quitting.ConsumeTrue() {
			return true, nil
		}

		l.maybeReportProgress(idx)

		if l.StateResetOccurred != nil && l.StateResetOccurred() {
			if err := l.replayPrefix(ctx, idx); err != nil {
				switch {
				case isEINTR(err):
					return true, nil
				case isRecoverable(err):
					return false, nil
				case isFatalTimeout(err):
					return false, errs.New(errs.CodeShuttingDown, "forkserver misbehaving during prefix replay")
				default:
					return false, err
				}
			}
		}
	}
	return false, nil
}

func (l *Loop) replayPrefix(ctx context.Context, idx multistate.TargetStateIdx) error {
	if l.Replay == nil || int(idx) >= len(l.Prefixes) {
		return nil
	}
	return l.Replay(ctx, l.Prefixes[idx])
}

func (l *Loop) maybeReportProgress(idx multistate.TargetStateIdx) {
	now := time.Now()
	if !l.lastReportAt.IsZero() && now.Sub(l.lastReportAt) < reportInterval {
		return
	}
	l.lastReportAt = now
	if l.Progress != nil {
		l.Progress.Refresh()
	}
	if l.Events == nil {
		return
	}
	corpus, execs, _ := l.Events.Snapshot(int(idx))
	_ = l.Events.Fire(int(idx), eventmanager.Event{
		Kind:       eventmanager.EventUpdateExecStats,
		CorpusSize: corpus,
		Executions: execs,
		Time:       now,
	})

	if l.StatsPath != "" {
		if err := l.Events.WriteStatsJSON(l.StatsPath); err != nil && l.Log != nil {
			l.Log.Warning("failed writing stats.json", logger.Fields{"err": err.Error()})
		}
	}
}

func (l *Loop) reportEndOfStateVisit(idx int) {
	if l.Events == nil {
		return
	}
	corpus, execs, _ := l.Events.Snapshot(idx)
	_ = l.Events.Fire(idx, eventmanager.Event{
		Kind:       eventmanager.EventUpdateExecStats,
		CorpusSize: corpus,
		Executions: execs,
		Time:       time.Now(),
	})

	covered, total := l.Container.CalculateTotalCoverage()
	if covered > l.bestCoverage {
		l.bestCoverage = covered
		ratio := 0.0
		if total > 0 {
			ratio = float64(covered) / float64(total)
		}
		_ = l.Events.Fire(idx, eventmanager.Event{
			Kind:          eventmanager.EventUpdateUserStats,
			UserStatName:  "overall_cov",
			UserStatValue: ratio,
			Time:          time.Now(),
		})
	}
}

// LoadPrefixesFromDir is a thin convenience wrapper so callers don't need
// to import internal/prefix directly just to wire a Loop together.
func LoadPrefixesFromDir(inDir string) ([]multistate.Prefix, error) {
	return prefix.Load(inDir)
}
