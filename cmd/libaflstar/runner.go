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

package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/nabbar/libaflstar-go/internal/config"
	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/eventmanager"
	"github.com/nabbar/libaflstar-go/internal/executor"
	"github.com/nabbar/libaflstar-go/internal/forkserver"
	"github.com/nabbar/libaflstar-go/internal/fuzzloop"
	"github.com/nabbar/libaflstar-go/internal/logger"
	"github.com/nabbar/libaflstar-go/internal/multistate"
	"github.com/nabbar/libaflstar-go/internal/mutator"
	"github.com/nabbar/libaflstar-go/internal/prefix"
	"github.com/nabbar/libaflstar-go/internal/scheduler"
	"github.com/nabbar/libaflstar-go/internal/tracecollector"
	"github.com/nabbar/libaflstar-go/pkg/bitmap"
)

// runner owns every component the fuzz loop is wired from, for one CLI
// invocation.
type runner struct {
	cfg *config.Config
	log logger.Logger

	cov       *bitmap.Handle
	stateful  *executor.StatefulExecutor
	container *multistate.Container
	trace     *tracecollector.Collector
	events    *eventmanager.Manager
	covCSV    *coverageOverTimeWriter
	loop      *fuzzloop.Loop
}

// newRunner resolves the on-disk bootstrap layout, allocates the
// coverage map and forkserver-backed executor, and wires every stage of
// the fuzz loop together.
func newRunner(ctx context.Context, log logger.Logger, cfg *config.Config) (*runner, error) {
	if sig, ok := parseSignal(cfg.KillSignal); ok {
		forkserver.KillSignal = sig
	}

	prefixes, err := prefix.Load(cfg.InputDir)
	if err != nil {
		return nil, err
	}

	numStates := len(prefixes)
	if numStates == 0 {
		log.Info("no prefix subdirectories found, treating input dir as a single unprefixed state", logger.Fields{"input": cfg.InputDir})
		numStates = 1
	}

	container, err := multistate.NewMultiCorpMultiMeta(numStates, bitmap.DefaultSize, prefixes)
	if err != nil {
		return nil, err
	}

	if err = seedInitialCorpus(cfg.InputDir, container); err != nil {
		_ = container.Close()
		return nil, err
	}

	cov, err := bitmap.New(bitmap.DefaultSize)
	if err != nil {
		_ = container.Close()
		return nil, errs.New(errs.MinExecutor, "allocate coverage map: "+err.Error())
	}

	traces, err := tracecollector.New(filepath.Join(cfg.OutputDir, "replay_traces"))
	if err != nil {
		_ = cov.Close()
		_ = container.Close()
		return nil, err
	}

	covCSV, err := newCoverageOverTimeWriter(cfg.OutputDir)
	if err != nil {
		_ = traces.Close()
		_ = cov.Close()
		_ = container.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	events := eventmanager.New(log, reg)
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, log, cfg.MetricsAddr, reg)
	}
	sched := scheduler.NewNoveltySearchAndOutgoingEdges()
	sched.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

	r := &runner{
		cfg:       cfg,
		log:       log,
		cov:       cov,
		container: container,
		trace:     traces,
		events:    events,
		covCSV:    covCSV,
	}

	if err = r.spawnExecutor(); err != nil {
		r.Close()
		return nil, err
	}

	// The replayer and loop hooks go through r.stateful rather than a bound
	// method value so a forkserver respawn swaps the executor under them.
	replayer := prefix.NewReplayer(func(input []byte) error {
		_, _, _, err := r.stateful.RunTracked(input)
		if err == nil {
			container.IncrementExecutions()
		}
		return err
	})

	r.loop = &fuzzloop.Loop{
		Container: container,
		Scheduler: sched,
		FuzzOne:   r.newFuzzOneFunc(mutator.ByteMutator{}, rand.New(rand.NewSource(time.Now().UnixNano()+1))),
		ResetState: func(ctx context.Context, idx multistate.TargetStateIdx) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.stateful.ResetTargetState()
		},
		StateResetOccurred: func() bool { return r.stateful.StateResetOccurred() },
		Prefixes:           prefixes,
		Replay: func(ctx context.Context, p multistate.Prefix) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return replayer.Replay(p)
		},
		Events:    events,
		Log:       log,
		Progress:  eventmanager.NewProgressBoard(os.Stderr, events, numStates),
		StatsPath: filepath.Join(cfg.OutputDir, "stats.json"),
		Loops:     cfg.LoopsPerState,
	}

	return r, nil
}

// spawnExecutor (re)creates the forkserver-backed executor stack against
// the runner's existing coverage map and trace collector. On respawn the
// old stack must already be stopped.
func (r *runner) spawnExecutor() error {
	mode := executor.ModeSocketServer
	if r.cfg.TargetPort == 0 {
		mode = executor.ModeStdin
	}

	fs, err := forkserver.New(r.cfg.TargetPath, r.cfg.TargetArgs, r.cov.ID(), forkserver.Options{Debug: r.cfg.DebugChild, Env: r.cfg.TargetEnv})
	if err != nil {
		return err
	}

	execCfg := executor.Config{
		Mode:           mode,
		Port:           r.cfg.TargetPort,
		PerExecTimeout: r.cfg.PerExecTimeout,
		PidTimeout:     2 * time.Second,
	}
	if mode == executor.ModeStdin {
		execCfg.InputPath = filepath.Join(r.cfg.OutputDir, ".input")
	}

	exe, err := executor.New(execCfg, fs, r.cov, nil)
	if err != nil {
		_ = fs.Stop()
		return err
	}
	exe.AttachTraceCollector(r.trace)

	r.stateful = executor.NewStateful(exe, fs.ResetTargetState)
	return nil
}

// serveMetrics starts a /metrics endpoint on addr backed by reg, shutting
// down when ctx is cancelled. Opt-in via -metrics-addr; off by default so
// the fuzzer doesn't open a listening socket nobody asked for.
func serveMetrics(ctx context.Context, log logger.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warning("metrics server stopped", logger.Fields{"err": err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// newFuzzOneFunc builds the per-seed fuzz stage: pick a parent from the
// active state's corpus, mutate it, run it, and fold the result into the
// corpus/objective/event bookkeeping.
func (r *runner) newFuzzOneFunc(mut mutator.Mutator, rng *rand.Rand) fuzzloop.FuzzOneFunc {
	crashCounts := make([]int, r.container.StatesLen())

	return func(ctx context.Context, idx multistate.TargetStateIdx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		corpus := r.container.Corpus()
		var parent []byte
		if len(corpus) > 0 {
			parent = corpus[rng.Intn(len(corpus))].Input
		} else {
			parent = []byte{0}
		}

		input, res := mut.Mutate(rng, parent)
		if res == mutator.Skipped {
			input = parent
		}
		if max := r.container.MaxInputSize(); len(input) > max {
			input = input[:max]
		}

		kind, _, reportTimeout, err := r.stateful.RunTracked(input)
		if err != nil {
			return err
		}

		r.container.IncrementExecutions()
		_ = r.events.Fire(int(idx), eventmanager.Event{
			Kind:       eventmanager.EventUpdateExecStats,
			Executions: uint64(r.container.Executions()),
			Time:       time.Now(),
		})

		switch kind {
		case forkserver.Crash, forkserver.Oom:
			crashCounts[idx]++
			if werr := r.saveCrash(idx, input); werr != nil {
				r.log.Warning("failed to save crash", logger.Fields{"err": werr.Error()})
			}
			_ = r.events.Fire(int(idx), eventmanager.Event{
				Kind:          eventmanager.EventObjective,
				ObjectiveSize: crashCounts[idx],
				Time:          time.Now(),
			})
		case forkserver.Ok:
			hist := r.container.Coverage()
			if hist != nil {
				before := hist.NonZero()
				bitmap.MergeMax(hist.Bytes(), r.stateful.Coverage().Bytes())
				if hist.NonZero() > before {
					r.container.AddTestcase(multistate.Testcase{
						Input:    input,
						Coverage: append([]byte(nil), hist.Bytes()...),
					})
					_ = r.events.Fire(int(idx), eventmanager.Event{
						Kind:       eventmanager.EventNewTestcase,
						CorpusSize: len(r.container.Corpus()),
						Executions: uint64(r.container.Executions()),
						Time:       time.Now(),
					})
					if r.covCSV != nil {
						current, total := r.container.CalculateTotalCoverage()
						if werr := r.covCSV.AppendRow(current, total); werr != nil {
							r.log.Warning("failed appending coverage_over_time.csv row", logger.Fields{"err": werr.Error()})
						}
					}
				}
			}
		case forkserver.Timeout:
			if reportTimeout {
				_ = r.events.Fire(int(idx), eventmanager.Event{
					Kind:          eventmanager.EventUpdateUserStats,
					UserStatName:  "timeouts",
					UserStatValue: float64(r.stateful.TimeoutCount()),
					Time:          time.Now(),
				})
			}
		}

		return nil
	}
}

// saveCrash writes a reproducer under <out>/crashes, named after the state
// and a nanosecond UTC timestamp so repeated crashes do not overwrite each
// other.
func (r *runner) saveCrash(idx multistate.TargetStateIdx, input []byte) error {
	dir := filepath.Join(r.cfg.OutputDir, "crashes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.CodeFile, "create crashes dir: "+err.Error())
	}
	name := idx.String() + "-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	return os.WriteFile(filepath.Join(dir, name), input, 0o600)
}

// Run drives the outer fuzz loop until RequestStop is called, the context
// is cancelled, or a fatal error occurs, then writes the end-of-run
// summary. A ShuttingDown error from the
// loop means the forkserver is misbehaving: the whole target stack is torn
// down and respawned against the same coverage map, and fuzzing continues
//.
func (r *runner) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.loop.RequestStop()
	}()

	var runErr error
	for {
		runErr = r.loop.Run(ctx)
		if runErr == nil || !errs.Has(runErr, errs.CodeShuttingDown) || ctx.Err() != nil {
			break
		}
		r.log.Warning("forkserver misbehaving, respawning target", logger.Fields{"err": runErr.Error()})
		_ = r.stateful.Stop()
		if spawnErr := r.spawnExecutor(); spawnErr != nil {
			runErr = spawnErr
			break
		}
	}
	if err := writeTotalStatsInfo(r.cfg, r.container); err != nil {
		r.log.Warning("failed writing total_stats_info.txt", logger.Fields{"err": err.Error()})
	}
	if err := writeStateCorpusCaches(r.cfg.OutputDir, r.container); err != nil {
		r.log.Warning("failed writing .states corpus caches", logger.Fields{"err": err.Error()})
	}
	if err := r.events.WriteStatsJSON(filepath.Join(r.cfg.OutputDir, "stats.json")); err != nil {
		r.log.Warning("failed writing stats.json", logger.Fields{"err": err.Error()})
	}
	return runErr
}

// Close releases every resource newRunner allocated, in reverse order.
func (r *runner) Close() {
	if r.covCSV != nil {
		_ = r.covCSV.Close()
	}
	if r.trace != nil {
		_ = r.trace.Close()
	}
	if r.stateful != nil {
		_ = r.stateful.Stop()
	}
	if r.cov != nil {
		_ = r.cov.Close()
	}
	if r.container != nil {
		_ = r.container.Close()
	}
}

// seedInitialCorpus loads loose seed files directly under inDir as initial
// corpus candidates evaluated against every target state; subdirectories
// are the per-state prefixes and are handled by prefix.Load instead.
func seedInitialCorpus(inDir string, c *multistate.Container) error {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return errs.New(errs.MinPrefix, "read input dir "+inDir+": "+err.Error())
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, rerr := os.ReadFile(filepath.Join(inDir, e.Name()))
		if rerr != nil {
			return errs.New(errs.CodeFile, "read seed "+e.Name()+": "+rerr.Error())
		}
		tc := multistate.Testcase{Input: data}
		if ferr := c.ForEach(func(multistate.TargetStateIdx) error {
			c.AddTestcase(tc)
			c.IncrementImported()
			return nil
		}); ferr != nil {
			return ferr
		}
	}
	return nil
}

// parseSignal resolves the handful of kill-signal names the -s flag
// accepts (default SIGKILL) to their syscall numbers.
func parseSignal(name string) (unix.Signal, bool) {
	switch name {
	case "SIGKILL":
		return unix.SIGKILL, true
	case "SIGTERM":
		return unix.SIGTERM, true
	case "SIGINT":
		return unix.SIGINT, true
	case "SIGSTOP":
		return unix.SIGSTOP, true
	case "SIGHUP":
		return unix.SIGHUP, true
	default:
		return 0, false
	}
}
