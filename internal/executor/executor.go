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

// Package executor drives one execution cycle against a forkserver-backed
// target: deliver an input by the configured mode, run the child, collect
// its classification and (for socket modes) its response, and optionally
// record the cycle into a trace.
package executor

import (
	"io"
	"os"
	"time"

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/forkserver"
	"github.com/nabbar/libaflstar-go/internal/socketconnector"
	"github.com/nabbar/libaflstar-go/internal/tracecollector"
	"github.com/nabbar/libaflstar-go/pkg/bitmap"
)

// InputMode selects how an input reaches the target.
type InputMode uint8

const (
	ModeStdin InputMode = iota
	ModeSharedMem
	ModeSocketServer
	ModeSocketClient
)

// Config holds the immutable wiring for one Executor.
type Config struct {
	Mode           InputMode
	InputPath      string // stdin mode: file path the harness reads its input from
	Port           int    // socket modes: TCP port
	PerExecTimeout time.Duration
	PidTimeout     time.Duration
}

// Executor runs one execution cycle at a time against a single forkserver.
type Executor struct {
	cfg      Config
	fs       *forkserver.Forkserver
	cov      *bitmap.Handle
	shmInput *bitmap.Handle // __AFL_SHM_FUZZ_ID ring, only set in ModeSharedMem

	conn  *socketconnector.Connector
	trace *tracecollector.Collector
}

// New wraps an already-handshaken forkserver and coverage map with the
// input-delivery machinery named by cfg.Mode. shmInput is the separate
// __AFL_SHM_FUZZ_ID segment and is only required for ModeSharedMem.
func New(cfg Config, fs *forkserver.Forkserver, cov *bitmap.Handle, shmInput *bitmap.Handle) (*Executor, error) {
	e := &Executor{cfg: cfg, fs: fs, cov: cov, shmInput: shmInput}

	switch cfg.Mode {
	case ModeSocketServer:
		conn, err := socketconnector.NewServer(cfg.Port)
		if err != nil {
			return nil, err
		}
		e.conn = conn
	case ModeSocketClient:
		e.conn = socketconnector.NewClient(cfg.Port)
	case ModeStdin:
		// no connector needed; input travels through a file.
	case ModeSharedMem:
		if e.shmInput == nil {
			return nil, errs.New(errs.CodeIllegalArgument, "shared-memory input mode requires a shm input handle")
		}
	default:
		return nil, errs.New(errs.CodeIllegalArgument, "unknown executor input mode")
	}

	return e, nil
}

// AttachTraceCollector wires a trace collector that records every cycle's
// request/response pair; nil detaches it.
func (e *Executor) AttachTraceCollector(c *tracecollector.Collector) { e.trace = c }

// Coverage returns the shared-memory coverage bitmap driving this executor.
func (e *Executor) Coverage() *bitmap.Handle { return e.cov }

// Run performs one full execution cycle and returns
// the classification plus the response bytes observed over a socket mode
// (nil for stdin/shm modes). Socket-mode requests are written only after
// the child has been forked, since a fresh child is the peer the
// connector accepts from or dials to.
func (e *Executor) Run(input []byte) (forkserver.ExitKind, []byte, error) {
	if e.cov != nil {
		e.cov.Reset()
	}

	childFresh := e.fs.ChildPID() == 0
	if childFresh && e.trace != nil {
		if err := e.trace.StartNewTrace(); err != nil {
			return forkserver.Ok, nil, err
		}
	}

	if err := e.stageInput(input, childFresh); err != nil {
		return forkserver.Ok, nil, err
	}

	if err := e.fs.Fork(e.cfg.PidTimeout); err != nil {
		return forkserver.Ok, nil, err
	}

	if e.conn != nil {
		stream, err := e.conn.Finish()
		if err != nil {
			return forkserver.Ok, nil, err
		}
		if _, err = stream.Write(input); err != nil {
			return forkserver.Ok, nil, err
		}
	}

	kind, err := e.fs.Await(e.cfg.PerExecTimeout)
	if err != nil {
		return kind, nil, err
	}

	var response []byte
	if e.conn != nil {
		response = e.readResponse(e.conn.Stream())
	}

	if e.trace != nil {
		_ = e.trace.WritePair(tracecollector.NewPair(kind, input, response))
		if kind == forkserver.Crash {
			e.trace.SaveThisTrace()
		}
	}

	return kind, response, nil
}

// stageInput performs the mode-dependent half that is safe before the
// fork: write the stdin file or shm envelope, arm the server-mode accept,
// or drop a client-mode stream left over from a dead child.
func (e *Executor) stageInput(input []byte, childFresh bool) error {
	switch e.cfg.Mode {
	case ModeStdin:
		return os.WriteFile(e.cfg.InputPath, input, 0o600)
	case ModeSharedMem:
		return e.writeShmInput(input)
	case ModeSocketServer, ModeSocketClient:
		return e.conn.Start(childFresh)
	default:
		return errs.New(errs.CodeIllegalArgument, "unknown executor input mode")
	}
}

func (e *Executor) writeShmInput(input []byte) error {
	if e.shmInput == nil {
		return errs.New(errs.CodeIllegalState, "shared-memory input mode requires a shm input handle")
	}
	return bitmap.WriteLengthPrefixed(e.shmInput.Bytes(), input)
}

func (e *Executor) readResponse(stream io.Reader) []byte {
	buf := make([]byte, socketconnector.ResponseReadMax)
	n, _ := stream.Read(buf)
	if n <= 0 {
		return nil
	}
	return buf[:n]
}

// Stop releases the forkserver and any connector resources.
func (e *Executor) Stop() error {
	var first error
	if e.conn != nil {
		if err := e.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := e.fs.Stop(); err != nil && first == nil {
		first = err
	}
	return first
}
