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

// Package forkserver drives an AFL++-instrumented target through its
// forkserver protocol: spawn, capability handshake, then repeated
// fork-and-run cycles over a pair of pipes pinned to fixed file
// descriptors. The hello/ack bit layout and timing constants match the
// AFL++ instrumentation contract bit-exactly.
package forkserver

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// Fixed file descriptors the AFL++ instrumentation expects the forkserver
// control/status pipes to be dup2'd onto in the child.
const (
	CtlFD = 198
	StFD  = CtlFD + 1
)

// Capability bits exchanged in the hello/ack words.
const (
	OptEnabled    uint32 = 0x80000001
	OptMapSize    uint32 = 0x40000000
	OptShmemFuzz  uint32 = 0x01000000
	OptAutoDict   uint32 = 0x10000000
	autoDictMinSz        = 2
	autoDictMaxSz        = 0x00ffffff
)

// KillSignal is the signal sent to a child that missed its per-execution
// deadline. SIGTERM rather than SIGKILL, so the instrumentation gets a
// chance to flush coverage.
var KillSignal = unix.SIGTERM

const (
	ctlWriteTimeout    = 2 * time.Second
	pidReadTimeout     = 2 * time.Second
	statusFallbackWait = 2 * time.Second
)

// Options configures a Forkserver's capability negotiation.
type Options struct {
	WantShmemFuzz bool              // whether we offer a secondary shm-fuzz input region
	WantAutoDict  bool              // whether we accept an autodict a.k.a. AFL_TOKEN pull
	ShmFuzzID     int               // shm id for shmem-fuzz input mode, if WantShmemFuzz
	Debug         bool              // keep the child's stdout/stderr attached instead of discarding them
	Env           map[string]string // extra target environment (CLI -e), applied on top of the forkserver's own vars
}

// Forkserver supervises one instrumented child process across many
// executions, negotiating the AFL++ hello/ack handshake once at startup.
type Forkserver struct {
	cmd *exec.Cmd

	ctlWrite *os.File // parent's write end of the control pipe (child reads CtlFD)
	stRead   *os.File // parent's read end of the status pipe (child writes StFD)

	opts Options

	mapSize        int
	lastRunTimeout bool
	childPID       int
	autoDict       [][]byte

	startedAt time.Time
}

// New spawns the target under shell path/argv with its environment extended
// for forkserver + persistent + deferred-forkserver operation, remaps the
// control/status pipes onto FDs 198/199 in the child via a tiny dup2 shell
// preamble (os/exec has no portable way to land ExtraFiles on arbitrary high
// FDs), and performs the capability handshake.
func New(path string, args []string, shmID int, opts Options) (*Forkserver, error) {
	ctlRead, ctlWrite, err := os.Pipe()
	if err != nil {
		return nil, errs.New(errs.CodeFile, "create control pipe: "+err.Error())
	}
	stRead, stWrite, err := os.Pipe()
	if err != nil {
		return nil, errs.New(errs.CodeFile, "create status pipe: "+err.Error())
	}

	// ExtraFiles[0] and [1] land on child FDs 3 and 4; the preamble dups
	// those onto 198/199 (CtlFD/StFD) before exec'ing the real target.
	shellCmd := fmt.Sprintf("exec %d<&3 %d<&4 3<&- 4<&-; exec \"$0\" \"$@\"", CtlFD, StFD)
	cmd := exec.Command("/bin/sh", append([]string{"-c", shellCmd, path}, args...)...)
	cmd.Path = "/bin/sh"
	cmd.ExtraFiles = []*os.File{ctlRead, stWrite}
	// Setpgid so ResetTargetState can signal the whole process group (the
	// forked target plus any children it spawned), not just the tracked PID.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if opts.Debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	cmd.Env = append(append([]string{}, os.Environ()...),
		"__AFL_PERSISTENT=1",
		"__AFL_DEFER_FORKSRV=1",
		"LD_BIND_NOW=1",
		fmt.Sprintf("__AFL_SHM_ID=%d", shmID),
	)
	if opts.WantShmemFuzz {
		cmd.Env = append(cmd.Env, fmt.Sprintf("__AFL_SHM_FUZZ_ID=%d", opts.ShmFuzzID))
	}
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err = cmd.Start(); err != nil {
		_ = ctlRead.Close()
		_ = ctlWrite.Close()
		_ = stRead.Close()
		_ = stWrite.Close()
		return nil, errs.New(errs.CodeFile, "start target: "+err.Error())
	}

	_ = ctlRead.Close()
	_ = stWrite.Close()

	fs := &Forkserver{
		cmd:      cmd,
		ctlWrite: ctlWrite,
		stRead:   stRead,
		opts:     opts,
		mapSize:  DefaultMapSize,
	}

	if err = fs.handshake(); err != nil {
		_ = fs.Stop()
		return nil, err
	}

	fs.startedAt = time.Now()
	return fs, nil
}

// DefaultMapSize is used when the target does not advertise FS_OPT_MAPSIZE.
const DefaultMapSize = 65536

// MapSize returns the negotiated coverage map size.
func (f *Forkserver) MapSize() int { return f.mapSize }

// ChildPID returns the currently tracked child PID, or 0 if none is tracked
// (either never forked yet, or cleared after the last execution finished).
func (f *Forkserver) ChildPID() int { return f.childPID }

// AutoDict returns the dictionary tokens pulled from the target during the
// handshake, if autodict negotiation succeeded.
func (f *Forkserver) AutoDict() [][]byte { return f.autoDict }

// Uptime reports how long this forkserver process has been running.
func (f *Forkserver) Uptime() time.Duration { return time.Since(f.startedAt) }

// ResetTargetState forcibly ends the currently-stopped child so the next
// Run forks a fresh one. If the last run already timed out while
// a child PID is still recorded, the forkserver and this wrapper have
// gotten out of sync and that is reported as an IllegalState rather than
// acted on. Otherwise the child's process group is SIGKILLed, the "last
// timed out" flag is set so the forkserver treats the next PID read as
// belonging to a newly forked child, and the stored PID is cleared.
func (f *Forkserver) ResetTargetState() error {
	if f.lastRunTimeout && f.childPID > 0 {
		return errs.New(errs.CodeIllegalState, "reset_target_state: last run already timed out with a child pid still recorded")
	}
	if f.childPID > 0 {
		_ = unix.Kill(-f.childPID, unix.SIGKILL)
	}
	f.lastRunTimeout = true
	f.childPID = 0
	return nil
}

// Stop kills both the forkserver and any currently-running child, then
// releases the pipes. Safe to call more than once.
func (f *Forkserver) Stop() error {
	if f.childPID > 0 {
		_ = unix.Kill(f.childPID, unix.SIGKILL)
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
		_, _ = f.cmd.Process.Wait()
	}
	if f.ctlWrite != nil {
		_ = f.ctlWrite.Close()
	}
	if f.stRead != nil {
		_ = f.stRead.Close()
	}
	return nil
}
