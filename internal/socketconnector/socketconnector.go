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

// Package socketconnector is the dual-mode TCP helper a target speaks to
// instead of stdin/shm: server mode accepts the target's connection,
// client mode dials it, and both hand the fuzzer one stream per execution
// under a strict start-then-finish alternation.
package socketconnector

import (
	"fmt"
	"net"
	"time"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// ConnState labels connection lifecycle notifications, surfaced for
// logging/metrics hooks.
type ConnState uint8

const (
	StateNew ConnState = iota
	StateConnected
	StateClosed
	StateError
)

const (
	clientConnectRetries  = 20
	clientConnectAttempt  = 1 * time.Second
	clientRetryBackoff    = 25 * time.Millisecond
	streamReadWriteDeadln = 2 * time.Second
)

// ResponseReadMax bounds a single read of a target's socket-mode
// response.
const ResponseReadMax = 4096

// FuncInfo and FuncError are the registration hooks callers attach to be
// notified of connection lifecycle events.
type FuncInfo func(state ConnState, local, remote net.Addr)
type FuncError func(state ConnState, err error)

// Mode selects which half of the dual-mode helper is active.
type Mode uint8

const (
	ModeServer Mode = iota
	ModeClient
)

// Connector is the dual-mode TCP helper used in socket-server and
// socket-client input delivery.
type Connector struct {
	mode Mode
	addr string

	ln     net.Listener
	stream net.Conn

	accepting chan acceptResult

	onInfo  FuncInfo
	onError FuncError
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// NewServer binds localhost:port immediately, ready for Start/Finish cycles.
func NewServer(port int) (*Connector, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.New(errs.MinSocketConnector, "bind "+addr+": "+err.Error())
	}
	return &Connector{mode: ModeServer, addr: addr, ln: ln}, nil
}

// NewClient prepares a client-mode connector for 127.0.0.1:port; no socket
// is opened until the first Finish call.
func NewClient(port int) *Connector {
	return &Connector{mode: ModeClient, addr: fmt.Sprintf("127.0.0.1:%d", port)}
}

// RegisterFuncInfo attaches a lifecycle notification hook.
func (c *Connector) RegisterFuncInfo(f FuncInfo) { c.onInfo = f }

// RegisterFuncError attaches an error notification hook.
func (c *Connector) RegisterFuncError(f FuncError) { c.onError = f }

func (c *Connector) notifyInfo(state ConnState) {
	if c.onInfo != nil {
		var local, remote net.Addr
		if c.stream != nil {
			local, remote = c.stream.LocalAddr(), c.stream.RemoteAddr()
		}
		c.onInfo(state, local, remote)
	}
}

func (c *Connector) notifyError(state ConnState, err error) {
	if c.onError != nil {
		c.onError(state, err)
	}
}

// Stream returns the currently connected stream, or nil if none.
func (c *Connector) Stream() net.Conn { return c.stream }

// Close releases the listener (server mode) and any open stream.
func (c *Connector) Close() error {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.ln != nil {
		return c.ln.Close()
	}
	return nil
}
