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

package socketconnector

import (
	"net"
	"strconv"
	"time"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// Start begins an execution cycle. In server mode: if the previous stream is
// still open it is kept, otherwise a background goroutine is spawned to
// accept the next connection (the child process connects after it forks).
// In client mode, Start only drops a stream left over from a previous child
// when childFresh is set; connecting happens in Finish.
func (c *Connector) Start(childFresh bool) error {
	switch c.mode {
	case ModeServer:
		// a stream accepted from a child that no longer exists is not the
		// "still-valid" case; the fresh child will be a new connection
		if childFresh && c.stream != nil {
			_ = c.stream.Close()
			c.stream = nil
		}
		if c.stream != nil {
			return nil
		}
		if c.accepting != nil {
			return errs.New(errs.MinSocketConnector, "start called while an accept is already pending")
		}
		ch := make(chan acceptResult, 1)
		c.accepting = ch
		go func() {
			conn, err := c.ln.Accept()
			ch <- acceptResult{conn: conn, err: err}
		}()
		return nil
	case ModeClient:
		if childFresh && c.stream != nil {
			_ = c.stream.Close()
			c.stream = nil
		}
		return nil
	default:
		return errs.New(errs.MinSocketConnector, "unknown connector mode")
	}
}

// Finish completes the cycle begun by Start: in server mode it joins the
// background accept; in client mode it connects (or reuses a still-valid
// stream), retrying any failed dial up to clientConnectRetries times.
func (c *Connector) Finish() (net.Conn, error) {
	switch c.mode {
	case ModeServer:
		return c.finishServer()
	case ModeClient:
		return c.finishClient()
	default:
		return nil, errs.New(errs.MinSocketConnector, "unknown connector mode")
	}
}

func (c *Connector) finishServer() (net.Conn, error) {
	if c.stream != nil {
		return c.stream, nil
	}
	if c.accepting == nil {
		return nil, errs.New(errs.CodeIllegalState, "finish called without a matching start")
	}

	res := <-c.accepting
	c.accepting = nil
	if res.err != nil {
		c.notifyError(StateError, res.err)
		return nil, errs.New(errs.MinSocketConnector, "accept: "+res.err.Error())
	}

	c.stream = res.conn
	c.notifyInfo(StateConnected)
	return c.stream, nil
}

func (c *Connector) finishClient() (net.Conn, error) {
	if c.stream != nil {
		return c.stream, nil
	}

	var lastErr error
	for attempt := 0; attempt < clientConnectRetries; attempt++ {
		conn, err := net.DialTimeout("tcp", c.addr, clientConnectAttempt)
		if err == nil {
			c.stream = conn
			deadline := time.Now().Add(streamReadWriteDeadln)
			_ = conn.SetDeadline(deadline)
			c.notifyInfo(StateConnected)
			return conn, nil
		}
		lastErr = err
		time.Sleep(clientRetryBackoff)
	}

	c.notifyError(StateError, lastErr)
	return nil, errs.New(errs.CodeTimeout, "connect to "+c.addr+" after "+strconv.Itoa(clientConnectRetries)+" attempts: "+lastErr.Error())
}
