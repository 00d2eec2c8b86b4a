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
	"io"
	"time"
)

// readFullTimeout reads len(buf) bytes from the status pipe, failing if the
// deadline elapses before the read completes (a short read is as fatal as
// an I/O error per the handshake/execution failure semantics).
func (f *Forkserver) readFullTimeout(buf []byte, timeout time.Duration) error {
	if err := f.stRead.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(f.stRead, buf)
	return err
}

// writeFullTimeout writes all of buf to the control pipe under a deadline.
func (f *Forkserver) writeFullTimeout(buf []byte, timeout time.Duration) error {
	if err := f.ctlWrite.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := f.ctlWrite.Write(buf)
	return err
}
