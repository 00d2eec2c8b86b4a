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

// Package tracecollector records, per execution, the ordered sequence of
// {exit_kind, request, response} pairs into CBOR-encoded trace_<n>.cbor
// files, one sequence per trace. Encoding uses fxamacker/cbor/v2: the
// records are self-delimiting, so a reader can stream them back without a
// framing layer.
package tracecollector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/forkserver"
)

// Pair is one request/response record within a trace.
type Pair struct {
	ExitKind string `cbor:"ek"`
	Request  []byte `cbor:"req"`
	Response []byte `cbor:"resp"`
}

// NewPair builds a Pair from an execution's classification and payloads.
func NewPair(kind forkserver.ExitKind, request, response []byte) Pair {
	return Pair{ExitKind: kind.String(), Request: request, Response: response}
}

// Collector writes request/response pairs belonging to the current trace
// into a single CBOR stream. Three verbs: WritePair appends, SaveThisTrace
// keeps, StartNewTrace discards-and-reopens.
type Collector struct {
	dir     string
	file    *os.File
	w       *bufio.Writer
	enc     *cbor.Encoder
	traceNo int
}

// New creates (or reuses) the trace directory and opens trace_0.cbor,
// truncating it if it already exists.
func New(dir string) (*Collector, error) {
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return nil, errs.New(errs.CodeIllegalArgument, "trace dir exists and is not a directory: "+dir)
		}
	} else if os.IsNotExist(err) {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.New(errs.CodeFile, "create trace dir: "+err.Error())
		}
	} else {
		return nil, errs.New(errs.CodeFile, "stat trace dir: "+err.Error())
	}

	c := &Collector{dir: dir}
	if err := c.openTrace(0); err != nil {
		return nil, err
	}
	return c, nil
}

func filename(n int) string { return fmt.Sprintf("trace_%d.cbor", n) }

func (c *Collector) openTrace(n int) error {
	f, err := os.OpenFile(filepath.Join(c.dir, filename(n)), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.New(errs.CodeFile, "open "+filename(n)+": "+err.Error())
	}
	if c.file != nil {
		_ = c.file.Close()
	}
	c.file = f
	c.w = bufio.NewWriter(f)
	c.enc = cbor.NewEncoder(c.w)
	c.traceNo = n
	return nil
}

// WritePair appends one record to the currently open trace file.
func (c *Collector) WritePair(p Pair) error {
	if err := c.enc.Encode(p); err != nil {
		return errs.New(errs.CodeFile, "encode trace pair: "+err.Error())
	}
	return c.w.Flush()
}

// SaveThisTrace marks the current trace as worth keeping: the next
// StartNewTrace call will open a fresh file instead of overwriting this one.
func (c *Collector) SaveThisTrace() {
	c.traceNo++
}

// StartNewTrace reopens the file at the current trace number, truncating it
// if the number has not changed since the last save.
func (c *Collector) StartNewTrace() error {
	return c.openTrace(c.traceNo)
}

// Close flushes and closes the currently open trace file.
func (c *Collector) Close() error {
	if c.w != nil {
		_ = c.w.Flush()
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
