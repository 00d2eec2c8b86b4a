/*
 * MIT License
 *
 * Copyright (c) 2023 Nicolas JUHEL
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

// Package hexa hex-encodes binary previews (the merged-bitmap preview in
// total_stats_info.txt and the request/response bytes printed by
// cmd/tracedump), wrapping encoding/hex behind the shared Coder interface.
package hexa

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	libenc "github.com/nabbar/libaflstar-go/internal/encoding"
)

var ErrInvalidBufferSize = errors.New("invalid buffer size")

type crt struct{}

// New returns a stateless, concurrency-safe hexadecimal Coder.
func New() libenc.Coder {
	return &crt{}
}

func (o *crt) Encode(p []byte) []byte {
	if len(p) < 1 {
		return make([]byte, 0)
	}
	d := make([]byte, hex.EncodedLen(len(p)))
	hex.Encode(d, p)
	return d
}

func (o *crt) Decode(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return make([]byte, 0), nil
	}
	d := make([]byte, hex.DecodedLen(len(p)))
	_, e := hex.Decode(d, p)
	return d, e
}

func (o *crt) EncodeReader(r io.Reader) io.ReadCloser {
	f := func(p []byte) (n int, err error) {
		if cap(p) < 2 {
			return 0, ErrInvalidBufferSize
		}
		b := make([]byte, hex.DecodedLen(cap(p)))

		n, err = r.Read(b)
		if n > 0 {
			b = o.Encode(b[:n])
			n = len(b)
			if n > cap(p) {
				return 0, ErrInvalidBufferSize
			}
			copy(p, b)
		}
		return n, err
	}
	return &reader{f: f, c: closerOf(r)}
}

func (o *crt) DecodeReader(r io.Reader) io.ReadCloser {
	h := hex.NewDecoder(r)
	return &reader{f: h.Read, c: closerOf(r)}
}

func (o *crt) EncodeWriter(w io.Writer) io.WriteCloser {
	h := hex.NewEncoder(w)
	return &writer{f: h.Write, c: closerOf(w)}
}

func (o *crt) DecodeWriter(w io.Writer) io.WriteCloser {
	f := func(p []byte) (n int, err error) {
		n = len(p)
		b, err := o.Decode(p)
		if err != nil {
			return 0, err
		}
		if _, err = w.Write(b); err != nil {
			return 0, err
		}
		return n, nil
	}
	return &writer{f: f, c: closerOf(w)}
}

func (o *crt) Reset() {}

func closerOf(v any) func() error {
	return func() error {
		if c, ok := v.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}
}

type reader struct {
	f func(p []byte) (n int, err error)
	c func() error
}

func (r *reader) Read(p []byte) (int, error) {
	if r.f == nil {
		return 0, fmt.Errorf("invalid reader")
	}
	return r.f(p)
}

func (r *reader) Close() error { return r.c() }

type writer struct {
	f func(p []byte) (n int, err error)
	c func() error
}

func (w *writer) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, fmt.Errorf("invalid writer")
	}
	return w.f(p)
}

func (w *writer) Close() error { return w.c() }
