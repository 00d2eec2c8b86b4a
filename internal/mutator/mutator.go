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

// Package mutator provides the byte-level input mutator and the
// protocol-trailer wrappers needed for parsers that reject a test case
// missing its line terminator.
// Full havoc-style mutation scheduling is intentionally out of scope here;
// this only has to be rich enough to drive the executor during fuzzing.
package mutator

import "math/rand"

// Result reports whether a mutation actually changed anything; on Skipped
// the fuzzer executes the unmutated parent input instead.
type Result uint8

const (
	Skipped Result = iota
	Mutated
)

// Mutator returns a transformed copy of an input, reporting whether it
// changed anything.
type Mutator interface {
	Mutate(r *rand.Rand, input []byte) ([]byte, Result)
	Name() string
}

// ByteMutator applies one of a handful of classic byte-level mutations:
// bit flip, byte flip, random byte replace, byte insert, byte delete.
type ByteMutator struct{}

// Name identifies the mutator for logging.
func (ByteMutator) Name() string { return "ByteMutator" }

// Mutate picks one mutation kind uniformly and applies it once.
func (ByteMutator) Mutate(r *rand.Rand, input []byte) ([]byte, Result) {
	if len(input) == 0 {
		return input, Skipped
	}

	out := make([]byte, len(input))
	copy(out, input)

	switch r.Intn(5) {
	case 0:
		pos := r.Intn(len(out))
		out[pos] ^= 1 << uint(r.Intn(8))
	case 1:
		pos := r.Intn(len(out))
		out[pos] = ^out[pos]
	case 2:
		pos := r.Intn(len(out))
		out[pos] = byte(r.Intn(256))
	case 3:
		pos := r.Intn(len(out) + 1)
		b := byte(r.Intn(256))
		out = append(out[:pos], append([]byte{b}, out[pos:]...)...)
	case 4:
		if len(out) <= 1 {
			return out, Skipped
		}
		pos := r.Intn(len(out))
		out = append(out[:pos], out[pos+1:]...)
	}

	return out, Mutated
}

// TrailerMutator wraps an inner Mutator and appends a fixed trailer to any
// input it actually mutated, for parsers that require a line terminator or
// other fixed suffix to even start parsing.
type TrailerMutator struct {
	name    string
	inner   Mutator
	trailer []byte
}

// NewTrailerMutator wraps inner, appending trailer whenever inner reports a
// real mutation.
func NewTrailerMutator(name string, inner Mutator, trailer []byte) *TrailerMutator {
	return &TrailerMutator{name: name + "[" + inner.Name() + "]", inner: inner, trailer: trailer}
}

// Name identifies the mutator for logging.
func (t *TrailerMutator) Name() string { return t.name }

// Mutate delegates to the inner mutator and appends the trailer on success.
func (t *TrailerMutator) Mutate(r *rand.Rand, input []byte) ([]byte, Result) {
	out, res := t.inner.Mutate(r, input)
	if res == Skipped {
		return out, Skipped
	}
	return append(out, t.trailer...), Mutated
}

// NewFtpLightMutator appends "\r\n", which the LightFTP parser requires to
// recognize a command as complete.
func NewFtpLightMutator(inner Mutator) *TrailerMutator {
	return NewTrailerMutator("FtpLightMutator", inner, []byte("\r\n"))
}

// NewHTTPMutator appends the blank-line terminator HTTP/1.x request headers
// need before the parser will act on them.
func NewHTTPMutator(inner Mutator) *TrailerMutator {
	return NewTrailerMutator("HttpMutator", inner, []byte("\r\n\r\n"))
}

// NewRTSPMutator appends the CRLF that RTSP request lines require.
func NewRTSPMutator(inner Mutator) *TrailerMutator {
	return NewTrailerMutator("RtspMutator", inner, []byte("\r\n"))
}
