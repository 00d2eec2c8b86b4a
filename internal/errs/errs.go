/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package errs provides the error taxonomy used across the fuzzer: numeric
// codes, a parent chain, and a captured call site, in the same shape as
// nabbar/golib's errors package but scoped to the kinds this program raises.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// CodeError is a numeric error classification, grouped by component range in codes.go.
type CodeError uint16

type ers struct {
	c CodeError
	e string
	p []Error
	t frame
}

// Error is the taxonomy-aware error returned by every fuzzer component.
type Error interface {
	error

	IsCode(code CodeError) bool
	HasCode(code CodeError) bool
	GetCode() CodeError

	Is(e error) bool
	HasParent() bool
	GetParent(withMainError bool) []error
	Add(parent ...error)

	StringError() string
	GetTrace() string
	Unwrap() []error
}

func (e *ers) IsCode(code CodeError) bool { return e.c == code }

func (e *ers) HasCode(code CodeError) bool {
	if e.IsCode(code) {
		return true
	}
	for _, p := range e.p {
		if p.HasCode(code) {
			return true
		}
	}
	return false
}

func (e *ers) GetCode() CodeError { return e.c }

func (e *ers) Is(err error) bool {
	if err == nil {
		return false
	}
	if er, ok := err.(*ers); ok {
		return strings.EqualFold(e.e, er.e) && e.c == er.c
	}
	return strings.EqualFold(e.e, err.Error())
}

func (e *ers) HasParent() bool { return len(e.p) > 0 }

func (e *ers) GetParent(withMainError bool) []error {
	res := make([]error, 0, len(e.p)+1)
	if withMainError {
		res = append(res, &ers{c: e.c, e: e.e, t: e.t})
	}
	for _, p := range e.p {
		res = append(res, p.GetParent(true)...)
	}
	return res
}

func (e *ers) Add(parent ...error) {
	for _, v := range parent {
		if v == nil {
			continue
		}
		if er, ok := v.(*ers); ok {
			e.p = append(e.p, er)
			continue
		}
		if er, ok := v.(Error); ok {
			e.p = append(e.p, er)
			continue
		}
		e.p = append(e.p, &ers{e: v.Error()})
	}
}

func (e *ers) StringError() string { return e.e }

func (e *ers) Error() string {
	if e.c == 0 {
		return e.e
	}
	return fmt.Sprintf("[%d] %s", e.c, e.e)
}

func (e *ers) GetTrace() string { return e.t.String() }

func (e *ers) Unwrap() []error {
	if len(e.p) == 0 {
		return nil
	}
	res := make([]error, 0, len(e.p))
	for _, v := range e.p {
		res = append(res, v)
	}
	return res
}

// New creates an Error carrying code, message and the caller's frame.
func New(code CodeError, message string, parent ...error) Error {
	e := &ers{c: code, e: message, t: getFrame()}
	e.Add(parent...)
	return e
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code CodeError, pattern string, args ...any) Error {
	return &ers{c: code, e: fmt.Sprintf(pattern, args...), t: getFrame()}
}

// Is reports whether err carries our Error taxonomy.
func Is(err error) bool {
	var e Error
	return errors.As(err, &e)
}

// Get returns err as Error if it carries the taxonomy, nil otherwise.
func Get(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Has reports whether err or any of its parents carries code.
func Has(err error, code CodeError) bool {
	if e := Get(err); e != nil {
		return e.HasCode(code)
	}
	return false
}

// Make wraps a plain error into Error, preserving it unchanged if already one.
func Make(err error) Error {
	if err == nil {
		return nil
	}
	if e := Get(err); e != nil {
		return e
	}
	return &ers{e: err.Error()}
}
