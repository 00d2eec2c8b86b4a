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

// Package atomicx offers generic lock-free containers for the small bits of
// mutable state the fuzz loop shares across goroutines: the terminating
// flag, per-state reset markers, child PIDs, execution counters.
package atomicx

import "sync/atomic"

// Value is a type-safe wrapper around atomic.Value.
type Value[T any] struct {
	v atomic.Value
}

// NewValue returns a Value initialized to def.
func NewValue[T any](def T) *Value[T] {
	o := &Value[T]{}
	o.v.Store(box[T]{val: def})
	return o
}

type box[T any] struct{ val T }

// Load returns the current value.
func (o *Value[T]) Load() T {
	return o.v.Load().(box[T]).val
}

// Store sets the value.
func (o *Value[T]) Store(val T) {
	o.v.Store(box[T]{val: val})
}

// Swap atomically stores val and returns the previous value.
func (o *Value[T]) Swap(val T) T {
	old := o.v.Swap(box[T]{val: val})
	return old.(box[T]).val
}

// Flag is a boolean latch: Set raises it, ConsumeTrue reads and clears it,
// so an observer sees true at most once per occurrence (the
// state_reset_occurred read-and-clear semantics).
type Flag struct {
	v atomic.Bool
}

// Set raises the flag.
func (f *Flag) Set() { f.v.Store(true) }

// ConsumeTrue reads the flag and clears it, returning the value seen.
func (f *Flag) ConsumeTrue() bool {
	return f.v.Swap(false)
}

// Counter is a monotonically increasing execution/timeout counter.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 { return c.v.Add(delta) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.v.Load() }
