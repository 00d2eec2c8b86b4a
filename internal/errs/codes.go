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

package errs

// Error kinds, one per classification the fuzzer distinguishes. They share
// no values with the per-component ranges below so HasCode never matches a
// kind against a component base code.
const (
	// CodeIllegalArgument: bad CLI flag or directory state.
	CodeIllegalArgument CodeError = iota + 1
	// CodeIllegalState: invariant violation (prefix with missing metadata,
	// handshake corruption, history map shrank).
	CodeIllegalState
	// CodeFile: I/O failures; wrapped standard library errors preserve
	// their own message.
	CodeFile
	// CodeTimeout: a bounded wait elapsed (client connect retries, pipe
	// deadlines); distinct from CodeFile so callers can match it without
	// string comparison.
	CodeTimeout
	// CodeUnknown: a blocking syscall was interrupted by a signal (EINTR)
	// and should be treated as a termination request.
	CodeUnknown
	// CodeShuttingDown: sentinel meaning "recreate the forkserver and
	// continue" rather than abort the run.
	CodeShuttingDown
)

// Component code ranges, one 100-wide band per package so a code's origin
// is readable at a glance.
const (
	MinForkserver      CodeError = 100
	MinSocketConnector CodeError = 200
	MinExecutor        CodeError = 300
	MinMultiState      CodeError = 400
	MinPrefix          CodeError = 500
	MinScheduler       CodeError = 600
	MinFuzzLoop        CodeError = 700
	MinTraceCollector  CodeError = 800
	MinEventManager    CodeError = 900
	MinConfig          CodeError = 1000
)
