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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// handshake performs the AFL++ forkserver hello/ack exchange:
// read the hello word, extract map size if advertised, ack whichever
// negotiable features both sides support, then pull the autodict if offered.
func (f *Forkserver) handshake() error {
	word, err := f.readWordTimeout(statusFallbackWait)
	if err != nil {
		return errs.New(errs.CodeFile, "forkserver hello: "+err.Error())
	}

	if word&OptEnabled != OptEnabled {
		return errs.New(errs.CodeIllegalState, "forkserver did not advertise FS_OPT_ENABLED")
	}

	if word&OptMapSize == OptMapSize {
		raw := int((word&0x00fffffe)>>1) + 1
		f.mapSize = roundTo64(raw)
	}

	var ackStatus uint32
	if word&OptEnabled == OptEnabled && (word&OptShmemFuzz == OptShmemFuzz || word&OptAutoDict == OptAutoDict) {
		ack := OptEnabled
		if word&OptShmemFuzz == OptShmemFuzz && f.opts.WantShmemFuzz {
			ack |= OptShmemFuzz
		}
		if word&OptAutoDict == OptAutoDict && f.opts.WantAutoDict {
			ack |= OptAutoDict
		}
		if ack != OptEnabled {
			ackStatus = ack
		}
	}

	if ackStatus != 0 {
		if err = f.writeWordTimeout(ackStatus, ctlWriteTimeout); err != nil {
			return errs.New(errs.CodeFile, "forkserver ack: "+err.Error())
		}
	}

	if ackStatus&OptAutoDict == OptAutoDict {
		if err = f.pullAutoDict(); err != nil {
			return err
		}
	}

	return nil
}

func (f *Forkserver) pullAutoDict() error {
	size, err := f.readWordTimeout(statusFallbackWait)
	if err != nil {
		return errs.New(errs.CodeFile, "autodict size: "+err.Error())
	}
	n := int(size)
	if n < autoDictMinSz || n > autoDictMaxSz {
		return errs.New(errs.CodeIllegalState, fmt.Sprintf("autodict size %d out of bounds [%d, %d]", n, autoDictMinSz, autoDictMaxSz))
	}

	buf := make([]byte, n)
	if err = f.readFullTimeout(buf, statusFallbackWait); err != nil {
		return errs.New(errs.CodeFile, "autodict payload: "+err.Error())
	}

	f.autoDict = splitNulTerminated(buf)
	return nil
}

func splitNulTerminated(buf []byte) [][]byte {
	var toks [][]byte
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				tok := make([]byte, i-start)
				copy(tok, buf[start:i])
				toks = append(toks, tok)
			}
			start = i + 1
		}
	}
	if start < len(buf) {
		tok := make([]byte, len(buf)-start)
		copy(tok, buf[start:])
		toks = append(toks, tok)
	}
	return toks
}

func roundTo64(n int) int {
	if n%64 == 0 {
		return n
	}
	return n + (64 - n%64)
}

// readWordTimeout reads one 4-byte native-endian status word from the
// status pipe with the given deadline.
func (f *Forkserver) readWordTimeout(timeout time.Duration) (uint32, error) {
	buf := make([]byte, 4)
	if err := f.readFullTimeout(buf, timeout); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf), nil
}

// writeWordTimeout writes one 4-byte native-endian control word with the
// given deadline.
func (f *Forkserver) writeWordTimeout(word uint32, timeout time.Duration) error {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, word)
	return f.writeFullTimeout(buf, timeout)
}
