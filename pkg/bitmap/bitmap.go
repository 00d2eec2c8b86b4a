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

// Package bitmap wraps the shared-memory coverage map as a value-semantics
// handle that is always released on exit, panic included. One Handle stands
// for one AFL++ SHM coverage region; the fuzzer never touches the syscalls
// directly outside this package.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultSize is the coverage map size used when the target's forkserver
// hello does not advertise FS_OPT_MAPSIZE.
const DefaultSize = 65536

// MaxInputSizeDefault is the default capacity of the shared-memory input
// region: 1 MiB of payload plus the 4-byte length envelope.
const MaxInputSizeDefault = 1<<20 + 4

// roundTo64 rounds n up to the next multiple of 64, matching the forkserver
// handshake's map-size negotiation.
func roundTo64(n int) int {
	if n%64 == 0 {
		return n
	}
	return n + (64 - n%64)
}

// SizeFromStatusWord extracts the advertised coverage map size from the
// forkserver hello status word, per FS_OPT_MAPSIZE:
// ((word & 0x00fffffe) >> 1) + 1, rounded up to 64.
func SizeFromStatusWord(word uint32) int {
	raw := int((word&0x00fffffe)>>1) + 1
	return roundTo64(raw)
}

// Handle owns one SysV shared-memory coverage region. The zero value is not
// usable; construct with New.
type Handle struct {
	mu   sync.Mutex
	id   int
	data []byte
	size int
}

// New allocates a fresh anonymous SysV shared-memory segment of size bytes
// and attaches it, returning a Handle that releases it on Close.
func New(size int) (*Handle, error) {
	if size <= 0 {
		size = DefaultSize
	}

	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(0 /* IPC_PRIVATE */), uintptr(size), uintptr(unix.IPC_CREAT|0o600))
	if errno != 0 {
		return nil, fmt.Errorf("shmget: %w", errno)
	}

	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat: %w", errno)
	}

	h := &Handle{id: int(id), size: size}
	h.data = unsafeBytes(addr, size)
	return h, nil
}

// ID returns the shared-memory segment id, to be exported via __AFL_SHM_ID.
func (h *Handle) ID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// Bytes returns a slice view over the coverage map. The slice is only valid
// while the Handle is open; callers must not retain it past Close.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Reset zeroes the coverage map, used before an execution that reuses an
// existing forkserver (the instrumentation itself resets between children,
// but standalone replay/perf paths reset explicitly).
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.data {
		h.data[i] = 0
	}
}

// NonZero returns the count of non-zero bytes, used for coverage ratio and
// NoveltySearch's novelty computation.
func (h *Handle) NonZero() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, b := range h.data {
		if b != 0 {
			n++
		}
	}
	return n
}

// Size returns the map size in bytes.
func (h *Handle) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Close detaches and removes the shared-memory segment. Safe to call more
// than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.data == nil {
		return nil
	}

	addr := addrOf(h.data)
	_, _, _ = unix.Syscall(unix.SYS_SHMDT, addr, 0, 0)
	_, _, _ = unix.Syscall(unix.SYS_SHMCTL, uintptr(h.id), uintptr(unix.IPC_RMID), 0)
	h.data = nil
	return nil
}

// MergeMax pointwise-maximises dst with src, extending dst if src is longer.
// Used by MultiCorpMultiMeta's total coverage computation.
func MergeMax(dst, src []byte) []byte {
	if len(src) > len(dst) {
		grown := make([]byte, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, b := range src {
		if b > dst[i] {
			dst[i] = b
		}
	}
	return dst
}

// WriteLengthPrefixed writes input into the shared __AFL_SHM_FUZZ_ID ring as
// a 4-byte little-endian length followed by the bytes themselves, the
// envelope persistent-mode harnesses expect in shared-memory input mode.
// Inputs longer than the ring's capacity (minus the 4-byte header) are
// truncated rather than rejected.
func WriteLengthPrefixed(ring []byte, input []byte) error {
	if len(ring) < 4 {
		return fmt.Errorf("shm input ring too small for the length envelope: %d bytes", len(ring))
	}
	if max := len(ring) - 4; len(input) > max {
		input = input[:max]
	}
	binary.LittleEndian.PutUint32(ring[:4], uint32(len(input)))
	copy(ring[4:], input)
	return nil
}

// CoverageRatio returns the fraction of non-zero bytes in m.
func CoverageRatio(m []byte) float64 {
	if len(m) == 0 {
		return 0
	}
	n := 0
	for _, b := range m {
		if b != 0 {
			n++
		}
	}
	return float64(n) / float64(len(m))
}
