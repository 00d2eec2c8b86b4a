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

package eventmanager

import (
	"fmt"
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressBoard renders one live bar per target state showing its corpus
// size, execution count and crash count, the terminal equivalent of the
// prometheus gauges.
type ProgressBoard struct {
	p    *mpb.Progress
	bars map[int]*mpb.Bar
	mgr  *Manager
}

// NewProgressBoard creates a board writing to w (typically os.Stderr) with
// one bar per numStates.
func NewProgressBoard(w io.Writer, mgr *Manager, numStates int) *ProgressBoard {
	p := mpb.New(mpb.WithOutput(w), mpb.WithRefreshRate(1_000_000_000 / 4))
	board := &ProgressBoard{p: p, bars: make(map[int]*mpb.Bar, numStates), mgr: mgr}

	for i := 0; i < numStates; i++ {
		idx := i
		bar := p.New(0,
			mpb.SpinnerStyle().PositionLeft(),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("state %d ", idx)),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string {
					corpus, execs, objectives := mgr.Snapshot(idx)
					return fmt.Sprintf("corpus=%d execs=%d crashes=%d", corpus, execs, objectives)
				}),
			),
		)
		board.bars[idx] = bar
	}

	return board
}

// Refresh nudges every bar so its decorators re-render with the latest
// snapshot from the manager; call periodically from the fuzz loop's
// reporting tick.
func (b *ProgressBoard) Refresh() {
	for _, bar := range b.bars {
		bar.SetCurrent(bar.Current() + 1)
	}
}

// Wait blocks until all bars complete (shutdown only: the fuzz loop never
// marks them done during normal operation).
func (b *ProgressBoard) Wait() {
	b.p.Wait()
}
