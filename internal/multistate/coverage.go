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

package multistate

import "github.com/nabbar/libaflstar-go/pkg/bitmap"

// CalculateTotalCoverage returns (non-zero byte count, map size) of
// TotalCoverageBytes: the pointwise merge of every state's map in
// MultiCorpMultiMeta, the single shared map in the other modes.
func (c *Container) CalculateTotalCoverage() (int, int) {
	total := c.TotalCoverageBytes()
	return bitmapNonZero(total), len(total)
}

// TotalCoverageBytes returns the map that represents coverage across all
// target states. For SingleCorp and MultiCorpSingleMeta this is the lone
// shared feedback-history map, returned directly with no merge.
// Only MultiCorpMultiMeta keeps one map per state, which this pointwise-
// maximum-merges into a single result.
func (c *Container) TotalCoverageBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != MultiCorpMultiMeta {
		if c.sharedCoverage == nil {
			return nil
		}
		src := c.sharedCoverage.Bytes()
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}

	var total []byte
	for i := range c.states {
		if c.states[i].coverage == nil {
			continue
		}
		total = bitmap.MergeMax(total, c.states[i].coverage.Bytes())
	}
	return total
}

func bitmapNonZero(m []byte) int {
	n := 0
	for _, b := range m {
		if b != 0 {
			n++
		}
	}
	return n
}
