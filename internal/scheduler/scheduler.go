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

// Package scheduler picks which target state the fuzz loop focuses on next.
// Every strategy implements Scheduler; weight-based ones only need to
// implement Weights and get ChooseNextState for free via weightedChoice.
package scheduler

import (
	"math/rand"

	"github.com/nabbar/libaflstar-go/internal/multistate"
)

// WeightPair is one (state, weight) sample a scheduler hands to the
// weighted-choice draw.
type WeightPair struct {
	State  multistate.TargetStateIdx
	Weight int
}

// Scheduler picks the next target state to fuzz.
type Scheduler interface {
	ChooseNextState(c *multistate.Container) (multistate.TargetStateIdx, error)
}

// weightScheduler is implemented by strategies that express their choice as
// a set of non-negative weights rather than picking directly.
type weightScheduler interface {
	Weights(c *multistate.Container) ([]WeightPair, error)
}

// weightedChoice expands each (value, weight) pair into weight+1 copies
// and draws uniformly, so a weight of 0 still has a small chance of being
// picked. Dirty and slow, but state selection is not a hot loop.
func weightedChoice(pairs []WeightPair, src *rand.Rand) multistate.TargetStateIdx {
	var pool []multistate.TargetStateIdx
	for _, p := range pairs {
		for i := 0; i <= p.Weight; i++ {
			pool = append(pool, p.State)
		}
	}
	if len(pool) == 0 {
		return 0
	}
	if src == nil {
		src = rand.New(rand.NewSource(1))
	}
	return pool[src.Intn(len(pool))]
}

// chooseByWeights is the shared ChooseNextState body for weight-based
// schedulers.
func chooseByWeights(ws weightScheduler, c *multistate.Container, src *rand.Rand) (multistate.TargetStateIdx, error) {
	pairs, err := ws.Weights(c)
	if err != nil {
		return 0, err
	}
	return weightedChoice(pairs, src), nil
}
