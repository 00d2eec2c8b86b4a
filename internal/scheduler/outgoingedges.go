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

package scheduler

import (
	"math/rand"

	"github.com/nabbar/libaflstar-go/internal/multistate"
)

// OutgoingEdges weighs each state by its number of outgoing edges in the
// target's protocol state machine: states with more transitions out of
// them are visited more often.
type OutgoingEdges struct {
	Rand *rand.Rand
}

// Weights returns one (state, outgoing-edge-count) pair per target state.
func (OutgoingEdges) Weights(c *multistate.Container) ([]WeightPair, error) {
	return multistate.MapToVec(c, func(idx multistate.TargetStateIdx) (WeightPair, error) {
		return WeightPair{State: idx, Weight: c.OutgoingEdges()}, nil
	})
}

// ChooseNextState draws a state proportionally to its outgoing-edge weight.
func (o OutgoingEdges) ChooseNextState(c *multistate.Container) (multistate.TargetStateIdx, error) {
	return chooseByWeights(o, c, o.Rand)
}
