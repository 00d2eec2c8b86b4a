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

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/multistate"
)

// noveltySearchInner tracks how each state's coverage map has grown since
// it was last chosen; states that found new edges get a bigger weight. It
// is only ever exposed wrapped in UnusedFirst: a state that has never run
// carries a meaningless zero weight, and UnusedFirst visits it first
// anyway.
type noveltySearchInner struct {
	indexCounts map[multistate.TargetStateIdx]int
	novelties   map[multistate.TargetStateIdx]int
}

func newNoveltySearchInner() *noveltySearchInner {
	return &noveltySearchInner{
		indexCounts: make(map[multistate.TargetStateIdx]int),
		novelties:   make(map[multistate.TargetStateIdx]int),
	}
}

func (n *noveltySearchInner) Weights(c *multistate.Container) ([]WeightPair, error) {
	idx := c.CurrentStateIdx()

	cov, err := c.CoverageAt(idx)
	if err != nil {
		return nil, err
	}
	currCnt := cov.NonZero()

	prevCnt := n.indexCounts[idx]
	n.indexCounts[idx] = currCnt

	if currCnt < prevCnt {
		return nil, errs.New(errs.MinScheduler, "coverage map shrank for a state, which should only grow")
	}
	n.novelties[idx] = currCnt - prevCnt
	c.SetNamedMetadata("novelty_search", idx.String(), currCnt-prevCnt)

	pairs := make([]WeightPair, 0, len(n.novelties))
	for state, weight := range n.novelties {
		pairs = append(pairs, WeightPair{State: state, Weight: weight})
	}
	return pairs, nil
}

// NewNoveltySearch builds the novelty-search strategy, wrapped so every
// state is tried at least once before novelty weighting kicks in.
func NewNoveltySearch() *UnusedFirst {
	return &UnusedFirst{inner: newNoveltySearchInner()}
}

// NoveltySearchAndOutgoingEdges falls back to OutgoingEdges weighting
// whenever novelty search finds nothing new anywhere.
type noveltySearchAndOutgoingEdges struct {
	novelty *noveltySearchInner
	edges   OutgoingEdges
}

func (n *noveltySearchAndOutgoingEdges) Weights(c *multistate.Container) ([]WeightPair, error) {
	nsWeights, err := n.novelty.Weights(c)
	if err != nil {
		return nil, err
	}
	sum := 0
	for _, p := range nsWeights {
		sum += p.Weight
	}
	if sum != 0 {
		return nsWeights, nil
	}
	return n.edges.Weights(c)
}

// NewNoveltySearchAndOutgoingEdges builds the combined strategy, wrapped so
// every state is tried at least once first.
func NewNoveltySearchAndOutgoingEdges() *UnusedFirst {
	return &UnusedFirst{inner: &noveltySearchAndOutgoingEdges{novelty: newNoveltySearchInner()}}
}

// UnusedFirst composes any weight-based scheduler, overriding its choice
// for as long as some state has never been fuzzed: the inner strategy is
// still consulted first (so its bookkeeping stays current), then the
// never-fuzzed state is picked in place of its choice.
type UnusedFirst struct {
	inner weightScheduler
	Rand  *rand.Rand
}

// ChooseNextState returns the first state with zero fuzz cycles, or defers
// to the wrapped strategy once every state has run at least once.
func (u *UnusedFirst) ChooseNextState(c *multistate.Container) (multistate.TargetStateIdx, error) {
	innerIdx, innerErr := chooseByWeights(u.inner, c, u.Rand)

	current := c.CurrentStateIdx()
	for i := 0; i < c.StatesLen(); i++ {
		idx := multistate.TargetStateIdx(i)
		if err := c.SwitchState(idx); err != nil {
			return 0, err
		}
		if c.FuzzCycles() == 0 {
			if err := c.SwitchState(current); err != nil {
				return 0, err
			}
			return idx, nil
		}
	}
	if err := c.SwitchState(current); err != nil {
		return 0, err
	}
	return innerIdx, innerErr
}
