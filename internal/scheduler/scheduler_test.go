package scheduler

import (
	"math/rand"
	"testing"

	"github.com/nabbar/libaflstar-go/internal/multistate"
)

func TestCyclerWrapsAround(t *testing.T) {
	c, err := multistate.NewSingleCorpus(3, 64, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	var sched Cycler
	for i, want := range []int{1, 2, 0} {
		next, err := sched.ChooseNextState(c)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if int(next) != want {
			t.Fatalf("iteration %d: got %d, want %d", i, next, want)
		}
		if err = c.SwitchState(next); err != nil {
			t.Fatalf("SwitchState: %v", err)
		}
	}
}

func TestOutgoingEdgesPrefersHigherWeight(t *testing.T) {
	c, err := multistate.NewSingleCorpus(2, 64, []multistate.Prefix{
		{Metadata: multistate.PrefixMetadata{OutgoingEdges: 0}},
		{Metadata: multistate.PrefixMetadata{OutgoingEdges: 1000}},
	})
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	sched := OutgoingEdges{}
	hits := map[int]int{}
	for i := 0; i < 50; i++ {
		idx, werr := sched.ChooseNextState(c)
		if werr != nil {
			t.Fatalf("ChooseNextState: %v", werr)
		}
		hits[int(idx)]++
	}
	if hits[1] <= hits[0] {
		t.Fatalf("expected state 1 (more outgoing edges) to be picked more often, got %v", hits)
	}
}

func TestUnusedFirstPicksNeverFuzzedStateFirst(t *testing.T) {
	c, err := multistate.NewSingleCorpus(3, 64, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	if err = c.SwitchState(0); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	c.IncrementFuzzCycles()

	sched := NewNoveltySearch()
	idx, err := sched.ChooseNextState(c)
	if err != nil {
		t.Fatalf("ChooseNextState: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected state 1 (never fuzzed) to be picked, got %v", idx)
	}
}

// TestNoveltyWeightTracksCoverageGrowth follows the history-map growth
// 5 -> 12 -> 12 across successive selections of the same state: the second
// selection must weigh it 7, the third 0.
func TestNoveltyWeightTracksCoverageGrowth(t *testing.T) {
	c, err := multistate.NewMultiCorpMultiMeta(3, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	if err = c.SwitchState(2); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	cov, err := c.CoverageAt(2)
	if err != nil {
		t.Fatalf("CoverageAt: %v", err)
	}
	buf := cov.Bytes()
	for i := 0; i < 5; i++ {
		buf[i] = 1
	}

	n := newNoveltySearchInner()
	if _, err = n.Weights(c); err != nil {
		t.Fatalf("first Weights: %v", err)
	}

	for i := 0; i < 12; i++ {
		buf[i] = 1
	}
	pairs, err := n.Weights(c)
	if err != nil {
		t.Fatalf("second Weights: %v", err)
	}
	if w := weightFor(pairs, 2); w != 7 {
		t.Fatalf("expected novelty 7 after growth 5->12, got %d", w)
	}

	pairs, err = n.Weights(c)
	if err != nil {
		t.Fatalf("third Weights: %v", err)
	}
	if w := weightFor(pairs, 2); w != 0 {
		t.Fatalf("expected novelty 0 with no growth, got %d", w)
	}
}

func weightFor(pairs []WeightPair, idx multistate.TargetStateIdx) int {
	for _, p := range pairs {
		if p.State == idx {
			return p.Weight
		}
	}
	return -1
}

func TestNoveltyRejectsShrinkingCoverage(t *testing.T) {
	c, err := multistate.NewMultiCorpMultiMeta(1, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	cov, err := c.CoverageAt(0)
	if err != nil {
		t.Fatalf("CoverageAt: %v", err)
	}
	buf := cov.Bytes()
	for i := 0; i < 5; i++ {
		buf[i] = 1
	}

	n := newNoveltySearchInner()
	if _, err = n.Weights(c); err != nil {
		t.Fatalf("first Weights: %v", err)
	}

	for i := 0; i < 5; i++ {
		buf[i] = 0
	}
	if _, err = n.Weights(c); err == nil {
		t.Fatalf("a shrinking history map must be reported as an error")
	}
}

// TestWeightedChoiceEveryPairReachable checks that a zero-weight entry still
// gets drawn eventually: each pair occupies weight+1 slots of the pool.
func TestWeightedChoiceEveryPairReachable(t *testing.T) {
	pairs := []WeightPair{{State: 0, Weight: 0}, {State: 1, Weight: 3}, {State: 2, Weight: 5}}
	src := rand.New(rand.NewSource(7))

	seen := make(map[multistate.TargetStateIdx]int)
	for i := 0; i < 2000; i++ {
		seen[weightedChoice(pairs, src)]++
	}
	for _, p := range pairs {
		if seen[p.State] == 0 {
			t.Fatalf("state %d was never drawn despite positive probability", p.State)
		}
	}
	if seen[2] <= seen[0] {
		t.Fatalf("higher weight must be drawn more often: %v", seen)
	}
}
