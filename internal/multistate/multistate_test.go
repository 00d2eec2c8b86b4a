package multistate

import "testing"

func TestNewSingleCorpusSharesCorpus(t *testing.T) {
	c, err := NewSingleCorpus(3, 256, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	c.AddTestcase(Testcase{Input: []byte("a")})
	if err = c.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	if len(c.Corpus()) != 1 {
		t.Fatalf("expected the shared corpus to be visible from every state")
	}
}

func TestMultiCorpMultiMetaIsolatesCorpora(t *testing.T) {
	c, err := NewMultiCorpMultiMeta(2, 256, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	c.AddTestcase(Testcase{Input: []byte("a")})
	if err = c.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	if len(c.Corpus()) != 0 {
		t.Fatalf("expected state 1's corpus to stay empty")
	}
}

func TestForEachRestoresOriginalState(t *testing.T) {
	c, err := NewSingleCorpus(4, 256, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	if err = c.SwitchState(2); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}

	var visited []TargetStateIdx
	if err = c.ForEach(func(idx TargetStateIdx) error {
		visited = append(visited, idx)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}

	if len(visited) != 4 {
		t.Fatalf("expected 4 states visited, got %d", len(visited))
	}
	if c.CurrentStateIdx() != 2 {
		t.Fatalf("expected original state 2 restored, got %v", c.CurrentStateIdx())
	}
}

func TestMapToVecCollectsPerState(t *testing.T) {
	c, err := NewSingleCorpus(3, 256, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	out, err := MapToVec(c, func(idx TargetStateIdx) (int, error) {
		return int(idx) * 10, nil
	})
	if err != nil {
		t.Fatalf("MapToVec: %v", err)
	}
	want := []int{0, 10, 20}
	if len(out) != len(want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, out)
		}
	}
}

// TestCalculateTotalCoverageMergesAcrossStates covers MultiCorpMultiMeta,
// the only mode with a genuinely separate map per state: total coverage
// there is the pointwise-maximum merge of all of them.
func TestCalculateTotalCoverageMergesAcrossStates(t *testing.T) {
	c, err := NewMultiCorpMultiMeta(2, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	s0, _ := c.CoverageAt(0)
	s0.Bytes()[0] = 1
	s1, _ := c.CoverageAt(1)
	s1.Bytes()[1] = 1

	nz, size := c.CalculateTotalCoverage()
	if nz != 2 {
		t.Fatalf("expected 2 non-zero bytes, got %d", nz)
	}
	if size != 64 {
		t.Fatalf("expected map size 64, got %d", size)
	}
}

// TestSingleCorpSharesOneCoverageMap checks the "reuse the lone
// feedback-history map directly": SingleCorp and MultiCorpSingleMeta must
// expose the SAME coverage handle for every state index, not N maps later
// merged, so a write visible from one state is visible from all of them.
func TestSingleCorpSharesOneCoverageMap(t *testing.T) {
	for _, newFn := range []func(int, int, []Prefix) (*Container, error){NewSingleCorpus, NewMultiCorpSingleMeta} {
		c, err := newFn(3, 64, nil)
		if err != nil {
			t.Fatalf("construct: %v", err)
		}

		h0, _ := c.CoverageAt(0)
		h1, _ := c.CoverageAt(1)
		if h0 != h1 {
			t.Fatalf("expected CoverageAt to return the same handle across states")
		}

		h0.Bytes()[3] = 1
		nz, _ := c.CalculateTotalCoverage()
		if nz != 1 {
			t.Fatalf("expected the single write to surface directly with no merge, got %d non-zero bytes", nz)
		}

		_ = c.Close()
	}
}

func TestPrefixLengthMismatchRejected(t *testing.T) {
	if _, err := NewSingleCorpus(3, 64, []Prefix{{}}); err == nil {
		t.Fatalf("expected error for mismatched prefixes length")
	}
}

func TestSwitchStateDetourPreservesContext(t *testing.T) {
	c, err := NewMultiCorpMultiMeta(3, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	if err = c.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	c.AddTestcase(Testcase{Input: []byte("seed")})
	c.IncrementExecutions()
	c.SetMetadata("depth", 7)

	// detour to state 2 and back
	if err = c.SwitchState(2); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	c.AddTestcase(Testcase{Input: []byte("other")})
	c.IncrementExecutions()
	if err = c.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}

	if len(c.Corpus()) != 1 || string(c.Corpus()[0].Input) != "seed" {
		t.Fatalf("state 1 corpus changed across the detour: %v", c.Corpus())
	}
	if c.Executions() != 1 {
		t.Fatalf("state 1 executions changed across the detour: %d", c.Executions())
	}
	if v, ok := c.Metadata("depth"); !ok || v != 7 {
		t.Fatalf("state 1 metadata changed across the detour: %v %v", v, ok)
	}
}

func TestIncrementExecutionsTouchesActiveStateOnly(t *testing.T) {
	c, err := NewMultiCorpMultiMeta(2, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	c.IncrementExecutions()
	c.IncrementExecutions()
	if c.Executions() != 2 {
		t.Fatalf("expected 2 executions on state 0, got %d", c.Executions())
	}
	if err = c.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	if c.Executions() != 0 {
		t.Fatalf("state 1 must be untouched, got %d executions", c.Executions())
	}
}

func TestMetadataSharedUnlessMultiMeta(t *testing.T) {
	shared, err := NewMultiCorpSingleMeta(2, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpSingleMeta: %v", err)
	}
	defer shared.Close()

	shared.SetMetadata("k", "v")
	if err = shared.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	if _, ok := shared.Metadata("k"); !ok {
		t.Fatalf("MultiCorpSingleMeta metadata must be visible from every state")
	}

	multi, err := NewMultiCorpMultiMeta(2, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer multi.Close()

	multi.SetMetadata("k", "v")
	if err = multi.SwitchState(1); err != nil {
		t.Fatalf("SwitchState: %v", err)
	}
	if _, ok := multi.Metadata("k"); ok {
		t.Fatalf("MultiCorpMultiMeta metadata must be per-state")
	}
}

func TestNamedMetadataRoundTrip(t *testing.T) {
	c, err := NewSingleCorpus(2, 64, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	c.SetNamedMetadata("novelty_search", "StateId(0)", 5)
	if v, ok := c.NamedMetadata("novelty_search", "StateId(0)"); !ok || v != 5 {
		t.Fatalf("expected named metadata 5, got %v %v", v, ok)
	}
	if _, ok := c.NamedMetadata("novelty_search", "StateId(1)"); ok {
		t.Fatalf("unexpected entry for a key never written")
	}
}

func TestStageStackDepthMatchesPushes(t *testing.T) {
	c, err := NewMultiCorpMultiMeta(1, 64, nil)
	if err != nil {
		t.Fatalf("NewMultiCorpMultiMeta: %v", err)
	}
	defer c.Close()

	c.PushStageIdx(3)
	c.PushStageIdx(9)
	if c.StageDepth() != 2 {
		t.Fatalf("expected stage depth 2, got %d", c.StageDepth())
	}
	i, err := c.PopStageIdx()
	if err != nil || i != 9 {
		t.Fatalf("expected pop 9, got %d %v", i, err)
	}
	if c.StageDepth() != 1 {
		t.Fatalf("expected stage depth 1, got %d", c.StageDepth())
	}
	if _, err = c.PopStageIdx(); err != nil {
		t.Fatalf("unexpected pop error: %v", err)
	}
	if _, err = c.PopStageIdx(); err == nil {
		t.Fatalf("popping an empty stage stack must fail")
	}
}
