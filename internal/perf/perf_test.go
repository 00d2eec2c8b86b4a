package perf

import (
	"errors"
	"testing"
)

func TestTrackAccumulatesTimeAndCallCount(t *testing.T) {
	tm := NewTimer("test", nil)

	if err := tm.Track("op", func() error { return nil }); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := tm.Track("op", func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("expected Track to propagate the inner error")
	}

	calls, total, totalOK := tm.Snapshot()
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if total < totalOK {
		t.Fatalf("total should be >= totalOK, got total=%v totalOK=%v", total, totalOK)
	}
}
