package executor

import (
	"testing"

	"github.com/nabbar/libaflstar-go/internal/forkserver"
)

func TestShouldEmitTimeoutStats(t *testing.T) {
	for n := uint64(1); n < 20; n++ {
		if !ShouldEmitTimeoutStats(n) {
			t.Fatalf("count %d below 20 should always report", n)
		}
	}
	if !ShouldEmitTimeoutStats(20) {
		t.Fatalf("count 20 should report (multiple of 20)")
	}
	if ShouldEmitTimeoutStats(21) {
		t.Fatalf("count 21 should not report")
	}
	if !ShouldEmitTimeoutStats(40) {
		t.Fatalf("count 40 should report (multiple of 20)")
	}
}

func TestStateResetOccurredConsumedOnce(t *testing.T) {
	s := &StatefulExecutor{}
	if s.StateResetOccurred() {
		t.Fatalf("flag should start clear")
	}
	s.resetOccurred.Set()
	if !s.StateResetOccurred() {
		t.Fatalf("expected flag to report true once")
	}
	if s.StateResetOccurred() {
		t.Fatalf("flag should be cleared after first consume")
	}
}

// TestRecordOutcomeSetsResetOnTimeout checks the timeout path: a timeout
// mid-state must flag a pending reset, the same as an explicit
// ResetTargetState call, so the fuzz loop replays the prefix before the
// next mutated input goes to a target that was silently killed and
// restarted back in its initial protocol state.
func TestRecordOutcomeSetsResetOnTimeout(t *testing.T) {
	s := &StatefulExecutor{}
	if s.StateResetOccurred() {
		t.Fatalf("flag should start clear")
	}
	s.recordOutcome(forkserver.Timeout)
	if !s.StateResetOccurred() {
		t.Fatalf("expected timeout to set the pending reset flag")
	}
}

func TestRecordOutcomeLeavesResetUntouchedOnOkAndCrash(t *testing.T) {
	for _, kind := range []forkserver.ExitKind{forkserver.Ok, forkserver.Crash, forkserver.Oom} {
		s := &StatefulExecutor{}
		s.recordOutcome(kind)
		if s.StateResetOccurred() {
			t.Fatalf("kind %s must not set the reset flag", kind)
		}
	}
}

func TestRecordOutcomeIncrementsTimeoutCounter(t *testing.T) {
	s := &StatefulExecutor{}
	for i := uint64(1); i <= 3; i++ {
		s.recordOutcome(forkserver.Timeout)
		if s.TimeoutCount() != i {
			t.Fatalf("expected timeout count %d, got %d", i, s.TimeoutCount())
		}
	}
}
