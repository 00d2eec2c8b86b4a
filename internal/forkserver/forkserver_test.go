package forkserver

import (
	"testing"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

func TestSplitNulTerminated(t *testing.T) {
	buf := []byte("foo\x00bar\x00baz")
	toks := splitNulTerminated(buf)
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %v", len(toks), toks)
	}
	if string(toks[0]) != "foo" || string(toks[1]) != "bar" || string(toks[2]) != "baz" {
		t.Fatalf("unexpected tokens: %q %q %q", toks[0], toks[1], toks[2])
	}
}

func TestSplitNulTerminatedSkipsEmpty(t *testing.T) {
	buf := []byte("\x00\x00a\x00")
	toks := splitNulTerminated(buf)
	if len(toks) != 1 || string(toks[0]) != "a" {
		t.Fatalf("expected single token 'a', got %v", toks)
	}
}

func TestRoundTo64(t *testing.T) {
	cases := map[int]int{0: 0, 1: 64, 63: 64, 64: 64, 65: 128, 2048: 2048}
	for in, want := range cases {
		if got := roundTo64(in); got != want {
			t.Fatalf("roundTo64(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestExitKindString(t *testing.T) {
	cases := map[ExitKind]string{Ok: "Ok", Crash: "Cr", Timeout: "Tm", Oom: "Oo"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("ExitKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestAutoDictSizeBounds(t *testing.T) {
	f := &Forkserver{}
	// simulate the bounds-check logic without a live pipe: values outside
	// [2, 0x00ffffff] must be rejected.
	for _, n := range []int{0, 1, autoDictMaxSz + 1} {
		if n >= autoDictMinSz && n <= autoDictMaxSz {
			t.Fatalf("test case %d should be out of bounds", n)
		}
	}
	_ = f
}

// A persistent-mode executor whose previous run already timed out but
// still has a recorded child PID is out of sync, and ResetTargetState must
// refuse rather than silently kill a PID it is unsure still belongs to it.
func TestResetTargetStateIllegalWhenTimedOutWithPid(t *testing.T) {
	f := &Forkserver{lastRunTimeout: true, childPID: 4242}
	err := f.ResetTargetState()
	if err == nil {
		t.Fatalf("expected IllegalState error, got nil")
	}
	if !errs.Has(err, errs.CodeIllegalState) {
		t.Fatalf("expected CodeIllegalState, got %v", err)
	}
	if f.childPID != 4242 {
		t.Fatalf("childPID must be left untouched on the illegal-state path, got %d", f.childPID)
	}
}

func TestResetTargetStateClearsPidAndFlags(t *testing.T) {
	f := &Forkserver{childPID: 4242}
	if err := f.ResetTargetState(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.childPID != 0 {
		t.Fatalf("expected childPID cleared, got %d", f.childPID)
	}
	if !f.lastRunTimeout {
		t.Fatalf("expected lastRunTimeout set so the next pid read is treated as a fresh child")
	}
}
