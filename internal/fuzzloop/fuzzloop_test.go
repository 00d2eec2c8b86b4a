package fuzzloop

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/nabbar/libaflstar-go/internal/multistate"
	"github.com/nabbar/libaflstar-go/internal/scheduler"
)

func TestIsRecoverableClassifiesConnectionErrors(t *testing.T) {
	cases := []error{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE}
	for _, err := range cases {
		if !isRecoverable(err) {
			t.Fatalf("expected %v to be recoverable", err)
		}
	}
	if isRecoverable(errors.New("some other failure")) {
		t.Fatalf("expected an unrelated error to not be recoverable")
	}
	if isRecoverable(nil) {
		t.Fatalf("expected nil to not be recoverable")
	}
}

func TestLoopRunsFuzzOneUpToLoopsThenStops(t *testing.T) {
	c, err := multistate.NewSingleCorpus(2, 64, nil)
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	calls := 0
	visits := 0
	l := &Loop{
		Container: c,
		Scheduler: scheduler.Cycler{},
		Loops:     3,
		FuzzOne: func(ctx context.Context, state multistate.TargetStateIdx) error {
			calls++
			return nil
		},
	}

	// Stop the loop after the second state change is requested, so Run
	// terminates instead of cycling forever.
	l.ResetState = func(ctx context.Context, state multistate.TargetStateIdx) error {
		visits++
		if visits >= 2 {
			l.RequestStop()
		}
		return nil
	}

	if err = l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected FuzzOne to have been called at least once")
	}
}

// TestPrefixSentAtCycleStartAndAfterReset walks one full state visit with
// Loops=2 where the first iteration times out mid-state: the prefix must go
// out once when the state is entered and once more after the reset, and the
// state ends the visit with exactly one fuzz cycle on the clock.
func TestPrefixSentAtCycleStartAndAfterReset(t *testing.T) {
	c, err := multistate.NewSingleCorpus(1, 64, []multistate.Prefix{
		{Steps: []multistate.Testcase{{Input: []byte("USER anon\r\n")}}},
	})
	if err != nil {
		t.Fatalf("NewSingleCorpus: %v", err)
	}
	defer c.Close()

	replays := 0
	resetPending := false
	fuzzCalls := 0

	l := &Loop{
		Container: c,
		Scheduler: scheduler.Cycler{},
		Loops:     2,
		Prefixes:  []multistate.Prefix{{Steps: []multistate.Testcase{{Input: []byte("USER anon\r\n")}}}},
		ResetState: func(ctx context.Context, state multistate.TargetStateIdx) error {
			resetPending = true
			return nil
		},
		StateResetOccurred: func() bool {
			was := resetPending
			resetPending = false
			return was
		},
		Replay: func(ctx context.Context, p multistate.Prefix) error {
			replays++
			return nil
		},
	}
	l.FuzzOne = func(ctx context.Context, state multistate.TargetStateIdx) error {
		fuzzCalls++
		if fuzzCalls == 1 {
			// simulate a timed-out execution: the executor killed and
			// restarted the child, so a reset is pending
			resetPending = true
		}
		if fuzzCalls == 2 {
			l.RequestStop()
		}
		return nil
	}

	if err = l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fuzzCalls != 2 {
		t.Fatalf("expected 2 fuzz iterations, got %d", fuzzCalls)
	}
	if replays != 2 {
		t.Fatalf("expected the prefix sent at cycle start and once after the reset, got %d sends", replays)
	}
	if c.FuzzCycles() != 1 {
		t.Fatalf("expected exactly one completed fuzz cycle, got %d", c.FuzzCycles())
	}
}
