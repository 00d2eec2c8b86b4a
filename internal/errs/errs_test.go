package errs

import (
	"errors"
	"os"
	"testing"
)

func TestHasCodeWalksParentChain(t *testing.T) {
	inner := New(CodeTimeout, "deadline elapsed")
	outer := New(CodeFile, "read status pipe", inner)

	if !outer.HasCode(CodeFile) {
		t.Fatalf("expected outer code to match")
	}
	if !outer.HasCode(CodeTimeout) {
		t.Fatalf("expected parent code to be reachable through the chain")
	}
	if outer.HasCode(CodeShuttingDown) {
		t.Fatalf("unexpected code match")
	}
}

func TestHasOnPlainErrorIsFalse(t *testing.T) {
	if Has(errors.New("plain"), CodeFile) {
		t.Fatalf("plain errors carry no code")
	}
	if Has(nil, CodeFile) {
		t.Fatalf("nil carries no code")
	}
}

func TestGetThroughWrapping(t *testing.T) {
	e := New(CodeIllegalState, "stage stack empty")
	wrapped := os.NewSyscallError("read", e)
	if got := Get(wrapped); got == nil || !got.HasCode(CodeIllegalState) {
		t.Fatalf("expected the taxonomy error to be recovered through errors.As")
	}
}

func TestKindCodesDoNotCollideWithComponentRanges(t *testing.T) {
	kinds := []CodeError{CodeIllegalArgument, CodeIllegalState, CodeFile, CodeTimeout, CodeUnknown, CodeShuttingDown}
	mins := []CodeError{MinForkserver, MinSocketConnector, MinExecutor, MinMultiState, MinPrefix, MinScheduler, MinFuzzLoop, MinTraceCollector, MinEventManager, MinConfig}
	for _, k := range kinds {
		for _, m := range mins {
			if k == m {
				t.Fatalf("kind code %d collides with a component base code", k)
			}
		}
	}
}
