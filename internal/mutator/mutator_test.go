package mutator

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestByteMutatorSkipsEmptyInput(t *testing.T) {
	var m ByteMutator
	r := rand.New(rand.NewSource(1))
	out, res := m.Mutate(r, nil)
	if res != Skipped {
		t.Fatalf("expected Skipped for empty input")
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output")
	}
}

func TestByteMutatorChangesInput(t *testing.T) {
	var m ByteMutator
	r := rand.New(rand.NewSource(42))
	input := []byte("hello world")
	anyChange := false
	for i := 0; i < 20; i++ {
		out, res := m.Mutate(r, input)
		if res == Mutated && !bytes.Equal(out, input) {
			anyChange = true
			break
		}
	}
	if !anyChange {
		t.Fatalf("expected at least one real mutation across 20 attempts")
	}
}

func TestFtpLightMutatorAppendsTrailer(t *testing.T) {
	m := NewFtpLightMutator(ByteMutator{})
	r := rand.New(rand.NewSource(7))
	input := []byte("USER anonymous")
	out, res := m.Mutate(r, input)
	if res != Mutated {
		t.Fatalf("expected a mutation")
	}
	if !bytes.HasSuffix(out, []byte("\r\n")) {
		t.Fatalf("expected trailing CRLF, got %q", out)
	}
}

func TestTrailerMutatorPassesThroughSkipped(t *testing.T) {
	m := NewHTTPMutator(ByteMutator{})
	r := rand.New(rand.NewSource(1))
	out, res := m.Mutate(r, nil)
	if res != Skipped {
		t.Fatalf("expected Skipped to propagate")
	}
	if len(out) != 0 {
		t.Fatalf("expected no trailer appended on skip")
	}
}
