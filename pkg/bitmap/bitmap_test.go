package bitmap

import "testing"

func TestSizeFromStatusWord(t *testing.T) {
	// word encodes map size 2048: ((word & 0x00fffffe) >> 1) + 1 == 2048
	word := uint32((2047) << 1)
	if got := SizeFromStatusWord(word); got != 2048 {
		t.Fatalf("expected 2048, got %d", got)
	}
}

func TestSizeFromStatusWordRoundsUpTo64(t *testing.T) {
	word := uint32((99) << 1) // raw size 100, not a multiple of 64
	got := SizeFromStatusWord(word)
	if got%64 != 0 {
		t.Fatalf("expected a multiple of 64, got %d", got)
	}
	if got < 100 {
		t.Fatalf("expected rounded size >= 100, got %d", got)
	}
}

func TestMergeMaxPointwise(t *testing.T) {
	dst := []byte{1, 0, 3}
	src := []byte{0, 2, 1, 9}

	got := MergeMax(dst, src)
	want := []byte{1, 2, 3, 9}

	if len(got) != len(want) {
		t.Fatalf("expected len %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestCoverageRatio(t *testing.T) {
	m := []byte{0, 1, 0, 2, 0, 0, 7, 0}
	got := CoverageRatio(m)
	want := 3.0 / 8.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCoverageRatioEmpty(t *testing.T) {
	if got := CoverageRatio(nil); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestWriteLengthPrefixedRoundTrip(t *testing.T) {
	ring := make([]byte, 16)
	if err := WriteLengthPrefixed(ring, []byte("abcd")); err != nil {
		t.Fatalf("WriteLengthPrefixed: %v", err)
	}
	if got := ring[0]; got != 4 {
		t.Fatalf("expected little-endian length 4, got %d", got)
	}
	if string(ring[4:8]) != "abcd" {
		t.Fatalf("payload mismatch: %q", ring[4:8])
	}
}

func TestWriteLengthPrefixedTruncatesOversizedInput(t *testing.T) {
	ring := make([]byte, 8)
	if err := WriteLengthPrefixed(ring, []byte("abcdefgh")); err != nil {
		t.Fatalf("WriteLengthPrefixed: %v", err)
	}
	if got := ring[0]; got != 4 {
		t.Fatalf("expected truncated length 4, got %d", got)
	}
	if string(ring[4:]) != "abcd" {
		t.Fatalf("expected truncated payload, got %q", ring[4:])
	}
}

func TestWriteLengthPrefixedRejectsTinyRing(t *testing.T) {
	if err := WriteLengthPrefixed(make([]byte, 3), []byte("a")); err == nil {
		t.Fatalf("a ring smaller than the envelope header must be rejected")
	}
}
