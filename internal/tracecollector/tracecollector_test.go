package tracecollector

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestWritePairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	p := Pair{ExitKind: "Ok", Request: []byte("USER anon\r\n"), Response: []byte("230 ok\r\n")}
	if err = c.WritePair(p); err != nil {
		t.Fatalf("WritePair: %v", err)
	}
	if err = c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "trace_0.cbor"))
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}

	var got Pair
	dec := cbor.NewDecoder(bytesReader(raw))
	if err = dec.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ExitKind != p.ExitKind || string(got.Request) != string(p.Request) || string(got.Response) != string(p.Response) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStartNewTraceAdvancesFilename(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.SaveThisTrace()
	if err = c.StartNewTrace(); err != nil {
		t.Fatalf("StartNewTrace: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "trace_1.cbor")); err != nil {
		t.Fatalf("expected trace_1.cbor to exist: %v", err)
	}
}

type byteReader struct {
	b []byte
	i int
}

func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
