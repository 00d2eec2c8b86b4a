package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/nabbar/libaflstar-go/internal/forkserver"
	"github.com/nabbar/libaflstar-go/internal/tracecollector"
)

func writeTraceFile(t *testing.T, path string, pairs []tracecollector.Pair) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := cbor.NewEncoder(w)
	for _, p := range pairs {
		if err = enc.Encode(p); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	if err = w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestDumpPrintsEveryPair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace_0.cbor")
	writeTraceFile(t, path, []tracecollector.Pair{
		tracecollector.NewPair(forkserver.Ok, []byte("GET /"), []byte("200 OK")),
		tracecollector.NewPair(forkserver.Crash, []byte("bad"), nil),
	})

	var buf bytes.Buffer
	if err := dump(&buf, path, true); err != nil {
		t.Fatalf("dump: %v", err)
	}

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("#0 Ok")) {
		t.Fatalf("missing first pair in output: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("#1 Cr")) {
		t.Fatalf("missing second pair in output: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("2 pairs")) {
		t.Fatalf("missing summary line in output: %s", out)
	}
}

func TestDumpRejectsMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := dump(&buf, filepath.Join(t.TempDir(), "missing.cbor"), false); err == nil {
		t.Fatal("expected error for missing trace file")
	}
}
