package prefix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nabbar/libaflstar-go/internal/multistate"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadOrdersDirsAndSeeds(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"0_login", "1_data"} {
		dir := filepath.Join(root, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeFile(t, filepath.Join(dir, "metadata"), "3\n")
		writeFile(t, filepath.Join(dir, "01_user"), "USER anon\r\n")
		writeFile(t, filepath.Join(dir, "02_pass"), "PASS x\r\n")
	}

	prefixes, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(prefixes) != 2 {
		t.Fatalf("expected 2 prefixes, got %d", len(prefixes))
	}
	if prefixes[0].Metadata.OutgoingEdges != 3 {
		t.Fatalf("expected outgoing edges 3, got %d", prefixes[0].Metadata.OutgoingEdges)
	}
	if len(prefixes[0].Steps) != 2 {
		t.Fatalf("expected 2 seed steps, got %d", len(prefixes[0].Steps))
	}
	if string(prefixes[0].Steps[0].Input) != "USER anon\r\n" {
		t.Fatalf("expected first step to sort before second, got %q", prefixes[0].Steps[0].Input)
	}
}

func TestLoadRejectsMissingMetadata(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "0_broken")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "seed"), "x")

	if _, err := Load(root); err == nil {
		t.Fatalf("expected error for missing metadata file")
	}
}

func TestReplayerRunsStepsInOrder(t *testing.T) {
	var seen []string
	r := NewReplayer(func(input []byte) error {
		seen = append(seen, string(input))
		return nil
	})

	p := multistate.Prefix{Steps: []multistate.Testcase{
		{Input: []byte("a")},
		{Input: []byte("b")},
	}}
	if err := r.Replay(p); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected replay order: %v", seen)
	}
}
