package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func newViper(t *testing.T, input, output string, timeout, loops int) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.Set("input", input)
	v.Set("output", output)
	v.Set("timeout", timeout)
	v.Set("loops", loops)
	v.Set("port", 8080)
	v.Set("signal", "SIGKILL")
	return v
}

func TestNewRejectsMissingInputDir(t *testing.T) {
	v := newViper(t, "", t.TempDir(), 1000, 100)
	if _, err := New(v, "/bin/true", nil); err == nil {
		t.Fatalf("expected error for missing input dir")
	}
}

func TestNewRejectsNonEmptyOutputDir(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "stale"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	v := newViper(t, in, out, 1000, 100)
	if _, err := New(v, "/bin/true", nil); err == nil {
		t.Fatalf("expected error for non-empty output dir")
	}
}

func TestNewParsesTargetEnv(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "fresh")
	v := newViper(t, in, out, 1000, 100)
	v.Set("env", "FOO=bar,BAZ=qux")

	cfg, err := New(v, "/bin/true", []string{"-v"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.TargetEnv["FOO"] != "bar" || cfg.TargetEnv["BAZ"] != "qux" {
		t.Fatalf("unexpected env: %v", cfg.TargetEnv)
	}
}

func TestNewRejectsMalformedEnv(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "fresh")
	v := newViper(t, in, out, 1000, 100)
	v.Set("env", "not-a-kv-pair")

	if _, err := New(v, "/bin/true", nil); err == nil {
		t.Fatalf("expected error for malformed -e entry")
	}
}
