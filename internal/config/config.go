/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config binds the fuzzer binary's CLI surface through
// spf13/viper so every flag can also be set via environment variable. No
// config file is read.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nabbar/libaflstar-go/internal/errs"
)

// Config is the fully resolved CLI surface for one fuzzer binary run.
type Config struct {
	TargetPath string
	TargetArgs []string

	InputDir  string
	OutputDir string

	PerExecTimeout time.Duration
	LoopsPerState  int
	DebugChild     bool
	TargetEnv      map[string]string
	TargetPort     int
	KillSignal     string
	MetricsAddr    string
}

// New resolves a Config from the bound viper instance, validating the
// invariants the CLI surface promises: output dir must be empty
// or nonexistent, timeout and loops must be positive.
func New(v *viper.Viper, targetPath string, targetArgs []string) (*Config, error) {
	cfg := &Config{
		TargetPath:     targetPath,
		TargetArgs:     targetArgs,
		InputDir:       v.GetString("input"),
		OutputDir:      v.GetString("output"),
		PerExecTimeout: time.Duration(v.GetInt("timeout")) * time.Millisecond,
		LoopsPerState:  v.GetInt("loops"),
		DebugChild:     v.GetBool("debug"),
		TargetPort:     v.GetInt("port"),
		KillSignal:     v.GetString("signal"),
		MetricsAddr:    v.GetString("metrics-addr"),
	}

	if cfg.InputDir == "" {
		return nil, errs.New(errs.CodeIllegalArgument, "-i/--input is required")
	}
	if cfg.OutputDir == "" {
		return nil, errs.New(errs.CodeIllegalArgument, "-o/--output is required")
	}
	if cfg.PerExecTimeout <= 0 {
		return nil, errs.New(errs.CodeIllegalArgument, "-t/--timeout must be positive")
	}
	if cfg.LoopsPerState <= 0 {
		return nil, errs.New(errs.CodeIllegalArgument, "-l/--loops must be positive")
	}
	if cfg.KillSignal == "" {
		cfg.KillSignal = "SIGKILL"
	}

	env, err := parseEnv(v.GetString("env"))
	if err != nil {
		return nil, err
	}
	cfg.TargetEnv = env

	if err = validateOutputDir(cfg.OutputDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseEnv parses "K=V,K=V" pairs, the -e flag format.
func parseEnv(raw string) (map[string]string, error) {
	env := make(map[string]string)
	if raw == "" {
		return env, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, errs.New(errs.CodeIllegalArgument, "-e/--env entry must be K=V, got: "+pair)
		}
		env[kv[0]] = kv[1]
	}
	return env, nil
}

func validateOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.New(errs.CodeFile, "stat output dir: "+err.Error())
	}
	if len(entries) != 0 {
		return errs.New(errs.CodeIllegalArgument, "-o/--output must be empty or nonexistent: "+dir)
	}
	return nil
}

// ParsePort validates a port string was a digit string before it reaches
// viper's int coercion, giving a clearer error than strconv's.
func ParsePort(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.New(errs.CodeIllegalArgument, "invalid port: "+raw)
	}
	return n, nil
}
