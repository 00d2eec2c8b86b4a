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

// Command libaflstar is the fuzzer binary's CLI entrypoint: target
// executable and arguments as positionals, the -i/-o/-t/-l/-d/-e/-p/-s
// options bound through viper so they can also come from LIBAFLSTAR_*
// environment variables. No config file is read.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabbar/libaflstar-go/internal/config"
	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "libaflstar -- <target> [target args...]",
		Short: "Stateful coverage-guided fuzzer for request/response network protocols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzzer(cmd, v, args[0], args[1:])
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "", "input directory: one prefix subdirectory per state, loose files as seeds")
	flags.StringP("output", "o", "", "output directory, must be empty or nonexistent")
	flags.IntP("timeout", "t", 1200, "per-execution timeout in milliseconds")
	flags.IntP("loops", "l", 100, "seeds fuzzed per state visit before switching state")
	flags.BoolP("debug", "d", false, "keep the target's stdout/stderr attached instead of discarding them")
	flags.StringP("env", "e", "", "extra target environment as K=V,K=V,...")
	flags.IntP("port", "p", 0, "TCP port for socket-server/socket-client input modes")
	flags.StringP("signal", "s", "SIGKILL", "signal used to kill a misbehaving child")
	flags.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address (e.g. :9090)")

	_ = v.BindPFlag("input", flags.Lookup("input"))
	_ = v.BindPFlag("output", flags.Lookup("output"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = v.BindPFlag("loops", flags.Lookup("loops"))
	_ = v.BindPFlag("debug", flags.Lookup("debug"))
	_ = v.BindPFlag("env", flags.Lookup("env"))
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("signal", flags.Lookup("signal"))
	_ = v.BindPFlag("metrics-addr", flags.Lookup("metrics-addr"))
	v.SetEnvPrefix("LIBAFLSTAR")
	v.AutomaticEnv()

	return cmd
}

func runFuzzer(cmd *cobra.Command, v *viper.Viper, targetPath string, targetArgs []string) error {
	cfg, err := config.New(v, targetPath, targetArgs)
	if err != nil {
		return err
	}

	log := logger.New()
	log.Info("starting libaflstar", logger.Fields{
		"target":  cfg.TargetPath,
		"input":   cfg.InputDir,
		"output":  cfg.OutputDir,
		"timeout": cfg.PerExecTimeout.String(),
		"loops":   cfg.LoopsPerState,
	})

	if err = os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errs.New(errs.CodeFile, "create output dir: "+err.Error())
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner, err := newRunner(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err = runner.Run(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "fuzzing stopped:", err)
		return err
	}
	return nil
}
