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

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nabbar/libaflstar-go/internal/config"
	"github.com/nabbar/libaflstar-go/internal/encoding/hexa"
	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/multistate"
)

// bitmapPreviewBytes caps how much of the merged coverage bitmap gets
// hex-dumped into total_stats_info.txt.
const bitmapPreviewBytes = 64

// writeTotalStatsInfo writes <out>/total_stats_info.txt: the CLI arguments,
// overall coverage percentage, per-state executions and fuzz cycles, the
// scheduler/mutator/executor component names in use, and a short hex
// preview of the merged coverage bitmap.
func writeTotalStatsInfo(cfg *config.Config, c *multistate.Container) error {
	var b strings.Builder

	fmt.Fprintf(&b, "libaflstar run summary — %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "target: %s %v\n", cfg.TargetPath, cfg.TargetArgs)
	fmt.Fprintf(&b, "input: %s\n", cfg.InputDir)
	fmt.Fprintf(&b, "output: %s\n", cfg.OutputDir)
	fmt.Fprintf(&b, "per-exec timeout: %s\n", cfg.PerExecTimeout)
	fmt.Fprintf(&b, "loops per state: %d\n", cfg.LoopsPerState)
	fmt.Fprintf(&b, "kill signal: %s\n", cfg.KillSignal)

	covered, total := c.CalculateTotalCoverage()
	ratio := 0.0
	if total > 0 {
		ratio = float64(covered) / float64(total) * 100
	}
	fmt.Fprintf(&b, "\ncoverage: %d/%d edges (%.2f%%)\n", covered, total, ratio)

	fmt.Fprintf(&b, "\nper-state summary:\n")
	_ = c.ForEach(func(idx multistate.TargetStateIdx) error {
		fmt.Fprintf(&b, "  %s: executions=%d fuzz_cycles=%d outgoing_edges=%d corpus=%d\n",
			idx.String(), c.Executions(), c.FuzzCycles(), c.OutgoingEdges(), len(c.Corpus()))
		return nil
	})

	fmt.Fprintf(&b, "\ncomponents: scheduler=NoveltySearchAndOutgoingEdges mutator=ByteMutator executor=StatefulPersistentExecutor\n")

	preview := c.TotalCoverageBytes()
	if len(preview) > bitmapPreviewBytes {
		preview = preview[:bitmapPreviewBytes]
	}
	fmt.Fprintf(&b, "\nmerged bitmap (first %d bytes, hex): %s\n", len(preview), hexa.New().Encode(preview))

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errs.New(errs.CodeFile, "create output dir: "+err.Error())
	}
	path := filepath.Join(cfg.OutputDir, "total_stats_info.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errs.New(errs.CodeFile, "write "+path+": "+err.Error())
	}
	return nil
}

// coverageOverTimeWriter appends one row per execution that grew total
// coverage to <out>/coverage_over_time.csv, under the header
// "timestamp,coverage,current_edges,total_edges". There is no separate
// offline replay pass (cmd/tracedump only decodes traces, it does not
// re-execute them), so the rows are recorded during the live run: one per
// execution whose result actually expanded the coverage map.
type coverageOverTimeWriter struct {
	f *os.File
	w *bufio.Writer
}

func newCoverageOverTimeWriter(outDir string) (*coverageOverTimeWriter, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errs.New(errs.CodeFile, "create output dir: "+err.Error())
	}
	path := filepath.Join(outDir, "coverage_over_time.csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.New(errs.CodeFile, "open "+path+": "+err.Error())
	}
	w := bufio.NewWriter(f)
	if _, err = w.WriteString("timestamp,coverage,current_edges,total_edges\n"); err != nil {
		_ = f.Close()
		return nil, errs.New(errs.CodeFile, "write "+path+" header: "+err.Error())
	}
	return &coverageOverTimeWriter{f: f, w: w}, nil
}

// AppendRow records one newly-covered execution's percentage and raw edge
// counts, flushing immediately so a killed run still leaves a usable file.
func (c *coverageOverTimeWriter) AppendRow(currentEdges, totalEdges int) error {
	ratio := 0.0
	if totalEdges > 0 {
		ratio = float64(currentEdges) / float64(totalEdges) * 100
	}
	_, err := fmt.Fprintf(c.w, "%d,%.2f%%,%d,%d\n", time.Now().Unix(), ratio, currentEdges, totalEdges)
	if err != nil {
		return errs.New(errs.CodeFile, "append coverage_over_time.csv row: "+err.Error())
	}
	return c.w.Flush()
}

func (c *coverageOverTimeWriter) Close() error {
	_ = c.w.Flush()
	return c.f.Close()
}

// writeStateCorpusCaches dumps every state's corpus under
// <out>/.states/state[<i>]/ as raw input files, so a
// later run can re-seed from where this one left off.
func writeStateCorpusCaches(outDir string, c *multistate.Container) error {
	return c.ForEach(func(idx multistate.TargetStateIdx) error {
		dir := filepath.Join(outDir, ".states", fmt.Sprintf("state[%d]", int(idx)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.New(errs.CodeFile, "create corpus cache dir "+dir+": "+err.Error())
		}
		for i, tc := range c.Corpus() {
			name := fmt.Sprintf("id_%06d", i)
			if err := os.WriteFile(filepath.Join(dir, name), tc.Input, 0o644); err != nil {
				return errs.New(errs.CodeFile, "write corpus cache entry "+name+": "+err.Error())
			}
		}
		return nil
	})
}
