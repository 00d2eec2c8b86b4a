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

// tracedump decodes a replay_traces/trace_<n>.cbor file written by
// internal/tracecollector and prints its request/response pairs, for
// inspecting a crash or a prefix replay after the fact.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/nabbar/libaflstar-go/internal/encoding/hexa"
	"github.com/nabbar/libaflstar-go/internal/tracecollector"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "tracedump <trace_n.cbor>",
		Short: "Print the request/response pairs recorded in a libaflstar trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(cmd.OutOrStdout(), args[0], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print request/response bytes verbatim instead of hex")
	return cmd
}

// dump streams every CBOR-encoded tracecollector.Pair out of path and writes
// one line per pair to w.
func dump(w io.Writer, path string, raw bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	coder := hexa.New()
	dec := cbor.NewDecoder(bufio.NewReader(f))

	n := 0
	for {
		var p tracecollector.Pair
		if err = dec.Decode(&p); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode pair %d: %w", n, err)
		}

		req, resp := string(p.Request), string(p.Response)
		if !raw {
			req = string(coder.Encode(p.Request))
			resp = string(coder.Encode(p.Response))
		}
		fmt.Fprintf(w, "#%d %s req=%q resp=%q\n", n, p.ExitKind, req, resp)
		n++
	}

	fmt.Fprintf(w, "%d pairs\n", n)
	return nil
}
