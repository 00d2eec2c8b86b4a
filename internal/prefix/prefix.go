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

// Package prefix loads and replays the ordered seed sequences that put a
// stateful target into a given protocol state before fuzzing resumes
// there. One subdirectory of the input directory per target state, each
// holding the ordered seed files plus a "metadata" file naming its
// outgoing edge count.
package prefix

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/multistate"
)

const metadataFilename = "metadata"

// Load reads inDir's subdirectories in lexical order and turns each into a
// multistate.Prefix: every non-metadata file in the subdirectory becomes an
// ordered replay step, and the metadata file supplies the outgoing-edge
// count used by the OutgoingEdges scheduler.
func Load(inDir string) ([]multistate.Prefix, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, errs.New(errs.MinPrefix, "read input dir "+inDir+": "+err.Error())
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })

	prefixes := make([]multistate.Prefix, 0, len(dirs))
	for _, d := range dirs {
		p, err := loadOne(filepath.Join(inDir, d.Name()))
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}

	return prefixes, nil
}

func loadOne(dir string) (multistate.Prefix, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return multistate.Prefix{}, errs.New(errs.MinPrefix, "read prefix dir "+dir+": "+err.Error())
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var steps []multistate.Testcase
	var meta *multistate.PrefixMetadata

	for _, f := range files {
		path := filepath.Join(dir, f.Name())
		if f.Name() == metadataFilename {
			m, err := readMetadata(path)
			if err != nil {
				return multistate.Prefix{}, err
			}
			meta = &m
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return multistate.Prefix{}, errs.New(errs.MinPrefix, "read prefix seed "+path+": "+err.Error())
		}
		steps = append(steps, multistate.Testcase{Input: data})
	}

	if meta == nil {
		return multistate.Prefix{}, errs.New(errs.CodeIllegalState, "no metadata file found in prefix dir "+dir)
	}

	return multistate.Prefix{Steps: steps, Metadata: *meta}, nil
}

func readMetadata(path string) (multistate.PrefixMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return multistate.PrefixMetadata{}, errs.New(errs.MinPrefix, "read "+path+": "+err.Error())
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return multistate.PrefixMetadata{}, errs.New(errs.CodeIllegalState, "parse prefix metadata in "+path+": "+err.Error())
	}
	return multistate.PrefixMetadata{OutgoingEdges: n}, nil
}

// Replayer runs a state's prefix steps through an arbitrary execution
// function, used after every state switch or state_reset_occurred event
//.
type Replayer struct {
	run func(input []byte) error
}

// NewReplayer wraps a single-input execution callback (typically an
// executor.Executor.Run or StatefulExecutor.RunTracked adapter).
func NewReplayer(run func(input []byte) error) *Replayer {
	return &Replayer{run: run}
}

// Replay executes every step of p in order, stopping at the first error.
func (r *Replayer) Replay(p multistate.Prefix) error {
	for _, step := range p.Steps {
		if err := r.run(step.Input); err != nil {
			return err
		}
	}
	return nil
}
