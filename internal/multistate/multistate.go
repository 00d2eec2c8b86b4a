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

// Package multistate holds N parallel fuzzing contexts, one per protocol
// state of the target, and lets callers switch which one is "current"
// without losing track of per-state corpora, metadata and coverage.
// Consumers of the container see the illusion of a single fuzzing context;
// the access mode decides which reads route to shared storage and which to
// the selected state's own.
package multistate

import (
	"strconv"
	"sync"

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/pkg/bitmap"
)

// AccessMode selects how corpora and metadata are shared across target
// states.
type AccessMode uint8

const (
	// SingleCorp: one shared corpus and one shared metadata map for every
	// target state.
	SingleCorp AccessMode = iota
	// MultiCorpSingleMeta: a corpus per target state, but metadata shared.
	MultiCorpSingleMeta
	// MultiCorpMultiMeta: a corpus and a metadata map per target state.
	MultiCorpMultiMeta
)

// TargetStateIdx identifies one target state.
type TargetStateIdx int

func (i TargetStateIdx) String() string {
	return "StateId(" + strconv.Itoa(int(i)) + ")"
}

// Testcase is one stored input together with the coverage it produced.
type Testcase struct {
	Input    []byte
	Coverage []byte
}

// PrefixMetadata records properties of a target state's prefix.
type PrefixMetadata struct {
	OutgoingEdges int
}

// Prefix is the ordered sequence of seeds replayed whenever this target
// state becomes current.
type Prefix struct {
	Steps    []Testcase
	Metadata PrefixMetadata
}

type innerState struct {
	corpus        []Testcase // nil when AccessMode == SingleCorp
	metadata      map[string]any
	namedMetadata map[string]map[string]any
	coverage      *bitmap.Handle

	imported     int
	executions   int
	fuzzCycles   int
	outgoingEdge int

	// resumption bookkeeping so a state can pick up mid-cycle where it
	// left off when it next becomes current
	corpusIdx     int
	stageIdxStack []int
}

// Container owns one innerState per target state, a shared
// corpus/metadata pair when the access mode calls for it, and the
// prefixes replayed on state switch.
type Container struct {
	mu sync.Mutex

	mode AccessMode
	idx  TargetStateIdx

	states   []innerState
	prefixes []Prefix

	sharedCorpus   []Testcase                // SingleCorp only
	sharedMetadata map[string]any            // SingleCorp and MultiCorpSingleMeta
	sharedNamedMD  map[string]map[string]any // SingleCorp and MultiCorpSingleMeta
	sharedCoverage *bitmap.Handle            // SingleCorp and MultiCorpSingleMeta: the lone feedback-history map

	mapSize      int
	maxInputSize int
}

// NewSingleCorpus builds a container where all target states draw from one
// shared corpus and one shared metadata map.
func NewSingleCorpus(numStates, mapSize int, prefixes []Prefix) (*Container, error) {
	return newContainer(SingleCorp, numStates, mapSize, prefixes)
}

// NewMultiCorpSingleMeta builds a container with a corpus per target state
// but metadata shared across all of them.
func NewMultiCorpSingleMeta(numStates, mapSize int, prefixes []Prefix) (*Container, error) {
	return newContainer(MultiCorpSingleMeta, numStates, mapSize, prefixes)
}

// NewMultiCorpMultiMeta builds a container with an independent corpus and
// metadata map per target state.
func NewMultiCorpMultiMeta(numStates, mapSize int, prefixes []Prefix) (*Container, error) {
	return newContainer(MultiCorpMultiMeta, numStates, mapSize, prefixes)
}

func newContainer(mode AccessMode, numStates, mapSize int, prefixes []Prefix) (*Container, error) {
	if numStates <= 0 {
		return nil, errs.New(errs.CodeIllegalArgument, "multistate: numStates must be positive")
	}
	if len(prefixes) != 0 && len(prefixes) != numStates {
		return nil, errs.New(errs.CodeIllegalArgument, "multistate: prefixes length must match numStates")
	}
	if mapSize <= 0 {
		mapSize = bitmap.DefaultSize
	}

	c := &Container{
		mode:         mode,
		states:       make([]innerState, numStates),
		prefixes:     prefixes,
		mapSize:      mapSize,
		maxInputSize: bitmap.MaxInputSizeDefault - 4,
	}
	if mode == SingleCorp || mode == MultiCorpSingleMeta {
		c.sharedMetadata = make(map[string]any)
		c.sharedNamedMD = make(map[string]map[string]any)
	}
	if mode == SingleCorp {
		c.sharedCorpus = nil
	}

	// Total coverage computation requires SingleCorp and
	// MultiCorpSingleMeta to "reuse the lone feedback-history map
	// directly": one shared bitmap, not one per state later merged.
	// Only MultiCorpMultiMeta gets a genuinely separate map per state.
	if mode == SingleCorp || mode == MultiCorpSingleMeta {
		shared, err := bitmap.New(mapSize)
		if err != nil {
			return nil, errs.New(errs.MinMultiState, "allocate shared coverage map: "+err.Error())
		}
		c.sharedCoverage = shared
	}

	for i := range c.states {
		if mode == MultiCorpMultiMeta {
			cov, err := bitmap.New(mapSize)
			if err != nil {
				for j := 0; j < i; j++ {
					_ = c.states[j].coverage.Close()
				}
				if c.sharedCoverage != nil {
					_ = c.sharedCoverage.Close()
				}
				return nil, errs.New(errs.MinMultiState, "allocate per-state coverage map: "+err.Error())
			}
			c.states[i].coverage = cov
			c.states[i].metadata = make(map[string]any)
			c.states[i].namedMetadata = make(map[string]map[string]any)
		}
		if mode != SingleCorp {
			c.states[i].corpus = nil
		}
		if len(prefixes) != 0 {
			c.states[i].outgoingEdge = prefixes[i].Metadata.OutgoingEdges
		}
	}

	return c, nil
}

// Close releases the coverage map(s): the shared handle for SingleCorp and
// MultiCorpSingleMeta, or every per-state handle for MultiCorpMultiMeta.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	if c.sharedCoverage != nil {
		if err := c.sharedCoverage.Close(); err != nil {
			first = err
		}
	}
	for i := range c.states {
		if c.states[i].coverage == nil {
			continue
		}
		if err := c.states[i].coverage.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CurrentStateIdx returns the index of the currently selected target state.
func (c *Container) CurrentStateIdx() TargetStateIdx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx
}

// StatesLen returns the total number of target states.
func (c *Container) StatesLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// SwitchState selects idx as the current target state.
func (c *Container) SwitchState(idx TargetStateIdx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(idx) < 0 || int(idx) >= len(c.states) {
		return errs.New(errs.CodeIllegalArgument, "switch_state: index out of range")
	}
	c.idx = idx
	return nil
}

// Prefix returns the prefix of the currently selected state, or the zero
// Prefix if none was configured.
func (c *Container) Prefix() Prefix {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(c.idx) >= len(c.prefixes) {
		return Prefix{}
	}
	return c.prefixes[c.idx]
}

// FuzzCycles returns and the current state's fuzz-cycle counter.
func (c *Container) FuzzCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.idx].fuzzCycles
}

// IncrementFuzzCycles bumps the current state's fuzz-cycle counter.
func (c *Container) IncrementFuzzCycles() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[c.idx].fuzzCycles++
}

// OutgoingEdges returns the number of outgoing edges of the currently
// selected state in the SUT's protocol state machine.
func (c *Container) OutgoingEdges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.idx].outgoingEdge
}

// MaxInputSize returns the largest input the fuzzer will generate or
// store, defaulting to the shared-memory envelope's payload capacity.
func (c *Container) MaxInputSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInputSize
}

// SetMaxInputSize overrides the input size cap.
func (c *Container) SetMaxInputSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxInputSize = n
	}
}

// Executions returns the current state's execution counter.
func (c *Container) Executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.idx].executions
}

// IncrementExecutions bumps the current state's execution counter, which is
// monotonically non-decreasing for the lifetime of the container.
func (c *Container) IncrementExecutions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[c.idx].executions++
}

// Imported returns how many testcases the current state pulled in from
// outside its own mutation pipeline (initial seeds, cross-state imports).
func (c *Container) Imported() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.idx].imported
}

// IncrementImported bumps the current state's imported-testcase counter.
func (c *Container) IncrementImported() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[c.idx].imported++
}

// Metadata reads a metadata entry reachable from the current state: the
// shared map unless the access mode is MultiCorpMultiMeta.
func (c *Container) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadataMap()[key]
	return v, ok
}

// SetMetadata writes a metadata entry through the same routing as Metadata.
func (c *Container) SetMetadata(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadataMap()[key] = val
}

func (c *Container) metadataMap() map[string]any {
	if c.mode != MultiCorpMultiMeta {
		return c.sharedMetadata
	}
	return c.states[c.idx].metadata
}

// NamedMetadata reads one entry of the named-metadata map identified by
// name, routed like Metadata.
func (c *Container) NamedMetadata(name, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.namedMetadataMap()[name]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// SetNamedMetadata writes one entry of the named-metadata map identified by
// name, creating the map on first use.
func (c *Container) SetNamedMetadata(name, key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.namedMetadataMap()
	m, ok := all[name]
	if !ok {
		m = make(map[string]any)
		all[name] = m
	}
	m[key] = val
}

func (c *Container) namedMetadataMap() map[string]map[string]any {
	if c.mode != MultiCorpMultiMeta {
		return c.sharedNamedMD
	}
	return c.states[c.idx].namedMetadata
}

// CorpusIdx returns the current state's saved corpus position.
func (c *Container) CorpusIdx() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[c.idx].corpusIdx
}

// SetCorpusIdx records where in its corpus the current state should resume.
func (c *Container) SetCorpusIdx(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[c.idx].corpusIdx = i
}

// PushStageIdx saves a stage position for the current state when a stage
// boundary is entered.
func (c *Container) PushStageIdx(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.states[c.idx]
	s.stageIdxStack = append(s.stageIdxStack, i)
}

// PopStageIdx restores the most recently saved stage position for the
// current state, failing if no stage boundary is open.
func (c *Container) PopStageIdx() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.states[c.idx]
	if len(s.stageIdxStack) == 0 {
		return 0, errs.New(errs.CodeIllegalState, "pop_stage_idx: stage stack is empty")
	}
	i := s.stageIdxStack[len(s.stageIdxStack)-1]
	s.stageIdxStack = s.stageIdxStack[:len(s.stageIdxStack)-1]
	return i, nil
}

// StageDepth reports how many stage boundaries the current state has open,
// which is by construction the length of its stage-index stack.
func (c *Container) StageDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states[c.idx].stageIdxStack)
}

// Coverage returns the coverage handle for the currently selected state:
// the lone shared map for SingleCorp/MultiCorpSingleMeta, or this state's
// own map for MultiCorpMultiMeta.
func (c *Container) Coverage() *bitmap.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != MultiCorpMultiMeta {
		return c.sharedCoverage
	}
	return c.states[c.idx].coverage
}

// CoverageAt returns the coverage handle for a specific state, routed the
// same way Coverage is: idx is still range-checked even though
// shared-coverage modes return the same handle regardless of idx.
func (c *Container) CoverageAt(idx TargetStateIdx) (*bitmap.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(idx) < 0 || int(idx) >= len(c.states) {
		return nil, errs.New(errs.CodeIllegalArgument, "coverage_at: index out of range")
	}
	if c.mode != MultiCorpMultiMeta {
		return c.sharedCoverage, nil
	}
	return c.states[idx].coverage, nil
}

// AddTestcase stores a new testcase in the corpus reachable from the
// currently selected state, per the container's access mode.
func (c *Container) AddTestcase(tc Testcase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == SingleCorp {
		c.sharedCorpus = append(c.sharedCorpus, tc)
		return
	}
	c.states[c.idx].corpus = append(c.states[c.idx].corpus, tc)
}

// Corpus returns the corpus reachable from the currently selected state.
func (c *Container) Corpus() []Testcase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == SingleCorp {
		return c.sharedCorpus
	}
	return c.states[c.idx].corpus
}

// ForEach executes f once per target state, selecting each state in turn,
// and restores the originally selected state afterwards.
func (c *Container) ForEach(f func(idx TargetStateIdx) error) error {
	original := c.CurrentStateIdx()
	n := c.StatesLen()
	for i := 0; i < n; i++ {
		if err := c.SwitchState(TargetStateIdx(i)); err != nil {
			return err
		}
		if err := f(TargetStateIdx(i)); err != nil {
			return err
		}
	}
	return c.SwitchState(original)
}

// MapToVec runs f once per target state and collects its results in state
// order, restoring the originally selected state afterwards.
func MapToVec[T any](c *Container, f func(idx TargetStateIdx) (T, error)) ([]T, error) {
	var out []T
	err := c.ForEach(func(idx TargetStateIdx) error {
		v, err := f(idx)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
