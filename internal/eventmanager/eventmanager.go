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

// Package eventmanager routes per-execution telemetry through a
// multi-client event model: each target state is treated as though it were
// a distinct fuzzing client, with ClientId == state index + 1 (id 0 stays
// reserved for the broker), so per-state statistics render side-by-side.
// Stats are exported three ways: a prometheus registry for scraping, an
// mpb progress bar per state for the terminal, and a stats.json file
// (WriteStatsJSON), all driven from the same client-stats table.
package eventmanager

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/libaflstar-go/internal/errs"
	"github.com/nabbar/libaflstar-go/internal/logger"
)

// ClientID identifies one event source: the broker reserves 0, target
// states are numbered from 1.
type ClientID uint32

// EventKind distinguishes the handful of event shapes the manager
// switches on.
type EventKind uint8

const (
	EventNewTestcase EventKind = iota
	EventUpdateExecStats
	EventUpdateUserStats
	EventObjective
	EventLog
	EventCustomBuf
)

// Event is the payload routed through the manager, one flat struct
// covering every kind rather than a variant per kind.
type Event struct {
	Kind EventKind

	CorpusSize int
	Executions uint64
	Time       time.Time

	UserStatName  string
	UserStatValue float64

	ObjectiveSize int

	LogMessage string

	CustomBufTag string
	CustomBuf    []byte
}

type clientStats struct {
	corpusSize    int
	executions    uint64
	objectiveSize int
	userStats     map[string]float64
	lastUpdate    time.Time
}

// Manager fans events in from every target state and keeps per-client
// stats plus prometheus gauges up to date; CustomBuf events are handed to
// registered handlers instead of the broker table.
type Manager struct {
	mu sync.Mutex

	log         logger.Logger
	singleState bool

	clients map[ClientID]*clientStats

	customBufHandlers []func(tag string, buf []byte) error

	gaugeCorpus     *prometheus.GaugeVec
	gaugeExecs      *prometheus.GaugeVec
	gaugeObjectives *prometheus.GaugeVec
	gaugeUserStat   *prometheus.GaugeVec
}

// New builds a Manager that treats each target state as its own client.
func New(log logger.Logger, reg prometheus.Registerer) *Manager {
	return newManager(log, reg, false)
}

// NewSingleState builds a Manager that always attributes events to client
// 0, for SingleCorp-mode fuzzers where per-state breakdown is meaningless.
func NewSingleState(log logger.Logger, reg prometheus.Registerer) *Manager {
	return newManager(log, reg, true)
}

func newManager(log logger.Logger, reg prometheus.Registerer, singleState bool) *Manager {
	m := &Manager{
		log:         log,
		singleState: singleState,
		clients:     make(map[ClientID]*clientStats),
		gaugeCorpus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "libaflstar_corpus_size",
			Help: "Number of testcases in the corpus, per target state.",
		}, []string{"state"}),
		gaugeExecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "libaflstar_executions_total",
			Help: "Executions performed, per target state.",
		}, []string{"state"}),
		gaugeObjectives: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "libaflstar_objectives_total",
			Help: "Objectives (crashes) found, per target state.",
		}, []string{"state"}),
		gaugeUserStat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "libaflstar_user_stat",
			Help: "Named user-defined statistic, per target state and stat name.",
		}, []string{"state", "stat"}),
	}
	if reg != nil {
		reg.MustRegister(m.gaugeCorpus, m.gaugeExecs, m.gaugeObjectives, m.gaugeUserStat)
	}
	m.clientFor(0)
	return m
}

func (m *Manager) clientFor(id ClientID) *clientStats {
	c, ok := m.clients[id]
	if !ok {
		c = &clientStats{userStats: make(map[string]float64)}
		m.clients[id] = c
	}
	return c
}

func stateLabel(id ClientID) string {
	if id == 0 {
		return "broker"
	}
	return clientIDToStateLabel(id)
}

func clientIDToStateLabel(id ClientID) string {
	return "state_" + strconv.FormatUint(uint64(id-1), 10)
}

// Fire routes one event, attributing it to stateIdx+1 as its ClientID
// (or to client 0 in single-state mode).
func (m *Manager) Fire(stateIdx int, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clientID := ClientID(0)
	if !m.singleState {
		clientID = ClientID(stateIdx + 1)
	}

	if ev.Kind == EventCustomBuf {
		for _, h := range m.customBufHandlers {
			if err := h(ev.CustomBufTag, ev.CustomBuf); err != nil {
				return err
			}
		}
		return nil
	}

	return m.handleInBroker(clientID, ev)
}

func (m *Manager) handleInBroker(clientID ClientID, ev Event) error {
	c := m.clientFor(clientID)
	label := stateLabel(clientID)

	switch ev.Kind {
	case EventNewTestcase:
		c.corpusSize = ev.CorpusSize
		c.executions = ev.Executions
		c.lastUpdate = ev.Time
		m.gaugeCorpus.WithLabelValues(label).Set(float64(c.corpusSize))
		m.gaugeExecs.WithLabelValues(label).Set(float64(c.executions))
		if m.log != nil {
			m.log.Info("Testcase", logger.Fields{"client": label, "corpus_size": c.corpusSize})
		}
	case EventUpdateExecStats:
		c.executions = ev.Executions
		c.lastUpdate = ev.Time
		m.gaugeExecs.WithLabelValues(label).Set(float64(c.executions))
	case EventUpdateUserStats:
		c.userStats[ev.UserStatName] = ev.UserStatValue
		m.gaugeUserStat.WithLabelValues(label, ev.UserStatName).Set(ev.UserStatValue)
		if m.log != nil {
			m.log.Info("UserStats", logger.Fields{"client": label, ev.UserStatName: ev.UserStatValue})
		}
	case EventObjective:
		c.objectiveSize = ev.ObjectiveSize
		m.gaugeObjectives.WithLabelValues(label).Set(float64(c.objectiveSize))
		if m.log != nil {
			m.log.Warning("Objective", logger.Fields{"client": label, "objective_size": c.objectiveSize})
		}
	case EventLog:
		if m.log != nil {
			m.log.Info(ev.LogMessage, nil)
		}
	}
	return nil
}

// AddCustomBufHandler registers a handler invoked for every CustomBuf event.
func (m *Manager) AddCustomBufHandler(h func(tag string, buf []byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customBufHandlers = append(m.customBufHandlers, h)
}

// Snapshot returns a read-only copy of one client's stats, used by the
// progress-bar renderer.
func (m *Manager) Snapshot(stateIdx int) (corpusSize int, executions uint64, objectiveSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[ClientID(stateIdx+1)]
	if !ok {
		return 0, 0, 0
	}
	return c.corpusSize, c.executions, c.objectiveSize
}

// clientStatsJSON is one client's stats rendered for the periodic
// <out>/stats.json dump.
type clientStatsJSON struct {
	Client        string             `json:"client"`
	CorpusSize    int                `json:"corpus_size"`
	Executions    uint64             `json:"executions"`
	ObjectiveSize int                `json:"objective_size"`
	UserStats     map[string]float64 `json:"user_stats,omitempty"`
	LastUpdate    time.Time          `json:"last_update"`
}

// statsReportJSON is the top-level shape of stats.json.
type statsReportJSON struct {
	Timestamp time.Time         `json:"timestamp"`
	Clients   []clientStatsJSON `json:"clients"`
}

// WriteStatsJSON dumps every client's current stats to path, overwriting
// whatever was there: <out>/stats.json, refreshed on the same cadence as
// the terminal progress report.
func (m *Manager) WriteStatsJSON(path string) error {
	m.mu.Lock()
	report := statsReportJSON{Timestamp: time.Now().UTC()}
	for id, c := range m.clients {
		stats := make(map[string]float64, len(c.userStats))
		for k, v := range c.userStats {
			stats[k] = v
		}
		report.Clients = append(report.Clients, clientStatsJSON{
			Client:        stateLabel(id),
			CorpusSize:    c.corpusSize,
			Executions:    c.executions,
			ObjectiveSize: c.objectiveSize,
			UserStats:     stats,
			LastUpdate:    c.lastUpdate,
		})
	}
	m.mu.Unlock()

	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errs.New(errs.MinEventManager, "marshal stats.json: "+err.Error())
	}
	if err = os.WriteFile(path, buf, 0o644); err != nil {
		return errs.New(errs.CodeFile, "write "+path+": "+err.Error())
	}
	return nil
}
