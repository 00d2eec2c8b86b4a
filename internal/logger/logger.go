/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

// Package logger wraps logrus the way nabbar/golib's logger package wraps
// it: a small interface in front of a shared, leveled, structured sink, so
// every component logs fields instead of formatted strings.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields carries structured context attached to a log entry (state index,
// target state id, execution count, and similar).
type Fields map[string]interface{}

// Logger is the structured, leveled sink every component logs through.
type Logger interface {
	SetLevel(lvl logrus.Level)
	GetLevel() logrus.Level

	Debug(message string, fields Fields)
	Info(message string, fields Fields)
	Warning(message string, fields Fields)
	Error(message string, fields Fields)
	Fatal(message string, fields Fields)

	// CheckError logs err at lvlKO if non-nil, returning true if err was nil.
	CheckError(lvlKO logrus.Level, message string, err error) bool

	// WithFields returns a child Logger that always includes the given fields.
	WithFields(fields Fields) Logger

	// Writer exposes the logger as an io.Writer at the given level, for
	// redirecting a std *log.Logger (e.g. forkserver stderr capture) into it.
	Writer(lvl logrus.Level) io.Writer
}

type lgr struct {
	mu  sync.RWMutex
	log *logrus.Logger
	ent *logrus.Entry
}

// New returns a Logger writing structured JSON-free text lines to stderr by
// default, at InfoLevel.
func New() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return &lgr{log: l, ent: logrus.NewEntry(l)}
}

// NewWithOutput returns a Logger writing to the given writer.
func NewWithOutput(w io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	return &lgr{log: l, ent: logrus.NewEntry(l)}
}

func (o *lgr) SetLevel(lvl logrus.Level) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.SetLevel(lvl)
}

func (o *lgr) GetLevel() logrus.Level {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.log.GetLevel()
}

func (o *lgr) entryWith(fields Fields) *logrus.Entry {
	o.mu.RLock()
	e := o.ent
	o.mu.RUnlock()

	if len(fields) == 0 {
		return e
	}
	return e.WithFields(logrus.Fields(fields))
}

func (o *lgr) Debug(message string, fields Fields)   { o.entryWith(fields).Debug(message) }
func (o *lgr) Info(message string, fields Fields)    { o.entryWith(fields).Info(message) }
func (o *lgr) Warning(message string, fields Fields) { o.entryWith(fields).Warn(message) }
func (o *lgr) Error(message string, fields Fields)   { o.entryWith(fields).Error(message) }
func (o *lgr) Fatal(message string, fields Fields)   { o.entryWith(fields).Fatal(message) }

func (o *lgr) CheckError(lvlKO logrus.Level, message string, err error) bool {
	if err == nil {
		return true
	}
	o.entryWith(Fields{"error": err.Error()}).Log(lvlKO, message)
	return false
}

func (o *lgr) WithFields(fields Fields) Logger {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &lgr{log: o.log, ent: o.ent.WithFields(logrus.Fields(fields))}
}

type levelWriter struct {
	l   *lgr
	lvl logrus.Level
}

func (w *levelWriter) Write(p []byte) (int, error) {
	w.l.entryWith(nil).Log(w.lvl, string(p))
	return len(p), nil
}

func (o *lgr) Writer(lvl logrus.Level) io.Writer {
	return &levelWriter{l: o, lvl: lvl}
}
