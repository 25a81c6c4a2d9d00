// Package logging writes structured log lines tagged with the scavenge run
// and the node that produced them.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"maps"
	"os"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the severity of a log line.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel reads a level name. "warning" is accepted for warn; anything
// unrecognised is LevelInfo.
func ParseLevel(s string) Level {
	if s == "warning" {
		return LevelWarn
	}
	if i := slices.Index(levelNames[:], s); i >= 0 {
		return Level(i)
	}
	return LevelInfo
}

// Format selects how entries are encoded.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat returns FormatText for "text" and FormatJSON otherwise.
func ParseFormat(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// Entry is one encoded log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	RunID     string         `json:"runId,omitempty"`
	NodeID    string         `json:"nodeId,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Config configures New.
type Config struct {
	Level  Level
	Format Format
	// Output defaults to stderr.
	Output io.Writer
	// AddCaller records the file and line of the logging call.
	AddCaller bool
	// CallerSkip drops extra frames when wrappers sit between the caller
	// and the Logger.
	CallerSkip int
}

// sink is the writer shared by a logger and everything derived from it.
type sink struct {
	mu         sync.Mutex
	w          io.Writer
	format     Format
	addCaller  bool
	callerSkip int
	level      atomic.Int32
}

func (s *sink) write(e *Entry) {
	var line []byte
	if s.format == FormatText {
		line = e.appendText(nil)
	} else {
		line, _ = json.Marshal(e)
		line = append(line, '\n')
	}

	s.mu.Lock()
	_, _ = s.w.Write(line)
	s.mu.Unlock()
}

// Logger is immutable apart from its level, which it shares with every
// logger derived from it. Safe for concurrent use.
type Logger struct {
	sink   *sink
	fields map[string]any
	runID  string
	nodeID string
}

// New creates a logger.
func New(cfg Config) *Logger {
	s := &sink{
		w:          cfg.Output,
		format:     cfg.Format,
		addCaller:  cfg.AddCaller,
		callerSkip: cfg.CallerSkip,
	}
	if s.w == nil {
		s.w = os.Stderr
	}
	s.level.Store(int32(cfg.Level))
	return &Logger{sink: s}
}

// DefaultLogger logs JSON at info level to stderr.
func DefaultLogger() *Logger {
	return New(Config{Level: LevelInfo, Format: FormatJSON})
}

// Nop returns a logger that writes nothing.
func Nop() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

// SetLevel changes the minimum level of l and of every logger sharing its
// output.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.Store(int32(level))
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	return Level(l.sink.level.Load())
}

func (l *Logger) derive() *Logger {
	c := *l
	return &c
}

// With returns a logger that adds fields to every entry. Fields given at
// the call site win over these on conflict.
func (l *Logger) With(fields map[string]any) *Logger {
	c := l.derive()
	c.fields = make(map[string]any, len(l.fields)+len(fields))
	maps.Copy(c.fields, l.fields)
	maps.Copy(c.fields, fields)
	return c
}

// WithRunID tags entries with a scavenge run, named after its scavenge point.
func (l *Logger) WithRunID(id string) *Logger {
	c := l.derive()
	c.runID = id
	return c
}

// WithNodeID tags entries with the node identity.
func (l *Logger) WithNodeID(id string) *Logger {
	c := l.derive()
	c.nodeID = id
	return c
}

func (l *Logger) Debug(msg string)                         { l.log(LevelDebug, msg, nil) }
func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string)                          { l.log(LevelInfo, msg, nil) }
func (l *Logger) Infof(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string)                          { l.log(LevelWarn, msg, nil) }
func (l *Logger) Warnf(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string)                         { l.log(LevelError, msg, nil) }
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

// log is always two frames below the caller of a level method.
func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if level < l.GetLevel() {
		return
	}

	e := &Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		RunID:     l.runID,
		NodeID:    l.nodeID,
	}
	if l.sink.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.sink.callerSkip); ok {
			e.File, e.Line = file, line
		}
	}
	switch {
	case len(fields) == 0 && len(l.fields) > 0:
		e.Fields = l.fields
	case len(fields) > 0:
		e.Fields = make(map[string]any, len(l.fields)+len(fields))
		maps.Copy(e.Fields, l.fields)
		maps.Copy(e.Fields, fields)
	}
	l.sink.write(e)
}

// appendText renders "time [level] message key=value..." with the fields in
// key order. Non-string values are JSON encoded.
func (e *Entry) appendText(buf []byte) []byte {
	b := bytes.NewBuffer(buf)
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteString(" [" + e.Level + "] ")
	b.WriteString(e.Message)

	pair := func(k string, v []byte) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
	}
	if e.RunID != "" {
		pair("runId", []byte(e.RunID))
	}
	if e.NodeID != "" {
		pair("nodeId", []byte(e.NodeID))
	}
	if e.File != "" {
		pair("file", strconv.AppendInt([]byte(e.File+":"), int64(e.Line), 10))
	}
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		if s, ok := e.Fields[k].(string); ok {
			pair(k, []byte(s))
			continue
		}
		v, _ := json.Marshal(e.Fields[k])
		pair(k, v)
	}
	b.WriteByte('\n')
	return b.Bytes()
}
