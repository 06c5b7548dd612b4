// Package logger provides leveled, key-value structured logging for the
// print service. Entries go to the console and optionally to a log file,
// and a bounded in-memory buffer keeps recent entries for diagnostics.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	ERROR Level = iota
	WARN
	INFO
	DEBUG
)

var levelNames = map[Level]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
}

// ParseLevel maps a level name to a Level. Unknown names default to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return ERROR
	case "warn", "warning":
		return WARN
	case "debug":
		return DEBUG
	default:
		return INFO
	}
}

// Entry is a single log record.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Context   map[string]interface{}
}

// Logger provides structured logging with levels.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	buffer        []Entry
	maxBufferSize int
	console       bool
}

// New creates a Logger. If logDir is non-empty a printdesk.log file is opened
// there (errors are ignored; console logging still works).
func New(level Level, logDir string, maxBufferSize int) *Logger {
	l := &Logger{
		level:         level,
		buffer:        make([]Entry, 0, maxBufferSize),
		maxBufferSize: maxBufferSize,
		console:       true,
	}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(logDir, "printdesk.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				l.file = f
			}
		}
	}
	return l
}

// SetConsoleOutput enables or disables console output.
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = enabled
}

// SetLevel changes the current log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current log level.
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Error logs an error level message.
func (l *Logger) Error(msg string, context ...interface{}) { l.log(ERROR, msg, context...) }

// Warn logs a warning level message.
func (l *Logger) Warn(msg string, context ...interface{}) { l.log(WARN, msg, context...) }

// Info logs an info level message.
func (l *Logger) Info(msg string, context ...interface{}) { l.log(INFO, msg, context...) }

// Debug logs a debug level message.
func (l *Logger) Debug(msg string, context ...interface{}) { l.log(DEBUG, msg, context...) }

// Recent returns a copy of the most recent buffered entries.
func (l *Logger) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.buffer) {
		n = len(l.buffer)
	}
	out := make([]Entry, n)
	copy(out, l.buffer[len(l.buffer)-n:])
	return out
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) log(level Level, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	ctx := make(map[string]interface{})
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			ctx[key] = context[i+1]
		}
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   ctx,
	}

	l.buffer = append(l.buffer, entry)
	if len(l.buffer) > l.maxBufferSize {
		l.buffer = l.buffer[len(l.buffer)-l.maxBufferSize:]
	}

	line := formatEntry(entry)
	if l.console {
		fmt.Fprintln(os.Stderr, line)
	}
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

func formatEntry(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(levelNames[e.Level])
	b.WriteString("] ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Context[k])
		}
	}
	return b.String()
}
