package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the minimum severity recorded by the logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to its Level. Unknown names fall back to
// info, matching the configuration default.
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Category tags each entry with the subsystem that produced it.
type Category string

const (
	CatSystem    Category = "system"
	CatSession   Category = "session"
	CatChannel   Category = "channel"
	CatCard      Category = "card"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Entry is one in-memory log record, served over the monitor's /v1/logs.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

var (
	mu       sync.Mutex
	entries  []Entry
	capacity int
	minLevel Level
	backend  *logrus.Logger
)

// Init sets up the in-memory ring buffer and the file-backed logrus mirror.
// Safe to call more than once; the last call wins.
func Init(bufferSize int, level Level) {
	mu.Lock()
	defer mu.Unlock()

	capacity = bufferSize
	minLevel = level
	entries = make([]Entry, 0, bufferSize)

	backend = logrus.New()
	backend.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	backend.SetLevel(logrusLevel(level))
	backend.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   filepath.Join(CrashLogDir(), "sealbridge.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}))
}

func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel adjusts the minimum recorded severity at runtime.
func SetLevel(level Level) {
	mu.Lock()
	minLevel = level
	if backend != nil {
		backend.SetLevel(logrusLevel(level))
	}
	mu.Unlock()
}

// Debug records a debug-level entry.
func Debug(cat Category, msg string, fields map[string]any) { log(LevelDebug, cat, msg, fields) }

// Info records an info-level entry.
func Info(cat Category, msg string, fields map[string]any) { log(LevelInfo, cat, msg, fields) }

// Warn records a warn-level entry.
func Warn(cat Category, msg string, fields map[string]any) { log(LevelWarn, cat, msg, fields) }

// Error records an error-level entry.
func Error(cat Category, msg string, fields map[string]any) { log(LevelError, cat, msg, fields) }

func log(level Level, cat Category, msg string, fields map[string]any) {
	mu.Lock()
	if level < minLevel {
		mu.Unlock()
		return
	}
	if capacity > 0 {
		if len(entries) == capacity {
			entries = entries[1:]
		}
		entries = append(entries, Entry{
			Time:     time.Now(),
			Level:    level.String(),
			Category: cat,
			Message:  msg,
			Fields:   fields,
		})
	}
	b := backend
	mu.Unlock()

	if b == nil {
		return
	}
	e := b.WithField("category", string(cat))
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	switch level {
	case LevelDebug:
		e.Debug(msg)
	case LevelInfo:
		e.Info(msg)
	case LevelWarn:
		e.Warn(msg)
	case LevelError:
		e.Error(msg)
	}
}

// Recent returns up to limit entries, newest last, optionally filtered by
// category. limit <= 0 returns everything in the buffer.
func Recent(limit int, cat Category) []Entry {
	mu.Lock()
	defer mu.Unlock()

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if cat != "" && e.Category != cat {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Clear empties the in-memory buffer. The file mirror is untouched.
func Clear() {
	mu.Lock()
	entries = entries[:0]
	mu.Unlock()
}
