// Package logger adapts the teacher's internal/infra/logger (a thin
// file+stdout writer keyed by level) to carry the structured context
// spec.md §5/§9 expects in every log line: entry_id, provider_key, and
// whatever else a caller attaches with With.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes timestamped, leveled lines to a file and optionally to
// stdout. Fields attached via With are appended as key=value pairs.
type Logger struct {
	fileLogger    *log.Logger
	level         Level
	includeStdout bool
	fields        []field
}

type field struct {
	key string
	val string
}

func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		fileLogger:    log.New(f, "", 0),
		level:         level,
		includeStdout: includeStdout,
	}, nil
}

// With returns a derived Logger that prefixes every subsequent line with
// the given key=value pairs, e.g. With("entry_id", id, "provider_key", key).
// Args must come in pairs; an odd final arg is dropped.
func (l *Logger) With(kv ...any) *Logger {
	next := &Logger{
		fileLogger:    l.fileLogger,
		level:         l.level,
		includeStdout: l.includeStdout,
		fields:        append([]field(nil), l.fields...),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		next.fields = append(next.fields, field{
			key: fmt.Sprintf("%v", kv[i]),
			val: fmt.Sprintf("%v", kv[i+1]),
		})
	}
	return next
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...any) {
	if lvl < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)

	var ctx strings.Builder
	for _, f := range l.fields {
		ctx.WriteString(" ")
		ctx.WriteString(f.key)
		ctx.WriteString("=")
		ctx.WriteString(f.val)
	}

	fullMsg := fmt.Sprintf("%s [%s]%s %s", timestamp, prefix, ctx.String(), msg)

	l.fileLogger.Println(fullMsg)

	// Stdout mirrors only Info+ so debug spam doesn't drown the CLI's own
	// progress output.
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Printf("\n%s", fullMsg)
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

// Write implements io.Writer so cobra and other libraries can log through it.
func (l *Logger) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
