package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console writer; nil means stdout.
	Console io.Writer
	NoColor bool
}

// Logger writes every record twice: a colored line on the console and a JSON
// line in the log file when a directory is configured.
type Logger struct {
	slog    *slog.Logger
	level   *slog.LevelVar
	file    *os.File
	closeMu sync.Once
}

// ParseLevel converts a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger. The log directory is created when needed.
func New(cfg Config) (*Logger, error) {
	level := &slog.LevelVar{}
	level.Set(ParseLevel(cfg.Level))

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	handlers := fanout{newTextHandler(console, level, !cfg.NoColor)}

	var file *os.File
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.Filename
		if name == "" {
			name = "chatvoice.log"
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return &Logger{
		slog:  slog.New(handlers),
		level: level,
		file:  file,
	}, nil
}

// NewDiscard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func NewDiscard() *Logger {
	level := &slog.LevelVar{}
	level.Set(slog.LevelError + 4)
	return &Logger{
		slog:  slog.New(newTextHandler(io.Discard, level, false)),
		level: level,
	}
}

// Slog exposes the structured logger for integrations that want attrs.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a logger that adds the key/value pairs to every record. The
// derived logger shares the level and never closes the file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level}
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	var err error
	l.closeMu.Do(func() {
		err = l.file.Close()
	})
	return err
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.log(slog.LevelDebug, FormatLog(tag, msg), args...)
}

func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.log(slog.LevelInfo, FormatLog(tag, msg), args...)
}

func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.log(slog.LevelWarn, FormatLog(tag, msg), args...)
}

func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.log(slog.LevelError, FormatLog(tag, msg), args...)
}

// log formats msg printf-style. Structured attributes go through With.
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.slog == nil {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.slog.Log(context.Background(), level, msg)
}

// FormatLog prefixes message with a single "[tag]". Messages that already
// start with "[" are returned untouched.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" {
		return message
	}
	if strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}
