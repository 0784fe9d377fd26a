package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var Log *slog.Logger

// Activity is an optional dedicated sink for message-flow records
// (sends, fallbacks, confirmations). Callers may use
// logger.Activity.Info(...); if nil, flow events fall back to the
// main logger.
var Activity *slog.Logger

// Init initializes the global slog logger with a text handler. Sink and
// level come from AUTOSYNC_LOG_SINK (e.g. "file:/path/to/log") and
// AUTOSYNC_LOG_LEVEL.
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger but honors the provided
// `level` string ("debug", "info", "warn", "error"). If level is empty,
// InitWithLevel falls back to the AUTOSYNC_LOG_LEVEL environment value.
func InitWithLevel(level string) {
	sink := os.Getenv("AUTOSYNC_LOG_SINK")
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("AUTOSYNC_LOG_LEVEL")))
	}
	lv := parseLevel(lvl)

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lv}))
			return
		}
		// fallback to stdout
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func parseLevel(lvl string) slog.Level {
	switch lvl {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// AttachActivityFileSink configures a JSON-file activity logger writing
// to <dir>/activity.log. If the file cannot be opened the function
// returns an error and leaves Activity as nil.
func AttachActivityFileSink(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty activity dir")
	}
	// If the path exists and is a symlink, fail early to avoid TOCTOU.
	if fi, err := os.Lstat(dir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("activity path is a symlink: %s", dir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("activity path exists and is not a directory: %s", dir)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create activity directory: %w", err)
	}
	// double-check for symlink after creation
	if fi2, err := os.Lstat(dir); err == nil {
		if fi2.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("activity path is a symlink after creation: %s", dir)
		}
	}

	fname := filepath.Join(dir, "activity.log")
	// If existing file too large, rotate it.
	if fi, err := os.Stat(fname); err == nil {
		const maxSize = 10 * 1024 * 1024 // 10MB
		if fi.Size() > maxSize {
			bak := fname + "." + fi.ModTime().UTC().Format("20060102T150405Z")
			_ = os.Rename(fname, bak)
		}
	}
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open activity log file: %w", err)
	}
	h := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	Activity = slog.New(h)
	// Emit an initial marker so consumers (and tests) can observe that
	// the sink was successfully attached and the file is writable.
	Activity.Info("activity_sink_attached", "path", fname)
	return nil
}

// Flow logs a message-flow record to the activity sink when attached,
// else to the main logger.
func Flow(msg string, args ...any) {
	if Activity != nil {
		Activity.Info(msg, args...)
		return
	}
	Info(msg, args...)
}

// Sync is a no-op for slog handlers used here.
func Sync() {}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
