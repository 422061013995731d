package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the daemon log destination. An empty Path keeps logging
// on stderr only; otherwise records are additionally written to a rotated
// file. The rotation fields also apply to per-miner output files.
type Config struct {
	Level      string // debug|info|warn|error (default info)
	Path       string // rotated daemon log file, optional
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileWriter returns a rotating writer for <dir>/<name>.log. Used for
// per-miner output capture.
func FileWriter(dir, name string, c Config) io.WriteCloser {
	return &lj.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Setup installs the process-wide slog default: a colored text handler on
// stderr, plus a rotated file copy when Path is set. The returned closer
// flushes the file writer; it is nil when no file is configured.
func Setup(c Config) io.Closer {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}

	var closer io.Closer
	w := io.Writer(os.Stderr)
	if c.Path != "" {
		fw := &lj.Logger{
			Filename:   c.Path,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		closer = fw
		w = io.MultiWriter(os.Stderr, fw)
	}
	slog.SetDefault(slog.New(NewColorTextHandler(w, opts, true)))
	return closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
