package logsink

import (
	"io"
	"log/slog"
	"sync"

	"github.com/hallqvist/voltmine/internal/logger"
)

// SlogSink mirrors miner output into the daemon log at debug level (stderr
// lines at warn).
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *SlogSink) Write(slot string, stream Stream, line string) {
	l := s.logger()
	if stream == Stderr {
		l.Warn("miner output", "slot", slot, "line", line)
		return
	}
	l.Debug("miner output", "slot", slot, "line", line)
}

func (s *SlogSink) Close() error { return nil }

// FileSink writes each slot's output to a rotated <dir>/<slot>.log file.
// Writers are created lazily per slot.
type FileSink struct {
	dir string
	cfg logger.Config

	mu      sync.Mutex
	writers map[string]io.WriteCloser
}

func NewFileSink(dir string, cfg logger.Config) *FileSink {
	return &FileSink{dir: dir, cfg: cfg, writers: make(map[string]io.WriteCloser)}
}

func (s *FileSink) Write(slot string, stream Stream, line string) {
	s.mu.Lock()
	w, ok := s.writers[slot]
	if !ok {
		w = logger.FileWriter(s.dir, slot, s.cfg)
		s.writers[slot] = w
	}
	s.mu.Unlock()
	_, _ = w.Write([]byte(line + "\n"))
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for slot, w := range s.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.writers, slot)
	}
	return first
}
