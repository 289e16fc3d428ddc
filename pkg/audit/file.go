package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileSink writes one JSON line per entry to an append-only file.
type FileSink struct {
	mu     sync.Mutex
	out    io.WriteCloser
	logger zerolog.Logger
	diag   zerolog.Logger
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string, diag zerolog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return NewFileSink(f, diag), nil
}

// NewFileSink wraps an already opened writer.
func NewFileSink(w io.WriteCloser, diag zerolog.Logger) *FileSink {
	return &FileSink{
		out:    w,
		logger: zerolog.New(reportingWriter{w: w, diag: diag}),
		diag:   diag,
	}
}

// reportingWriter counts and logs failed writes, which zerolog discards.
type reportingWriter struct {
	w    io.Writer
	diag zerolog.Logger
}

func (r reportingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil {
		auditErrorsTotal.WithLabelValues("file").Inc()
		r.diag.Warn().Err(err).Msg("Failed to write audit entry")
	}
	return n, err
}

// Record implements Recorder.
func (s *FileSink) Record(ctx context.Context, e Entry) {
	e = stamp(ctx, e)

	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.logger.Log().
		Time("ts", e.Timestamp).
		Str("partition", e.Partition).
		Int("offset", e.Offset).
		Int("limit", e.Limit).
		Int("attempt", e.Attempt).
		Int("status", e.Status).
		Int("returned", e.Returned).
		Int("total", e.Total).
		Dur("duration", e.Duration)
	if e.RunID != "" {
		ev = ev.Str("run_id", e.RunID)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Send()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.Close(); err != nil {
		auditErrorsTotal.WithLabelValues("file").Inc()
		s.diag.Warn().Err(err).Msg("Failed to close audit file")
		return err
	}
	return nil
}
