package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
)

// jsonl appends one JSON document per line to a writer.
type jsonl struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

func (j *jsonl) write(v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return json.NewEncoder(j.w).Encode(v)
}

func (j *jsonl) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// AuditLog writes every admission event as one JSON line. It implements
// admission.Observer.
type AuditLog struct {
	out    jsonl
	logger hclog.Logger
}

// NewAuditLog writes events to w.
func NewAuditLog(w io.Writer, logger hclog.Logger) *AuditLog {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AuditLog{out: jsonl{w: w}, logger: logger}
}

// OpenAuditLog appends events to the file at path.
func OpenAuditLog(path string, logger hclog.Logger) (*AuditLog, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	a := NewAuditLog(f, logger)
	a.out.closer = f
	return a, nil
}

// Observe implements admission.Observer.
func (a *AuditLog) Observe(e admission.Event) {
	if err := a.out.write(e); err != nil {
		a.logger.Error("audit write failed", "id", e.ID, "error", err)
	}
}

// Close closes the underlying file, if any.
func (a *AuditLog) Close() error {
	return a.out.Close()
}

// Sink stores accepted submissions as JSON lines.
type Sink struct {
	out jsonl
}

// NewSink writes accepted records to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{out: jsonl{w: w}}
}

// OpenSink appends accepted records to the file at path.
func OpenSink(path string) (*Sink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &Sink{out: jsonl{w: f, closer: f}}, nil
}

// Persist appends rec.
func (s *Sink) Persist(ctx context.Context, rec AcceptedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.out.write(rec); err != nil {
		return fmt.Errorf("persisting %s: %w", rec.ID, err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (s *Sink) Close() error {
	return s.out.Close()
}
