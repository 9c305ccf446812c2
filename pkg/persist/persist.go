// Package persist offers terminal-record sinks for the execution registry.
// Persistence is best-effort: a sink failure is logged by the registry and
// never affects the execution outcome.
package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/mesherr"
)

// FileSink writes each terminal record as a standalone JSON document named
// by execution id.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, mesherr.New(mesherr.KindValidation, "file sink requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mesherr.Wrap(mesherr.KindValidation, err,
			"failed to create persistence directory %q", dir)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Write(rec *execution.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", rec.ExecutionID, err)
	}

	// Write-then-rename so readers never observe a partial document.
	path := filepath.Join(s.dir, rec.ExecutionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", rec.ExecutionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// Read loads a previously persisted record.
func (s *FileSink) Read(executionID string) (*execution.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, executionID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mesherr.New(mesherr.KindNotFound,
				"execution %s has no persisted record", executionID)
		}
		return nil, err
	}
	var rec execution.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", executionID, err)
	}
	return &rec, nil
}

// WriterSink streams records as JSON lines to an io.Writer. Used for audit
// pipes and tests.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(rec *execution.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Write(*execution.Record) error { return nil }
