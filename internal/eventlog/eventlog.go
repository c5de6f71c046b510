// Package eventlog persists an append-only NDJSON ledger of everything a
// session did: state transitions, transcript entries, and terminal outcome.
// The ledger exists for operator debugging; sessions never read it back.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runlab-dev/runlab/internal/ndjson"
)

// Record is one ledger entry.
type Record struct {
	Time      time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
}

// Log writes session records to an NDJSON file.
type Log struct {
	file    *os.File
	encoder *ndjson.Encoder
	mu      sync.Mutex
}

// Open creates (or appends to) the ledger at logPath.
func Open(logPath string) (*Log, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Log{
		file:    file,
		encoder: ndjson.NewEncoder(file),
	}, nil
}

// Append writes a record to the ledger, stamping it if unstamped.
func (l *Log) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(rec)
}

// Close closes the ledger file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
