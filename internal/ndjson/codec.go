// Package ndjson provides newline-delimited JSON encoding for the
// per-session transcript ledger.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MaxRecordSize is the maximum NDJSON record size (256 KiB). A transcript
// line longer than this indicates a runaway child and is rejected.
const MaxRecordSize = 256 * 1024

// Encoder writes NDJSON records to an output stream.
type Encoder struct {
	writer *bufio.Writer
}

// NewEncoder creates a new NDJSON encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: bufio.NewWriter(w)}
}

// Encode writes a record as a single JSON line and flushes immediately so the
// ledger stays current while a session is live.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if len(data) > MaxRecordSize {
		return fmt.Errorf("record size %d exceeds limit %d", len(data), MaxRecordSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON records from an input stream. Sessions only ever
// append; the decoder exists for inspecting ledgers after the fact.
type Decoder struct {
	scanner *bufio.Scanner
	lineNum int
}

// NewDecoder creates a new NDJSON decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxRecordSize)
	scanner.Buffer(buf, MaxRecordSize)

	return &Decoder{scanner: scanner}
}

// Decode reads the next line and unmarshals it into v. Returns io.EOF when
// the stream is exhausted.
func (d *Decoder) Decode(v any) error {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return fmt.Errorf("failed to read line %d: %w", d.lineNum+1, err)
		}
		return io.EOF
	}
	d.lineNum++

	if err := json.Unmarshal(d.scanner.Bytes(), v); err != nil {
		return fmt.Errorf("failed to parse line %d: %w", d.lineNum, err)
	}

	return nil
}
