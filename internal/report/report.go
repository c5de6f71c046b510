// Package report assembles a session's captured data into a renderable
// document and renders it to deliverable bytes.
package report

import (
	"time"
)

// EntryKind classifies one transcript entry.
type EntryKind string

const (
	KindOutput EntryKind = "output"
	KindInput  EntryKind = "input"
	KindError  EntryKind = "error"
)

// Entry is one transcript record. Entries are insertion-ordered, matching the
// wall-clock order of production: a prompt line precedes the input that
// answered it.
type Entry struct {
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
}

// Document is the assembled report. It is built purely from data already
// captured on the session; rendering never touches the child process.
type Document struct {
	SessionID   string
	Source      string
	Transcript  []Entry
	Outcome     string
	GeneratedAt time.Time
}

// Assemble builds a document from the session's source, its insertion-ordered
// transcript, and the outcome line shown in the report header.
func Assemble(sessionID, source string, transcript []Entry, outcome string) Document {
	return Document{
		SessionID:   sessionID,
		Source:      source,
		Transcript:  append([]Entry(nil), transcript...),
		Outcome:     outcome,
		GeneratedAt: time.Now().UTC(),
	}
}

// HasOutput reports whether the transcript contains any output or input
// entries.
func (d Document) HasOutput() bool {
	for _, e := range d.Transcript {
		if e.Kind == KindOutput || e.Kind == KindInput {
			return true
		}
	}
	return false
}

// Errors returns the error-kind transcript entries in order.
func (d Document) Errors() []Entry {
	var errs []Entry
	for _, e := range d.Transcript {
		if e.Kind == KindError {
			errs = append(errs, e)
		}
	}
	return errs
}
