// Package session implements the conversational controller: one state
// machine per chat conversation, driving a compiled program through
// turn-based execution.
//
// All events for a session - user messages, output lines, silence timeouts,
// cancellation - flow through a single per-session goroutine, so state
// transitions are serialized by construction. Sessions are fully independent
// of each other; nothing mutable is shared between them.
package session

import (
	"log/slog"
	"time"

	"github.com/runlab-dev/runlab/internal/builder"
	"github.com/runlab-dev/runlab/internal/prompt"
	"github.com/runlab-dev/runlab/internal/report"
	"github.com/runlab-dev/runlab/internal/supervisor"
)

// State is the session's phase. The zero session starts Idle; Finished is
// terminal. Illegal combinations (such as awaiting input with no child) are
// unrepresentable because the child handle is owned by the machine and set
// exactly when Running or AwaitingInput is entered.
type State string

const (
	StateIdle          State = "idle"
	StateCompiling     State = "compiling"
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateCancelled     State = "cancelled"
	StateFinished      State = "finished"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateFinished
}

// Notifier is the outbound half of the chat transport. The core never
// depends on transport framing; these two calls are all it needs.
type Notifier interface {
	SendText(sessionID, text string) error
	SendDocument(sessionID, name string, data []byte) error
}

// Deps bundles the collaborators a session machine drives.
type Deps struct {
	Builder    *builder.Builder
	Supervisor *supervisor.Supervisor
	Detector   prompt.Detector
	Renderer   report.Renderer
	Notifier   Notifier
	Logger     *slog.Logger

	// DocumentName names the delivered report file.
	DocumentName string
	// SilenceTimeout bounds how long the output pump waits for a line
	// before treating the quiet as an implicit prompt.
	SilenceTimeout time.Duration
	// MaxSessionDuration caps total session wall-clock. Zero disables.
	MaxSessionDuration time.Duration
	// LedgerDir enables the per-session NDJSON ledger when non-empty.
	LedgerDir string
}

type eventKind int

const (
	evMessage eventKind = iota
	evCancel
	evLine
	evSilence
	evExited
)

// event is one unit of work for the session goroutine. gen ties pump events
// to the pump generation that produced them so a stopped pump cannot drive
// transitions after the fact.
type event struct {
	kind eventKind
	text string
	line supervisor.Line
	gen  int
}
