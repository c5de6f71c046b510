package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/runlab-dev/runlab/internal/builder"
	"github.com/runlab-dev/runlab/internal/eventlog"
	"github.com/runlab-dev/runlab/internal/report"
	"github.com/runlab-dev/runlab/internal/supervisor"
)

// Machine runs one session. Created on the first submission for a
// conversation, it owns the session's artifact, child process, and
// transcript, and releases all of them exactly once on the way to Finished.
type Machine struct {
	id     string
	deps   Deps
	events chan event
	done   chan struct{}
	onDone func(id string)

	ctx       context.Context
	cancelCtx context.CancelFunc

	mu         sync.Mutex
	state      State
	transcript []report.Entry

	// Owned by the run goroutine.
	source       string
	inputs       []string
	artifact     *builder.Artifact
	child        *supervisor.Child
	pumpGen      int
	pumpStop     chan struct{}
	ledger       *eventlog.Log
	createdAt    time.Time
	lastActivity time.Time
}

// NewMachine creates a session machine and starts its event loop. onDone is
// invoked (once) after the session has released its resources.
func NewMachine(id string, deps Deps, onDone func(id string)) *Machine {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Machine{
		id:        id,
		deps:      deps,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		onDone:    onDone,
		ctx:       ctx,
		cancelCtx: cancel,
		state:     StateIdle,
		createdAt: time.Now().UTC(),
	}

	if deps.LedgerDir != "" {
		ledger, err := eventlog.Open(filepath.Join(deps.LedgerDir, id+".ndjson"))
		if err != nil {
			deps.Logger.Warn("session ledger unavailable", "session_id", id, "error", err)
		} else {
			m.ledger = ledger
		}
	}

	go m.run()
	return m
}

// ID returns the session identifier.
func (m *Machine) ID() string {
	return m.id
}

// State returns the session's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transcript returns a copy of the transcript captured so far.
func (m *Machine) Transcript() []report.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]report.Entry(nil), m.transcript...)
}

// Done is closed once the session has reached Finished and released its
// resources.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Submit delivers a user chat message: source code when the session is Idle,
// program input afterwards.
func (m *Machine) Submit(text string) {
	m.post(event{kind: evMessage, text: text})
}

// Cancel requests cooperative cancellation from any state.
func (m *Machine) Cancel() {
	m.post(event{kind: evCancel})
}

// post delivers an event to the run goroutine, dropping it if the session
// has already finished.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// run is the session's single event loop. Every transition in the session
// happens on this goroutine.
func (m *Machine) run() {
	var sessionCap <-chan time.Time
	if m.deps.MaxSessionDuration > 0 {
		capTimer := time.NewTimer(m.deps.MaxSessionDuration)
		defer capTimer.Stop()
		sessionCap = capTimer.C
	}

	for {
		// While awaiting input no pump is watching the child, so the
		// loop itself watches for the child exiting underneath us.
		var exited <-chan struct{}
		if m.child != nil && m.State() == StateAwaitingInput {
			exited = m.child.Exited()
		}

		select {
		case ev := <-m.events:
			if m.handle(ev) {
				return
			}
		case <-exited:
			m.drainLines()
			if m.finishFromExit() {
				return
			}
		case <-sessionCap:
			m.deps.Logger.Warn("session exceeded time cap", "session_id", m.id)
			m.notify("Session time limit exceeded - stopping the program.")
			m.finish("session time limit exceeded", true)
			return
		}
	}
}

// CreatedAt returns the session's creation time.
func (m *Machine) CreatedAt() time.Time {
	return m.createdAt
}

// LastActivity returns the time of the last processed event.
func (m *Machine) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// handle applies one event. Returns true when the session has finished.
func (m *Machine) handle(ev event) bool {
	m.mu.Lock()
	m.lastActivity = time.Now().UTC()
	m.mu.Unlock()

	switch ev.kind {
	case evMessage:
		switch m.State() {
		case StateIdle:
			return m.handleSubmit(ev.text)
		case StateCompiling:
			// Cannot happen: compilation runs synchronously on this
			// goroutine. Kept for the state table's completeness.
			return false
		case StateRunning:
			m.notify("The program isn't waiting for input right now.")
			return false
		case StateAwaitingInput:
			return m.handleInput(ev.text)
		default:
			return false
		}

	case evCancel:
		return m.handleCancel()

	case evLine:
		if ev.gen != m.pumpGen {
			return false
		}
		return m.handleLine(ev.line)

	case evSilence:
		if ev.gen != m.pumpGen {
			return false
		}
		return m.handleSilence()

	case evExited:
		if ev.gen != m.pumpGen {
			return false
		}
		m.drainLines()
		return m.finishFromExit()
	}

	return false
}

// handleSubmit compiles the submitted source and starts the program.
func (m *Machine) handleSubmit(text string) bool {
	m.source = text
	m.setState(StateCompiling)

	artifact, err := m.deps.Builder.Build(m.ctx, m.id, text)
	if err != nil {
		var buildErr *builder.BuildError
		if errors.As(err, &buildErr) {
			diagnostics := buildErr.Diagnostics()
			m.appendEntry(report.KindError, diagnostics)
			m.notify(diagnostics)
			return m.finish("compilation failed", false)
		}
		m.deps.Logger.Error("build fault", "session_id", m.id, "error", err)
		m.notify("An unexpected error occurred. Please try again later.")
		return m.finish("internal fault", false)
	}
	m.artifact = artifact

	child, err := m.deps.Supervisor.Start(m.ctx, artifact)
	if err != nil {
		m.deps.Logger.Error("launch failed", "session_id", m.id, "error", err)
		m.notify("The program could not be started.")
		return m.finish("launch failed", false)
	}
	m.child = child

	m.setState(StateRunning)
	m.notify("Code compiled successfully! The program is now running. " +
		"Send input when prompted by the program. Send /cancel to stop.")
	m.startPump()
	return false
}

// handleInput forwards one user input line to the child and resumes the
// output pump.
func (m *Machine) handleInput(text string) bool {
	m.appendEntry(report.KindInput, text)
	m.inputs = append(m.inputs, text)

	if err := m.child.WriteLine(text); err != nil {
		if errors.Is(err, supervisor.ErrProcessNotRunning) {
			m.notify("The program is not running anymore.")
			m.drainLines()
			return m.finishFromExit()
		}
		m.deps.Logger.Error("stdin write failed", "session_id", m.id, "error", err)
		m.notify("An unexpected error occurred. Please try again later.")
		return m.finish("internal fault", true)
	}

	m.setState(StateRunning)
	m.startPump()
	return false
}

// handleLine records and relays one output line, and pauses for input when
// the line looks like a prompt.
func (m *Machine) handleLine(line supervisor.Line) bool {
	if strings.TrimSpace(line.Text) == "" {
		return false
	}

	if line.Stream == supervisor.StreamStderr {
		m.appendEntry(report.KindError, line.Text)
		m.notify("Error: " + line.Text)
		return false
	}

	m.appendEntry(report.KindOutput, line.Text)
	m.notify(line.Text)

	if m.State() == StateRunning && m.deps.Detector.IsPrompt(line.Text) {
		m.stopPump()
		m.setState(StateAwaitingInput)
	}
	return false
}

// handleSilence applies the degraded heuristic: a live child that has been
// quiet past the read timeout is treated as implicitly waiting for input.
func (m *Machine) handleSilence() bool {
	if m.State() != StateRunning {
		return false
	}
	if !m.child.Alive() {
		// Exit is imminent; the pump delivers it when the streams close.
		return false
	}

	m.stopPump()
	m.setState(StateAwaitingInput)
	m.notify("No output for a while - the program may be waiting for input. " +
		"Send a line to continue, or /cancel to stop.")
	return false
}

// handleCancel terminates the child and ends the session without a report.
func (m *Machine) handleCancel() bool {
	m.setState(StateCancelled)
	m.notify("Operation cancelled.")
	return m.finish("cancelled by user", false)
}

// finishFromExit ends the session after the child has exited on its own.
func (m *Machine) finishFromExit() bool {
	outcome := "completed"
	if err := m.child.ExitErr(); err != nil {
		outcome = "runtime failure"
		m.appendEntry(report.KindError, fmt.Sprintf("program exited with error: %v", err))
		m.notify(fmt.Sprintf("The program exited with an error: %v", err))
	}
	return m.finish(outcome, true)
}

// finish runs the session's single terminal path: stop the pump, terminate
// and reap the child, deliver the report when asked to, delete the on-disk
// artifact, and release the session. Reached exactly once per session.
func (m *Machine) finish(outcome string, deliverReport bool) bool {
	m.stopPump()

	if m.child != nil {
		// Abandon any in-flight output so termination cannot wedge
		// behind a full stream buffer.
		go func(ch *supervisor.Child) {
			for range ch.Lines() {
			}
		}(m.child)
		m.child.Terminate()
		m.child = nil
	}

	if deliverReport {
		m.deliverReport(outcome)
	}

	if m.artifact != nil {
		if err := m.artifact.Remove(); err != nil {
			m.deps.Logger.Error("artifact cleanup failed", "session_id", m.id, "error", err)
		}
		m.artifact = nil
	}

	m.record("finished", outcome)
	m.setState(StateFinished)

	if m.ledger != nil {
		m.ledger.Close()
	}

	m.cancelCtx()
	if m.onDone != nil {
		m.onDone(m.id)
	}
	close(m.done)

	m.deps.Logger.Info("session finished", "session_id", m.id, "outcome", outcome)
	return true
}

// deliverReport assembles, renders, and sends the session report. Rendering
// failures are reported to the user without internal detail.
func (m *Machine) deliverReport(outcome string) {
	doc := report.Assemble(m.id, m.source, m.Transcript(), outcome)

	data, err := m.deps.Renderer.Render(doc)
	if err != nil {
		m.deps.Logger.Error("report rendering failed", "session_id", m.id, "error", err)
		m.notify("Failed to generate the report document.")
		return
	}

	if err := m.deps.Notifier.SendDocument(m.id, m.deps.DocumentName, data); err != nil {
		m.deps.Logger.Error("report delivery failed", "session_id", m.id, "error", err)
		return
	}

	m.notify("Program execution completed! Here's your report with the results.")
}

// drainLines appends whatever output is still buffered from an exited child
// to the transcript.
func (m *Machine) drainLines() {
	if m.child == nil {
		return
	}
	for line := range m.child.Lines() {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		kind := report.KindOutput
		if line.Stream == supervisor.StreamStderr {
			kind = report.KindError
			m.notify("Error: " + line.Text)
		} else {
			m.notify(line.Text)
		}
		m.appendEntry(kind, line.Text)
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.record("state", string(s))
}

func (m *Machine) appendEntry(kind report.EntryKind, text string) {
	m.mu.Lock()
	m.transcript = append(m.transcript, report.Entry{Kind: kind, Text: text})
	m.mu.Unlock()
	m.record(string(kind), text)
}

func (m *Machine) notify(text string) {
	if err := m.deps.Notifier.SendText(m.id, text); err != nil {
		m.deps.Logger.Warn("outbound message failed", "session_id", m.id, "error", err)
	}
}

func (m *Machine) record(kind, text string) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.Append(eventlog.Record{SessionID: m.id, Kind: kind, Text: text}); err != nil {
		m.deps.Logger.Debug("ledger append failed", "session_id", m.id, "error", err)
	}
}
