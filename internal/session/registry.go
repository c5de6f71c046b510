package session

import (
	"sync"
	"time"
)

// Registry owns every live session, keyed by the conversation that created
// it. Sessions are created on first dispatch and remove themselves once they
// finish. The registry itself is only a map with a lock; all per-session
// serialization happens inside each machine's event loop.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Machine
}

// NewRegistry creates a session registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Machine),
	}
}

// Dispatch routes a chat message to the conversation's session, creating the
// session if this is its first message.
func (r *Registry) Dispatch(sessionID, text string) {
	r.mu.Lock()
	machine, ok := r.sessions[sessionID]
	if !ok {
		machine = NewMachine(sessionID, r.deps, r.remove)
		r.sessions[sessionID] = machine
	}
	r.mu.Unlock()

	// Never post into a machine while holding the registry lock; a
	// finishing machine calls back into remove.
	machine.Submit(text)
}

// Cancel requests cancellation of the conversation's session, if any.
func (r *Registry) Cancel(sessionID string) {
	r.mu.Lock()
	machine, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if ok {
		machine.Cancel()
	}
}

// Get returns the live session for the conversation, if any.
func (r *Registry) Get(sessionID string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	machine, ok := r.sessions[sessionID]
	return machine, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown cancels every live session and waits up to timeout for them to
// release their resources.
func (r *Registry) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	machines := make([]*Machine, 0, len(r.sessions))
	for _, m := range r.sessions {
		machines = append(machines, m)
	}
	r.mu.Unlock()

	for _, m := range machines {
		m.Cancel()
	}

	deadline := time.After(timeout)
	for _, m := range machines {
		select {
		case <-m.Done():
		case <-deadline:
			return
		}
	}
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}
