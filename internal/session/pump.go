package session

import "time"

// startPump begins the session's single output pump: a goroutine that
// forwards child output lines to the event loop and reports silence past the
// read timeout. The generation counter is the in-flight pump token - events
// from any earlier pump carry a stale generation and are discarded, so two
// pumps can never drive the same child even across a fast stop/start cycle.
//
// Entering AwaitingInput always calls stopPump; re-entering Running always
// calls startPump.
func (m *Machine) startPump() {
	m.pumpGen++
	gen := m.pumpGen
	stop := make(chan struct{})
	m.pumpStop = stop

	child := m.child
	timeout := m.deps.SilenceTimeout

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case line, ok := <-child.Lines():
				if !ok {
					m.post(event{kind: evExited, gen: gen})
					return
				}
				m.post(event{kind: evLine, line: line, gen: gen})
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)

			case <-timer.C:
				// The machine decides whether the silence means
				// "waiting for input" or "still computing".
				m.post(event{kind: evSilence, gen: gen})
				timer.Reset(timeout)

			case <-stop:
				return
			}
		}
	}()
}

// stopPump signals the current pump to exit. Idempotent.
func (m *Machine) stopPump() {
	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
}
