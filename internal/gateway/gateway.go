// Package gateway is the chat transport boundary: a websocket endpoint where
// each connection is one conversation. It translates inbound frames into the
// two events the session core understands (message, cancel) and implements
// the outbound Notifier contract (text, document). The core never sees
// websocket framing.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/runlab-dev/runlab/internal/session"
)

// Inbound frame types.
const (
	FrameMessage = "message"
	FrameCancel  = "cancel"
)

// Outbound frame types.
const (
	FrameText     = "text"
	FrameDocument = "document"
)

// Frame is the wire format, both directions. Data is base64 in JSON.
type Frame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// conn is one connected conversation. Gorilla websockets allow a single
// concurrent writer, hence the write lock.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

// Gateway accepts chat connections and routes their messages into the
// session registry.
type Gateway struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn

	registry *session.Registry
}

// New creates a gateway. Bind must be called before serving.
func New(logger *slog.Logger) *Gateway {
	return &Gateway{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[string]*conn),
	}
}

// Bind attaches the session registry the gateway dispatches into. Split from
// New because the registry's Notifier is the gateway itself.
func (g *Gateway) Bind(registry *session.Registry) {
	g.registry = registry
}

// ServeHTTP upgrades the connection and runs its read loop until the client
// disconnects. Each connection gets a fresh session identifier; dropping the
// connection cancels the session so no child process outlives its user.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sessionID := uuid.New().String()
	c := &conn{ws: ws}

	g.mu.Lock()
	g.conns[sessionID] = c
	g.mu.Unlock()

	g.logger.Info("conversation connected", "session_id", sessionID, "remote", r.RemoteAddr)

	defer func() {
		g.mu.Lock()
		delete(g.conns, sessionID)
		g.mu.Unlock()

		g.registry.Cancel(sessionID)
		ws.Close()
		g.logger.Info("conversation closed", "session_id", sessionID)
	}()

	c.writeFrame(Frame{
		Type: FrameText,
		Text: "Hi! Send me your C code to compile (single-line or multi-line). " +
			"If your program needs input during execution, I'll ask for it interactively.",
	})

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameCancel:
			g.registry.Cancel(sessionID)
		case FrameMessage:
			if frame.Text == "/cancel" {
				g.registry.Cancel(sessionID)
				continue
			}
			g.registry.Dispatch(sessionID, frame.Text)
		default:
			g.logger.Debug("ignoring unknown frame", "session_id", sessionID, "type", frame.Type)
		}
	}
}

// SendText implements session.Notifier.
func (g *Gateway) SendText(sessionID, text string) error {
	c, err := g.lookup(sessionID)
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Type: FrameText, Text: text})
}

// SendDocument implements session.Notifier.
func (g *Gateway) SendDocument(sessionID, name string, data []byte) error {
	c, err := g.lookup(sessionID)
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Type: FrameDocument, Name: name, Data: data})
}

func (g *Gateway) lookup(sessionID string) (*conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.conns[sessionID]
	if !ok {
		return nil, fmt.Errorf("conversation %s is not connected", sessionID)
	}
	return c, nil
}
