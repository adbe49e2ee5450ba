package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrEngineDetached means no engine connection is attached, so windows
// cannot be opened or closed.
var ErrEngineDetached = errors.New("browsing engine not connected")

// client wraps a WebSocket connection with a write lock; the popup
// manager's timer goroutine and the read-loop goroutine both write.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn}
}

func (c *client) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) close() {
	c.conn.Close()
}

// Bridge implements popup.Host over the attached engine connection.
// OpenWindow instructs the engine to materialize a window in the
// opener's storage partition, so the login session's cookies are
// shared with the primary context.
type Bridge struct {
	mu      sync.Mutex
	current *client
}

// NewBridge creates an unattached bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

func (b *Bridge) attach(c *client) {
	b.mu.Lock()
	b.current = c
	b.mu.Unlock()
}

func (b *Bridge) detach(c *client) {
	b.mu.Lock()
	if b.current == c {
		b.current = nil
	}
	b.mu.Unlock()
}

// OpenWindow asks the engine to create the auxiliary window.
func (b *Bridge) OpenWindow(contextID, openerID string) error {
	c := b.client()
	if c == nil {
		return ErrEngineDetached
	}
	return c.send(map[string]interface{}{
		"type":       "open_window",
		"context_id": contextID,
		"opener_id":  openerID,
	})
}

// CloseWindow asks the engine to close a tracked window.
func (b *Bridge) CloseWindow(contextID string) error {
	c := b.client()
	if c == nil {
		return ErrEngineDetached
	}
	return c.send(map[string]interface{}{
		"type":       "close_window",
		"context_id": contextID,
	})
}

func (b *Bridge) client() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
