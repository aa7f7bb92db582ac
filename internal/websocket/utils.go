package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 5 * time.Minute
)

// Conn serializes writes to a WebSocket connection so the reader loop and the
// session event pump can both send.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Wrap returns a Conn around an upgraded connection.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed payload.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// WriteEvent sends an event with its data.
func (c *Conn) WriteEvent(event Event, data interface{}) error {
	return c.WriteTyped(Message{Event: event, Data: data})
}

// WriteError sends an error event.
func (c *Conn) WriteError(code, msg string) error {
	return c.WriteEvent(EventError, ErrorData{Code: code, Message: msg})
}

// ReadJSON reads and decodes a message into v with a read deadline.
// Only one goroutine may read.
func (c *Conn) ReadJSON(v interface{}) error {
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	return c.ws.ReadJSON(v)
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
