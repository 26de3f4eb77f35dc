package stream

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// connection wraps one dialed websocket with a write mutex for serializing
// outbound frames from the sender and the keepalive goroutine.
type connection struct {
	conn         net.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newConnection(conn net.Conn, writeTimeout time.Duration) *connection {
	return &connection{conn: conn, writeTimeout: writeTimeout}
}

// WriteMessage sends a masked text frame.
func (c *connection) WriteMessage(data []byte) error {
	return c.write(ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *connection) WritePing() error {
	return c.write(ws.OpPing, nil)
}

// WriteClose sends a normal-closure close frame. Errors are ignored by callers
// since the socket is closed right after.
func (c *connection) WriteClose() error {
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	return c.write(ws.OpClose, body)
}

func (c *connection) write(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientMessage(c.conn, op, data)
}

// ReadMessage blocks until the next data frame. Control frames are answered
// inside wsutil; a close frame surfaces as an error.
func (c *connection) ReadMessage() ([]byte, ws.OpCode, error) {
	return wsutil.ReadServerData(c.conn)
}

// Close closes the underlying network connection.
func (c *connection) Close() error {
	return c.conn.Close()
}
