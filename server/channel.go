package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/brandguard/errors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the close handshake frame
	closeWait = time.Second
)

// Channel is the duplex message transport a Session drives.
// Close must be safe to call more than once and must unblock a pending
// Receive.
type Channel interface {
	Receive() ([]byte, error)
	Send(v any) error
	Close() error
}

// wsChannel adapts a gorilla WebSocket connection to Channel.
// Gorilla allows one concurrent reader and one concurrent writer; Session
// reads from a single watcher goroutine and writes from the drive loop.
type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWSChannel wraps conn, limiting inbound messages to readLimit bytes
func NewWSChannel(conn *websocket.Conn, readLimit int64) Channel {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &wsChannel{conn: conn}
}

// Receive blocks for the next text or binary message. Any read failure
// means the peer can no longer be heard from and is reported as a disconnect.
func (c *wsChannel) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, errors.ErrChannelClosed
		}
		return nil, errors.Wrapf(errors.ErrClientDisconnected, "read: %v", err)
	}
	return data, nil
}

// Send writes v as one JSON text message
func (c *wsChannel) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return errors.ErrChannelClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		if errors.IsDisconnect(err) {
			return errors.Wrapf(errors.ErrClientDisconnected, "write: %v", err)
		}
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close sends a normal-closure frame and closes the connection once
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// Peer may already be gone
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
