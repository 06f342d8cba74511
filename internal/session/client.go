package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cospace/internal/models"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second

	// sendQueueSize is the per-connection outbound buffer. A peer that
	// falls this far behind is disconnected rather than allowed to stall
	// the room.
	sendQueueSize = 256
)

var (
	ErrQueueFull    = errors.New("client send queue full")
	ErrClientClosed = errors.New("client closed")
)

// Client is one live connection to a room.
type Client struct {
	ID       uuid.UUID
	Username string
	JoinedAt time.Time

	conn *websocket.Conn
	send chan models.Envelope
	done chan struct{}

	mu        sync.Mutex
	hook      func(models.Envelope)
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, username string) *Client {
	return &Client{
		ID:       uuid.New(),
		Username: username,
		JoinedAt: time.Now(),
		conn:     conn,
		send:     make(chan models.Envelope, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// SetSendHook replaces the queue-backed sender (used in tests).
func (c *Client) SetSendHook(fn func(models.Envelope)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send enqueues an envelope without blocking. ErrQueueFull means the peer
// is too slow to keep; the caller treats that as an implicit disconnect.
func (c *Client) Send(env models.Envelope) error {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(env)
		return nil
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// WritePump drains the send queue to the connection. Run it in its own
// goroutine; it returns when the client is closed or the write fails.
func (c *Client) WritePump() {
	defer func() {
		if c.conn != nil {
			c.conn.Close()
		}
	}()

	for {
		select {
		case env := <-c.send:
			if c.conn == nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			}
			return
		}
	}
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) Info() models.PeerInfo {
	return models.PeerInfo{
		ConnectionID: c.ID.String(),
		Username:     c.Username,
		JoinedAt:     c.JoinedAt,
	}
}
