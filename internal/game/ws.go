package game

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"example.com/wepoker/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // devices join over the table's own network
}

var connIDs = shortid.MustNew(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))

// ClientConn is one device connection. Frames queued with Send are written
// in order by writeLoop.
type ClientConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClientConn(ws *websocket.Conn, buffer int) *ClientConn {
	id, err := connIDs.Generate()
	if err != nil {
		id = "conn"
	}
	return &ClientConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
	}
}

func (c *ClientConn) ID() string { return c.id }

// Send encodes msg and queues it without blocking.
func (c *ClientConn) Send(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting frames. writeLoop flushes what is queued and then
// closes the socket.
func (c *ClientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

func (c *ClientConn) writeLoop(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
