package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"driftchat/pkg/codec"
	"driftchat/pkg/logger"
	"driftchat/pkg/metrics"
)

// Connection tuning.
const (
	writeWait      = 10 * time.Second // time allowed to write a frame to the peer
	pongWait       = 60 * time.Second // time allowed to read the next pong
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // max inbound frame size
	sendBufSize    = 256       // per-connection outbound buffer
)

// Client is one WebSocket session. Join state (joined/userID/username) is
// only touched from the connection's read goroutine.
type Client struct {
	connID string
	hub    *Hub
	conn   *websocket.Conn

	joined   bool
	userID   string
	username string

	egress    chan codec.ServerFrame
	closeOnce sync.Once
	leaveOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		connID: uuid.New().String(),
		hub:    h,
		conn:   conn,
		egress: make(chan codec.ServerFrame, sendBufSize),
		done:   make(chan struct{}),
	}
}

// send enqueues a frame for the write pump. A full egress buffer means a slow
// consumer; the frame is dropped and counted so one stuck socket never blocks
// a broadcast.
func (c *Client) send(f codec.ServerFrame) {
	select {
	case <-c.done:
	case c.egress <- f:
	default:
		metrics.BroadcastErrors.Inc()
		logger.Warn("egress_full_dropping_frame", "conn", c.connID, "user", c.userID, "frame", f.Type)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump reads frames until the socket errors or closes, then tears the
// connection down (deregister + user_left when joined).
func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "conn", c.connID, "error", err)
			}
			return
		}
		c.hub.handleFrame(c, raw)
	}
}

// writePump serializes outbound frames and keeps the connection alive with
// pings. Frames are encoded into pooled buffers to keep fan-out allocations
// flat.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.egress:
			buf, err := codec.EncodeFrame(f)
			if err != nil {
				logger.Error("frame_encode_failed", "conn", c.connID, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			werr := c.conn.WriteMessage(websocket.TextMessage, buf.B)
			bytebufferpool.Put(buf)
			if werr != nil {
				metrics.BroadcastErrors.Inc()
				logger.Debug("ws_write_error", "conn", c.connID, "error", werr)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
