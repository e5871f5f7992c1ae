// Package wsclient is a minimal client for the push transport. It dials the
// broker, joins under a user ID, and surfaces server frames on a channel.
package wsclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"driftchat/pkg/codec"
	"driftchat/pkg/logger"
)

const writeWait = 10 * time.Second

// Client is one push-transport session.
type Client struct {
	conn   *websocket.Conn
	events chan codec.ServerFrame

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the broker's /ws endpoint (ws:// or wss:// URL) and starts
// the read loop. The caller still needs to Join before chatting.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		events: make(chan codec.ServerFrame, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers server frames in arrival order. The channel is closed when
// the connection ends.
func (c *Client) Events() <-chan codec.ServerFrame { return c.events }

// Join requests registration under the given identity. The outcome arrives
// as a join_success or error frame on Events.
func (c *Client) Join(userID, username string) error {
	return c.write(codec.Join{UserID: userID, Username: username})
}

// SendChat sends a public message.
func (c *Client) SendChat(userID, username, body string) error {
	return c.write(codec.Chat{UserID: userID, Username: username, Body: body})
}

// SendPrivate sends a private message to target.
func (c *Client) SendPrivate(userID, username, targetID, body string) error {
	return c.write(codec.PrivateChat{UserID: userID, Username: username, TargetID: targetID, Body: body})
}

// Ping asks the broker for a pong.
func (c *Client) Ping() error { return c.write(codec.Ping{}) }

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) write(f codec.ClientFrame) error {
	b, err := codec.EncodeClientFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		c.Close()
	}()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Debug("wsclient_read_error", "error", err)
			}
			return
		}
		var f codec.ServerFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("wsclient_malformed_frame", "error", err)
			continue
		}
		select {
		case c.events <- f:
		case <-c.done:
			return
		}
	}
}
