// Package hub is the push transport: one bidirectional WebSocket session per
// user, with synchronous fan-out to connected sockets. Identity is exact —
// a user ID maps to at most one live connection at any instant.
package hub

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"driftchat/pkg/codec"
	"driftchat/pkg/history"
	"driftchat/pkg/logger"
	"driftchat/pkg/metrics"
	"driftchat/pkg/models"
	"driftchat/pkg/presence"
)

// ErrTargetOffline is returned when a private message names a user with no
// live connection. It is reported to the sender only.
var ErrTargetOffline = errors.New("target offline")

// Hub owns the connection table and the online roster. Both are created at
// server start and torn down at shutdown; the hub is passed explicitly to
// the HTTP layer rather than living in package globals.
type Hub struct {
	roster *presence.Roster
	hist   *history.History // optional; nil disables durable history
	limits *limiterPool

	mu      sync.RWMutex
	clients map[string]*Client // joined user ID -> client

	upgrader websocket.Upgrader
	closed   bool
}

// New creates a hub. hist may be nil; rps/burst <= 0 select the limiter
// defaults.
func New(hist *history.History, rps float64, burst int) *Hub {
	return &Hub{
		roster:  presence.NewRoster(),
		hist:    hist,
		limits:  newLimiterPool(rps, burst),
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the broker carries no browser credentials; origin checks are
			// left to a fronting proxy
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the connection's read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(h, conn)
	logger.Debug("ws_connected", "conn", c.connID, "remote", r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

// Online returns the exact connected user set.
func (h *Hub) Online() []models.User { return h.roster.Online() }

// handleFrame dispatches one inbound frame. It runs on the connection's read
// goroutine, so per-client join state needs no extra locking.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	if !h.limits.Allow(c.connID) {
		c.send(codec.ErrorFrame("rate limit exceeded"))
		return
	}
	f, err := codec.DecodeClientFrame(raw)
	if err != nil {
		logger.Warn("ws_malformed_frame", "conn", c.connID, "error", err)
		c.send(codec.ErrorFrame("malformed message"))
		return
	}
	switch f := f.(type) {
	case codec.Join:
		h.handleJoin(c, f)
	case codec.Chat:
		h.handleChat(c, f)
	case codec.PrivateChat:
		h.handlePrivateChat(c, f)
	case codec.Ping:
		c.send(codec.PongFrame())
	}
}

// handleJoin registers the connection under the requested user ID. A
// duplicate ID yields an error frame and the socket stays unjoined; the
// caller may retry with a different ID or disconnect.
func (h *Hub) handleJoin(c *Client, f codec.Join) {
	if f.UserID == "" {
		c.send(codec.ErrorFrame("join requires user_id"))
		return
	}
	if c.joined {
		c.send(codec.ErrorFrame("already joined"))
		return
	}
	if err := h.roster.Register(f.UserID, f.Username); err != nil {
		logger.Info("join_rejected", "user", f.UserID, "error", err)
		c.send(codec.ErrorFrame(fmt.Sprintf("user id %s is already connected", f.UserID)))
		return
	}
	c.joined = true
	c.userID = f.UserID
	c.username = f.Username

	h.mu.Lock()
	h.clients[f.UserID] = c
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	logger.Info("user_joined", "user", f.UserID, "name", f.Username)
	c.send(codec.JoinSuccessFrame(fmt.Sprintf("welcome, %s", f.Username)))
	h.broadcast(codec.UserJoinedFrame(
		models.User{ID: f.UserID, DisplayName: f.Username},
		h.roster.OnlineIDs(), time.Now().UTC(),
	))
}

func (h *Hub) handleChat(c *Client, f codec.Chat) {
	if !c.joined {
		c.send(codec.ErrorFrame("join before sending messages"))
		return
	}
	m := models.Message{
		Kind:       models.KindPublic,
		SenderID:   c.userID,
		SenderName: c.username,
		Body:       f.Body,
		Timestamp:  time.Now().UTC(),
	}
	h.record(m)
	metrics.MessagesRelayed.WithLabelValues(models.KindPublic).Inc()
	h.broadcast(codec.ChatFrame(m))
}

// handlePrivateChat delivers to exactly the target and echoes to the sender
// so the sending UI can confirm.
func (h *Hub) handlePrivateChat(c *Client, f codec.PrivateChat) {
	if !c.joined {
		c.send(codec.ErrorFrame("join before sending messages"))
		return
	}
	if f.TargetID == "" {
		c.send(codec.ErrorFrame("private message requires target_user_id"))
		return
	}
	m := models.Message{
		Kind:       models.KindPrivate,
		SenderID:   c.userID,
		SenderName: c.username,
		TargetID:   f.TargetID,
		Body:       f.Body,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.deliverPrivate(c, m); err != nil {
		if errors.Is(err, ErrTargetOffline) {
			logger.Info("private_target_offline", "from", c.userID, "to", f.TargetID)
			c.send(codec.ErrorFrame(fmt.Sprintf("user %s is not online", f.TargetID)))
		}
	}
}

// deliverPrivate sends a private message to exactly its target plus an echo
// to the sender's connection when given. Returns ErrTargetOffline when the
// target has no live connection; nothing is recorded in that case.
func (h *Hub) deliverPrivate(sender *Client, m models.Message) error {
	h.mu.RLock()
	target := h.clients[m.TargetID]
	h.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("%w: %s", ErrTargetOffline, m.TargetID)
	}
	h.record(m)
	metrics.MessagesRelayed.WithLabelValues(models.KindPrivate).Inc()
	frame := codec.PrivateChatFrame(m)
	target.send(frame)
	if sender != nil {
		sender.send(frame)
	}
	return nil
}

// record appends a relayed message to durable history, best-effort.
func (h *Hub) record(m models.Message) {
	if h.hist == nil {
		return
	}
	if err := h.hist.Append(m); err != nil {
		logger.Warn("history_append_failed", "channel", m.Channel(), "error", err)
	}
}

// broadcast fans a frame out to every joined client. Failures are isolated
// per socket: a full or dead connection is counted and skipped, never
// blocking delivery to the rest.
func (h *Hub) broadcast(f codec.ServerFrame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.send(f)
	}
}

// drop tears down a connection. Joined clients leave the roster and a
// user_left is broadcast with the updated online set.
func (h *Hub) drop(c *Client) {
	c.close()
	h.limits.forget(c.connID)
	if !c.joined {
		return
	}
	c.joined = false
	h.leave(c, true)
}

// leave removes a joined client from the connection table and the roster and
// decrements the client gauge. The leaveOnce guard keeps the accounting
// single-shot: drop fires from every read pump on socket close, including
// sockets Close already accounted for.
func (h *Hub) leave(c *Client, announce bool) {
	c.leaveOnce.Do(func() {
		h.mu.Lock()
		// guard against a newer connection having reclaimed the ID
		if cur, ok := h.clients[c.userID]; ok && cur == c {
			delete(h.clients, c.userID)
		}
		h.mu.Unlock()

		h.roster.Deregister(c.userID)
		metrics.ConnectedClients.Dec()
		logger.Info("user_left", "user", c.userID)
		if announce {
			h.broadcast(codec.UserLeftFrame(c.userID, h.roster.OnlineIDs(), time.Now().UTC()))
		}
	})
}

// Close disconnects every client. Departures are accounted but not announced;
// there is nobody left to hear a user_left during shutdown. The hub is not
// reusable afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.leave(c, false)
		c.close()
	}
}
