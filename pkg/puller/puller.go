// Package puller is the pull transport client: it periodically scans shared
// storage for new messages, filters them through a consumer-local dedup
// cache, and hands them to the caller in timestamp order. Presence is
// TTL-approximate, driven by heartbeat records; there is no explicit leave.
package puller

import (
	"context"
	"sync"
	"time"

	"driftchat/pkg/dedup"
	"driftchat/pkg/logger"
	"driftchat/pkg/metrics"
	"driftchat/pkg/models"
	"driftchat/pkg/storage"
)

// DeliverFunc receives each batch of newly observed messages, already
// deduplicated and sorted ascending by timestamp. It is called from the sync
// loop; implementations hand off to their own thread if they touch UI state.
type DeliverFunc func([]models.Message)

// Options tunes one pull client. Zero values select the observed defaults.
type Options struct {
	UserID   string
	Username string

	PollInterval      time.Duration // default 3s
	HeartbeatInterval time.Duration // default 30s
	PresenceTTL       time.Duration // default 300s
	StopTimeout       time.Duration // default 1s
	DedupCap          int
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = models.DefaultPresenceTTL
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = time.Second
	}
}

// Client runs two background loops (message sync and heartbeat) against a
// shared-storage channel store.
type Client struct {
	store   *storage.Store
	cache   *dedup.Cache
	opts    Options
	deliver DeliverFunc

	mu     sync.RWMutex
	online []models.User

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a pull client. deliver may be nil when the caller only sends.
func New(store *storage.Store, opts Options, deliver DeliverFunc) *Client {
	opts.applyDefaults()
	return &Client{
		store:   store,
		cache:   dedup.New(opts.DedupCap),
		opts:    opts,
		deliver: deliver,
	}
}

// Start launches the sync and heartbeat loops. It writes one heartbeat
// immediately so the client is visible to peers before the first tick.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	c.writeHeartbeat()
	c.refreshOnline()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.syncLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()
}

// Stop cancels both loops and waits for them to exit, bounded by StopTimeout
// so shutdown never blocks forever. It reports whether the loops finished in
// time.
func (c *Client) Stop() bool {
	if c.cancel == nil {
		return true
	}
	c.cancel()
	select {
	case <-c.done:
		return true
	case <-time.After(c.opts.StopTimeout):
		logger.Warn("puller_stop_timeout", "user", c.opts.UserID)
		return false
	}
}

// Online returns the most recently observed online set.
func (c *Client) Online() []models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.User, len(c.online))
	copy(out, c.online)
	return out
}

// SendPublic writes a public message under this client's identity.
func (c *Client) SendPublic(body string) error {
	err := c.store.SendPublic(models.Message{
		Kind:       models.KindPublic,
		SenderID:   c.opts.UserID,
		SenderName: c.opts.Username,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	})
	if err == nil {
		metrics.MessagesRelayed.WithLabelValues(models.KindPublic).Inc()
	}
	return err
}

// SendPrivate writes a private message to target under this client's
// identity. There is no online check; the target picks it up whenever it
// polls.
func (c *Client) SendPrivate(targetID, body string) error {
	err := c.store.SendPrivate(models.Message{
		Kind:       models.KindPrivate,
		SenderID:   c.opts.UserID,
		SenderName: c.opts.Username,
		TargetID:   targetID,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	})
	if err == nil {
		metrics.MessagesRelayed.WithLabelValues(models.KindPrivate).Inc()
	}
	return err
}

// SyncOnce performs one scan+filter+deliver pass. Exposed so callers (and
// tests) can force a poll without waiting for the ticker.
func (c *Client) SyncOnce() {
	entries, err := c.store.ListNew(c.opts.UserID, c.cache.Seen)
	if err != nil {
		// a transient scan failure must never terminate the loop
		metrics.PullSyncErrors.Inc()
		logger.Warn("pull_sync_failed", "user", c.opts.UserID, "error", err)
		return
	}
	msgs := c.cache.Filter(entries)
	if len(msgs) > 0 && c.deliver != nil {
		c.deliver(msgs)
	}
}

func (c *Client) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SyncOnce()
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeHeartbeat()
			c.refreshOnline()
		}
	}
}

func (c *Client) writeHeartbeat() {
	if err := c.store.WriteHeartbeat(c.opts.UserID, c.opts.Username, time.Now().UTC()); err != nil {
		metrics.PullSyncErrors.Inc()
		logger.Warn("heartbeat_write_failed", "user", c.opts.UserID, "error", err)
		return
	}
	metrics.HeartbeatsWritten.Inc()
}

func (c *Client) refreshOnline() {
	users, err := c.store.ListOnline(time.Now().UTC(), c.opts.PresenceTTL)
	if err != nil {
		metrics.PullSyncErrors.Inc()
		logger.Warn("online_refresh_failed", "user", c.opts.UserID, "error", err)
		return
	}
	c.mu.Lock()
	c.online = users
	c.mu.Unlock()
}
