// Package history keeps the push broker's durable append-only record of
// relayed messages in a Pebble database, so chat history survives broker
// restarts and falls under the same retention policy as the pull store.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"driftchat/pkg/codec"
	"driftchat/pkg/logger"
	"driftchat/pkg/models"
)

// History is an opened message-history database. Create with Open, close with
// Close; safe for concurrent use.
type History struct {
	db *pebble.DB
	// seq reduces key collisions when multiple messages share the same
	// nanosecond timestamp.
	seq uint64
}

// Open opens (or creates) the history database at path.
func Open(path string) (*History, error) {
	logger.Info("opening_history_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("history_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Key format: chan:<channel>:msg:<unix_nano_padded>-<seq>. The padded
// timestamp keeps per-channel iteration in delivery order.
func msgKey(channel string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("chan:%s:msg:%020d-%06d", channel, ts, seq))
}

func metaKey(channel string) []byte {
	return []byte("chan:" + channel + ":meta")
}

type channelMeta struct {
	Channel   string `json:"channel"`
	CreatedTS int64  `json:"created_ts"`
}

// Append records one relayed message under its channel.
func (h *History) Append(m models.Message) error {
	if h.db == nil {
		return fmt.Errorf("history not opened")
	}
	channel := m.Channel()
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data, err := codec.Encode(m)
	if err != nil {
		return err
	}
	s := atomic.AddUint64(&h.seq, 1)
	key := msgKey(channel, ts.UTC().UnixNano(), s)
	if err := h.db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("history_append_failed", "channel", channel, "error", err)
		return err
	}
	// ensure channel metadata exists so Channels and the sweep can find it
	if _, closer, gerr := h.db.Get(metaKey(channel)); gerr == pebble.ErrNotFound {
		mb, _ := json.Marshal(channelMeta{Channel: channel, CreatedTS: ts.UTC().UnixNano()})
		if serr := h.db.Set(metaKey(channel), mb, pebble.Sync); serr != nil {
			logger.Warn("history_meta_write_failed", "channel", channel, "error", serr)
		}
	} else if gerr == nil {
		closer.Close()
	}
	return nil
}

// List returns up to limit messages for a channel in append order. A limit
// <= 0 returns everything.
func (h *History) List(channel string, limit int) ([]models.Message, error) {
	if h.db == nil {
		return nil, fmt.Errorf("history not opened")
	}
	prefix := []byte("chan:" + channel + ":msg:")
	iter, err := h.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		m, derr := codec.Decode(v)
		if derr != nil {
			logger.Warn("history_malformed_entry", "key", string(iter.Key()), "error", derr)
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Channels returns every channel with recorded history, sorted by key order.
func (h *History) Channels() ([]string, error) {
	if h.db == nil {
		return nil, fmt.Errorf("history not opened")
	}
	prefix := []byte("chan:")
	iter, err := h.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, "chan:") {
			break
		}
		if strings.HasSuffix(k, ":meta") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(k, "chan:"), ":meta"))
		}
	}
	return out, iter.Error()
}

// SweepBefore deletes every history entry older than cutoff and returns the
// number deleted. A failed delete is logged and skipped; the sweep continues.
func (h *History) SweepBefore(cutoff time.Time) (int, error) {
	if h.db == nil {
		return 0, fmt.Errorf("history not opened")
	}
	cut := cutoff.UTC().UnixNano()
	iter, err := h.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	prefix := []byte("chan:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, "chan:") {
			break
		}
		i := strings.LastIndex(k, ":msg:")
		if i < 0 {
			continue // channel meta
		}
		tsPart := k[i+len(":msg:"):]
		if j := strings.IndexByte(tsPart, '-'); j > 0 {
			tsPart = tsPart[:j]
		}
		ns, perr := strconv.ParseInt(tsPart, 10, 64)
		if perr != nil {
			continue
		}
		if ns >= cut {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if derr := h.db.Delete(key, pebble.Sync); derr != nil {
			logger.Warn("history_sweep_delete_failed", "key", k, "error", derr)
			continue
		}
		deleted++
	}
	return deleted, iter.Error()
}
