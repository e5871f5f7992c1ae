package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Message kinds carried in the `type` field of the wire and storage JSON.
const (
	KindPublic  = "public"
	KindPrivate = "private"
)

type Message struct {
	Kind       string `json:"type"`
	SenderID   string `json:"user_id"`
	SenderName string `json:"username"`
	// TargetID is set for private messages only.
	TargetID string `json:"target_id,omitempty"`
	Body     string `json:"message"`
	// Timestamp is ISO 8601 on the wire (RFC 3339 via encoding/json).
	Timestamp  time.Time `json:"timestamp"`
	Attachment *FileRef  `json:"attachment,omitempty"`
}

// FileRef points at an attachment stored outside the message envelope.
type FileRef struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Private reports whether the message is addressed to a single user.
func (m Message) Private() bool { return m.Kind == KindPrivate }

// Channel returns the channel the message belongs to: "public" for public
// messages, the canonical pair key for private ones.
func (m Message) Channel() string {
	if m.Private() {
		return PairKey(m.SenderID, m.TargetID)
	}
	return KindPublic
}

// PairKey returns the canonical key for a two-party private channel. The key
// is identical regardless of argument order.
func PairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, "_")
}

const msgPrefix = "msg_"

// MessageName builds the object name for a message:
// msg_<zero-padded unix nanos>_<sender>.json. Names are unique per
// (timestamp, sender) and sort lexicographically by time.
func MessageName(ts time.Time, senderID string) string {
	return fmt.Sprintf("%s%020d_%s.json", msgPrefix, ts.UTC().UnixNano(), senderID)
}

// ParseMessageName recovers the embedded timestamp and sender from an object
// name produced by MessageName. Foreign names are rejected.
func ParseMessageName(name string) (time.Time, string, error) {
	base := strings.TrimSuffix(name, ".json")
	if base == name || !strings.HasPrefix(base, msgPrefix) {
		return time.Time{}, "", fmt.Errorf("not a message name: %s", name)
	}
	rest := strings.TrimPrefix(base, msgPrefix)
	i := strings.Index(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return time.Time{}, "", fmt.Errorf("not a message name: %s", name)
	}
	ns, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad timestamp in message name %s: %w", name, err)
	}
	return time.Unix(0, ns).UTC(), rest[i+1:], nil
}
