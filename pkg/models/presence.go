package models

import "time"

// User is a chat participant as seen by either transport.
type User struct {
	ID          string `json:"user_id"`
	DisplayName string `json:"username"`
}

// Heartbeat is the pull-transport presence record, upserted periodically by
// each online client and read by others to approximate presence.
type Heartbeat struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastActive time.Time `json:"last_active"`
	Status     string    `json:"status"`
}

const StatusOnline = "online"

// DefaultPresenceTTL is the window after which a heartbeat is no longer
// considered evidence of presence.
const DefaultPresenceTTL = 300 * time.Second

// Fresh reports whether the heartbeat still counts as presence at `now`.
func (h Heartbeat) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(h.LastActive) < ttl
}
