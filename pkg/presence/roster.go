// Package presence tracks which user IDs are live on the push transport. The
// pull transport has no exact roster; its TTL-approximate presence is derived
// from heartbeat files in pkg/storage. The two models are intentionally kept
// distinct.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"driftchat/pkg/models"
)

// ErrDuplicateIdentity is returned when a user ID is already mapped to a live
// connection. The duplicate join is rejected, not silently merged.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// Roster is the exact online set of the push transport. Entries exist only
// while a connection is open.
type Roster struct {
	mu    sync.RWMutex
	users map[string]string // id -> display name
}

func NewRoster() *Roster {
	return &Roster{users: make(map[string]string)}
}

// Register maps a user ID to a live connection. A second register for a live
// ID fails with ErrDuplicateIdentity.
func (r *Roster) Register(id, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, id)
	}
	r.users[id] = displayName
	return nil
}

// Deregister removes the live mapping. Unknown IDs are a no-op.
func (r *Roster) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

// Live reports whether the ID is currently registered.
func (r *Roster) Live(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}

// Online returns the connected users sorted by ID.
func (r *Roster) Online() []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.User, 0, len(r.users))
	for id, name := range r.users {
		out = append(out, models.User{ID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnlineIDs returns the connected user IDs sorted ascending.
func (r *Roster) OnlineIDs() []string {
	users := r.Online()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
