package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"driftchat/pkg/logger"
	"driftchat/pkg/models"
)

// WriteHeartbeat upserts the heartbeat record for a user. Heartbeats are
// idempotent; there is no duplicate rejection on the pull transport.
func (s *Store) WriteHeartbeat(userID, username string, now time.Time) error {
	hb := models.Heartbeat{
		UserID:     userID,
		Username:   username,
		LastActive: now.UTC(),
		Status:     models.StatusOnline,
	}
	b, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	dir := filepath.Join(s.root, usersDir)
	tmp, err := os.CreateTemp(dir, ".hb-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, userID+heartbeatSuffix)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

// ListOnline returns every user whose heartbeat is younger than ttl at `now`,
// sorted by user ID. Malformed heartbeat files are skipped and logged.
func (s *Store) ListOnline(now time.Time, ttl time.Duration) ([]models.User, error) {
	dir := filepath.Join(s.root, usersDir)
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	var out []models.User
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), heartbeatSuffix) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			logger.Warn("heartbeat_read_failed", "name", f.Name(), "error", err)
			continue
		}
		var hb models.Heartbeat
		if err := json.Unmarshal(b, &hb); err != nil {
			logger.Warn("heartbeat_malformed", "name", f.Name(), "error", err)
			continue
		}
		if hb.Fresh(now, ttl) {
			out = append(out, models.User{ID: hb.UserID, DisplayName: hb.Username})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
