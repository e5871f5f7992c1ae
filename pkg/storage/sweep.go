package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driftchat/pkg/logger"
	"driftchat/pkg/models"
)

// Sweep deletes every message and heartbeat older than cutoff: public
// messages, private messages in every pair directory (removing the directory
// once empty), and stale heartbeat records. Deletion is best-effort; a failed
// entry is logged and counted but never aborts the rest of the sweep.
// Sweeping twice with the same cutoff deletes nothing the second time.
func (s *Store) Sweep(cutoff time.Time) (deleted int, err error) {
	var failures int

	n, f := s.sweepMessageDir(filepath.Join(s.root, publicDir), cutoff)
	deleted, failures = deleted+n, failures+f

	privRoot := filepath.Join(s.root, privateDir)
	pairs, rerr := os.ReadDir(privRoot)
	if rerr != nil {
		return deleted, fmt.Errorf("%w: %v", ErrStorageRead, rerr)
	}
	for _, p := range pairs {
		if !p.IsDir() {
			continue
		}
		dir := filepath.Join(privRoot, p.Name())
		n, f := s.sweepMessageDir(dir, cutoff)
		deleted, failures = deleted+n, failures+f
		// drop the pair directory once emptied
		if rest, rerr := os.ReadDir(dir); rerr == nil && len(rest) == 0 {
			if rmerr := os.Remove(dir); rmerr != nil {
				logger.Warn("sweep_rmdir_failed", "dir", dir, "error", rmerr)
			}
		}
	}

	n, f = s.sweepHeartbeats(cutoff)
	deleted, failures = deleted+n, failures+f

	if failures > 0 {
		logger.Warn("sweep_partial", "deleted", deleted, "failures", failures)
	}
	return deleted, nil
}

// sweepMessageDir removes message objects whose embedded timestamp is older
// than cutoff. The timestamp comes from the object name, so no reads are
// needed.
func (s *Store) sweepMessageDir(dir string, cutoff time.Time) (deleted, failures int) {
	files, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("sweep_scan_failed", "dir", dir, "error", err)
		return 0, 1
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ts, _, perr := models.ParseMessageName(f.Name())
		if perr != nil {
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		if rmerr := os.Remove(filepath.Join(dir, f.Name())); rmerr != nil {
			logger.Warn("sweep_delete_failed", "dir", dir, "name", f.Name(), "error", rmerr)
			failures++
			continue
		}
		deleted++
	}
	return deleted, failures
}

func (s *Store) sweepHeartbeats(cutoff time.Time) (deleted, failures int) {
	dir := filepath.Join(s.root, usersDir)
	files, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("sweep_scan_failed", "dir", dir, "error", err)
		return 0, 1
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), heartbeatSuffix) {
			continue
		}
		path := filepath.Join(dir, f.Name())
		b, rerr := os.ReadFile(path)
		if rerr != nil {
			logger.Warn("sweep_heartbeat_read_failed", "name", f.Name(), "error", rerr)
			failures++
			continue
		}
		var hb models.Heartbeat
		if json.Unmarshal(b, &hb) != nil || hb.LastActive.IsZero() {
			// unreadable record; leave it for operators rather than guessing
			continue
		}
		if !hb.LastActive.Before(cutoff) {
			continue
		}
		if rmerr := os.Remove(path); rmerr != nil {
			logger.Warn("sweep_delete_failed", "dir", dir, "name", f.Name(), "error", rmerr)
			failures++
			continue
		}
		deleted++
	}
	return deleted, failures
}
