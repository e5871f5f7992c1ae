// Package storage turns a shared directory (or mounted object-storage bucket)
// into a durable append-only message channel store. Layout:
//
//	<root>/public/msg_<ts>_<sender>.json
//	<root>/private/<sorted_pair>/msg_<ts>_<sender>.json
//	<root>/users/<user_id>_heartbeat.json
//
// Messages are immutable once written; they are only ever removed by the
// retention sweep.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"driftchat/pkg/codec"
	"driftchat/pkg/logger"
	"driftchat/pkg/models"
)

var (
	// ErrStorageWrite is returned when a message or heartbeat cannot be
	// persisted. The core does not retry automatically.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrStorageRead is returned when a directory scan fails outright.
	// Individual unreadable entries are skipped and logged instead.
	ErrStorageRead = errors.New("storage read failed")
)

const (
	publicDir  = "public"
	privateDir = "private"
	usersDir   = "users"

	heartbeatSuffix = "_heartbeat.json"
)

// Store is a channel store rooted at a shared directory. It is safe for
// concurrent use; all mutating operations are single-file atomic writes.
type Store struct {
	root string
}

// Open ensures the storage layout exists under root and returns the store.
// Existing symlinked layout dirs are rejected.
func Open(root string) (*Store, error) {
	for _, d := range []string{publicDir, privateDir, usersDir} {
		p := filepath.Join(root, d)
		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return nil, fmt.Errorf("layout path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return nil, fmt.Errorf("layout path exists and is not a directory: %s", p)
			}
		}
		if err := os.MkdirAll(p, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create layout path %s: %w", p, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// Entry is a stored message together with the object name that identifies it
// in the dedup cache.
type Entry struct {
	Name    string
	Channel string
	Message models.Message
}

// SendPublic writes one message object under the public prefix.
func (s *Store) SendPublic(m models.Message) error {
	if m.Kind == "" {
		m.Kind = models.KindPublic
	}
	return s.write(filepath.Join(s.root, publicDir), m)
}

// SendPrivate writes one message object under the canonical pair prefix for
// sender and target. There is no online check: the message is retrievable
// whenever the target polls.
func (s *Store) SendPrivate(m models.Message) error {
	if m.TargetID == "" {
		return fmt.Errorf("%w: private message without target", ErrStorageWrite)
	}
	m.Kind = models.KindPrivate
	dir := filepath.Join(s.root, privateDir, models.PairKey(m.SenderID, m.TargetID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return s.write(dir, m)
}

// write encodes the message and lands it atomically (temp file + rename) so a
// concurrent scan never observes a partial object.
func (s *Store) write(dir string, m models.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	b, err := codec.Encode(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	name := models.MessageName(m.Timestamp, m.SenderID)
	tmp, err := os.CreateTemp(dir, ".msg-*.tmp")
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
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	logger.Debug("message_written", "dir", dir, "name", name)
	return nil
}

// ListNew scans the public prefix plus every private prefix containing
// consumerID and returns entries whose names are not already seen. One
// undecodable file is skipped and logged; it never wedges the scan. Entries
// are returned in name (and therefore timestamp) order per channel.
func (s *Store) ListNew(consumerID string, seen func(name string) bool) ([]Entry, error) {
	var out []Entry

	pub, err := s.scanDir(filepath.Join(s.root, publicDir), models.KindPublic, seen)
	if err != nil {
		return nil, err
	}
	out = append(out, pub...)

	privRoot := filepath.Join(s.root, privateDir)
	pairs, err := os.ReadDir(privRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	for _, p := range pairs {
		if !p.IsDir() || !pairInvolves(p.Name(), consumerID) {
			continue
		}
		ents, err := s.scanDir(filepath.Join(privRoot, p.Name()), p.Name(), seen)
		if err != nil {
			// one unreadable pair dir must not abort the poll
			logger.Warn("private_scan_failed", "pair", p.Name(), "error", err)
			continue
		}
		out = append(out, ents...)
	}
	return out, nil
}

func (s *Store) scanDir(dir, channel string, seen func(string) bool) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if _, _, err := models.ParseMessageName(name); err != nil {
			continue // temp files and foreign objects
		}
		if seen != nil && seen(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("message_read_failed", "dir", dir, "name", name, "error", err)
			continue
		}
		m, err := codec.Decode(b)
		if err != nil {
			logger.Warn("message_malformed", "dir", dir, "name", name, "error", err)
			continue
		}
		out = append(out, Entry{Name: name, Channel: channel, Message: m})
	}
	return out, nil
}

// pairInvolves reports whether a sorted-pair directory names the given user.
func pairInvolves(pair, userID string) bool {
	return pair == userID ||
		strings.HasPrefix(pair, userID+"_") ||
		strings.HasSuffix(pair, "_"+userID)
}
