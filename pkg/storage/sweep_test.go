package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"driftchat/pkg/models"
)

func TestSweepDeletesOnlyExpired(t *testing.T) {
	s := testStore(t)
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Hour)

	if err := s.SendPublic(models.Message{Kind: models.KindPublic, SenderID: "alice", Body: "old", Timestamp: old}); err != nil {
		t.Fatalf("SendPublic old: %v", err)
	}
	if err := s.SendPublic(models.Message{Kind: models.KindPublic, SenderID: "alice", Body: "new", Timestamp: fresh}); err != nil {
		t.Fatalf("SendPublic new: %v", err)
	}
	if err := s.SendPrivate(models.Message{SenderID: "alice", TargetID: "bob", Body: "old", Timestamp: old}); err != nil {
		t.Fatalf("SendPrivate old: %v", err)
	}
	if err := s.WriteHeartbeat("ghost", "Ghost", old); err != nil {
		t.Fatalf("WriteHeartbeat old: %v", err)
	}
	if err := s.WriteHeartbeat("alice", "Alice", fresh); err != nil {
		t.Fatalf("WriteHeartbeat new: %v", err)
	}

	deleted, err := s.Sweep(cutoff)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// old public + old private + old heartbeat
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}

	// nothing older than cutoff remains
	got, err := s.ListNew("bob", nil)
	if err != nil {
		t.Fatalf("ListNew: %v", err)
	}
	for _, e := range got {
		if e.Message.Timestamp.Before(cutoff) {
			t.Fatalf("expired message survived: %+v", e)
		}
	}
	if len(got) != 1 || got[0].Message.Body != "new" {
		t.Fatalf("remaining = %+v", got)
	}

	// emptied pair directory is removed
	if _, err := os.Stat(filepath.Join(s.Root(), "private", "alice_bob")); !os.IsNotExist(err) {
		t.Fatalf("emptied pair dir not removed: %v", err)
	}

	// idempotence: a second sweep with the same cutoff deletes nothing
	again, err := s.Sweep(cutoff)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep deleted %d entries, want 0", again)
	}
}

func TestSweepKeepsPopulatedPairDirs(t *testing.T) {
	s := testStore(t)
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SendPrivate(models.Message{SenderID: "alice", TargetID: "bob", Body: "old", Timestamp: cutoff.Add(-time.Hour)}); err != nil {
		t.Fatalf("SendPrivate old: %v", err)
	}
	if err := s.SendPrivate(models.Message{SenderID: "bob", TargetID: "alice", Body: "new", Timestamp: cutoff.Add(time.Hour)}); err != nil {
		t.Fatalf("SendPrivate new: %v", err)
	}

	if _, err := s.Sweep(cutoff); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(s.Root(), "private", "alice_bob")); err != nil || !fi.IsDir() {
		t.Fatalf("populated pair dir removed: %v", err)
	}
	got, err := s.ListNew("alice", nil)
	if err != nil {
		t.Fatalf("ListNew: %v", err)
	}
	if len(got) != 1 || got[0].Message.Body != "new" {
		t.Fatalf("remaining = %+v", got)
	}
}
