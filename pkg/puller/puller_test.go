package puller

import (
	"context"
	"sync"
	"testing"
	"time"

	"driftchat/pkg/models"
	"driftchat/pkg/storage"
)

// collector accumulates delivered batches for assertions.
type collector struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (c *collector) deliver(batch []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, batch...)
}

func (c *collector) all() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func testClients(t *testing.T) (*Client, *Client, *collector) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	alice := New(store, Options{UserID: "alice", Username: "Alice"}, nil)
	var got collector
	bob := New(store, Options{UserID: "bob", Username: "Bob"}, got.deliver)
	return alice, bob, &got
}

func TestPublicAndPrivateDelivery(t *testing.T) {
	alice, bob, got := testClients(t)

	if err := alice.SendPublic("hi"); err != nil {
		t.Fatalf("SendPublic: %v", err)
	}
	time.Sleep(time.Millisecond) // distinct timestamps keep the order stable
	if err := alice.SendPrivate("bob", "secret"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	bob.SyncOnce()
	msgs := got.all()
	if len(msgs) != 2 {
		t.Fatalf("delivered %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Body != "hi" || msgs[0].Kind != models.KindPublic {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Body != "secret" || msgs[1].Kind != models.KindPrivate || msgs[1].TargetID != "bob" {
		t.Fatalf("second message = %+v", msgs[1])
	}
}

func TestSyncOnceIdempotent(t *testing.T) {
	alice, bob, got := testClients(t)
	if err := alice.SendPublic("once"); err != nil {
		t.Fatalf("SendPublic: %v", err)
	}
	bob.SyncOnce()
	if n := len(got.all()); n != 1 {
		t.Fatalf("first sync delivered %d, want 1", n)
	}
	bob.SyncOnce()
	bob.SyncOnce()
	if n := len(got.all()); n != 1 {
		t.Fatalf("repeat syncs redelivered: total %d", n)
	}
}

func TestOwnMessagesDeliveredBack(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var got collector
	alice := New(store, Options{UserID: "alice", Username: "Alice"}, got.deliver)
	if err := alice.SendPublic("echo"); err != nil {
		t.Fatalf("SendPublic: %v", err)
	}
	// the sender's own poll sees the message too, exactly once
	alice.SyncOnce()
	alice.SyncOnce()
	msgs := got.all()
	if len(msgs) != 1 || msgs[0].Body != "echo" {
		t.Fatalf("delivered = %+v", msgs)
	}
}

func TestPrivateNotVisibleToThirdParty(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	alice := New(store, Options{UserID: "alice", Username: "Alice"}, nil)
	var got collector
	carol := New(store, Options{UserID: "carol", Username: "Carol"}, got.deliver)

	if err := alice.SendPrivate("bob", "not for carol"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	carol.SyncOnce()
	if n := len(got.all()); n != 0 {
		t.Fatalf("third party received private message: %d", n)
	}
}

func TestStartHeartbeatAndStop(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	alice := New(store, Options{UserID: "alice", Username: "Alice", StopTimeout: 2 * time.Second}, nil)
	bob := New(store, Options{UserID: "bob", Username: "Bob", StopTimeout: 2 * time.Second}, nil)

	ctx := context.Background()
	alice.Start(ctx)
	bob.Start(ctx)

	// Start writes a heartbeat immediately, so both are visible at once
	users, err := store.ListOnline(time.Now().UTC(), models.DefaultPresenceTTL)
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(users) != 2 || users[0].ID != "alice" || users[1].ID != "bob" {
		t.Fatalf("online = %+v", users)
	}

	if !alice.Stop() {
		t.Fatal("alice.Stop timed out")
	}
	if !bob.Stop() {
		t.Fatal("bob.Stop timed out")
	}
}

func TestStopBeforeStart(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c := New(store, Options{UserID: "alice"}, nil)
	if !c.Stop() {
		t.Fatal("Stop before Start reported timeout")
	}
}

func TestOnlineSnapshot(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c := New(store, Options{UserID: "alice", Username: "Alice"}, nil)
	c.writeHeartbeat()
	c.refreshOnline()
	users := c.Online()
	if len(users) != 1 || users[0].ID != "alice" {
		t.Fatalf("online = %+v", users)
	}
	// the returned slice is a copy
	users[0].ID = "mutated"
	if c.Online()[0].ID != "alice" {
		t.Fatal("Online exposed internal slice")
	}
}
