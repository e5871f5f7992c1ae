package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"driftchat/pkg/codec"
	"driftchat/pkg/history"
	"driftchat/pkg/metrics"
	"driftchat/pkg/models"
	"driftchat/pkg/wsclient"
)

func testHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hist, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	h := New(hist, 100, 200)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		_ = hist.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAndJoin(t *testing.T, url, id, name string) *wsclient.Client {
	t.Helper()
	c := dial(t, url)
	if err := c.Join(id, name); err != nil {
		t.Fatalf("Join(%s): %v", id, err)
	}
	f := waitFrame(t, c, codec.FrameJoinSuccess, codec.FrameError)
	if f.Type != codec.FrameJoinSuccess {
		t.Fatalf("join %s: got %s (%s)", id, f.Type, f.Body)
	}
	return c
}

func dial(t *testing.T, url string) *wsclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := wsclient.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// waitFrame returns the first frame whose type matches one of want, skipping
// unrelated frames (presence broadcasts interleave with chat).
func waitFrame(t *testing.T, c *wsclient.Client, want ...string) codec.ServerFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed while waiting for %v", want)
			}
			for _, w := range want {
				if f.Type == w {
					return f
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestJoinAndDuplicateRejected(t *testing.T) {
	h, url := testHub(t)
	_ = dialAndJoin(t, url, "alice", "Alice")

	// second connection with the same ID gets an error frame and stays
	// unjoined; the socket remains usable
	dup := dial(t, url)
	if err := dup.Join("alice", "Imposter"); err != nil {
		t.Fatalf("duplicate Join write: %v", err)
	}
	f := waitFrame(t, dup, codec.FrameError, codec.FrameJoinSuccess)
	if f.Type != codec.FrameError {
		t.Fatalf("duplicate join accepted: %+v", f)
	}
	if got := h.Online(); len(got) != 1 || got[0].DisplayName != "Alice" {
		t.Fatalf("online after duplicate = %+v", got)
	}

	// the rejected socket may retry with a different ID
	if err := dup.Join("alice2", "Imposter"); err != nil {
		t.Fatalf("retry Join write: %v", err)
	}
	f = waitFrame(t, dup, codec.FrameJoinSuccess, codec.FrameError)
	if f.Type != codec.FrameJoinSuccess {
		t.Fatalf("retry join rejected: %+v", f)
	}
}

func TestChatBroadcast(t *testing.T) {
	_, url := testHub(t)
	alice := dialAndJoin(t, url, "alice", "Alice")
	bob := dialAndJoin(t, url, "bob", "Bob")

	if err := alice.SendChat("alice", "Alice", "hello all"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	for name, c := range map[string]*wsclient.Client{"alice": alice, "bob": bob} {
		f := waitFrame(t, c, codec.FrameChat)
		if f.UserID != "alice" || f.Body != "hello all" || f.Timestamp == "" {
			t.Fatalf("%s received %+v", name, f)
		}
	}
}

func TestPrivateChatDeliveryAndEcho(t *testing.T) {
	_, url := testHub(t)
	alice := dialAndJoin(t, url, "alice", "Alice")
	bob := dialAndJoin(t, url, "bob", "Bob")
	carol := dialAndJoin(t, url, "carol", "Carol")

	if err := alice.SendPrivate("alice", "Alice", "bob", "secret"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	for name, c := range map[string]*wsclient.Client{"alice": alice, "bob": bob} {
		f := waitFrame(t, c, codec.FramePrivateChat)
		if f.UserID != "alice" || f.TargetID != "bob" || f.Body != "secret" {
			t.Fatalf("%s received %+v", name, f)
		}
	}

	// carol must not see the private message; a ping flushes her queue
	if err := carol.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	f := waitFrame(t, carol, codec.FramePong, codec.FramePrivateChat)
	if f.Type == codec.FramePrivateChat {
		t.Fatalf("third party received private chat: %+v", f)
	}
}

func TestPrivateChatTargetOffline(t *testing.T) {
	_, url := testHub(t)
	alice := dialAndJoin(t, url, "alice", "Alice")
	if err := alice.SendPrivate("alice", "Alice", "nobody", "hello?"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	f := waitFrame(t, alice, codec.FrameError)
	if !strings.Contains(f.Body, "nobody") {
		t.Fatalf("offline error = %+v", f)
	}
}

func TestChatBeforeJoinRejected(t *testing.T) {
	_, url := testHub(t)
	c := dial(t, url)
	if err := c.SendChat("ghost", "Ghost", "boo"); err != nil {
		t.Fatalf("SendChat write: %v", err)
	}
	f := waitFrame(t, c, codec.FrameError)
	if f.Type != codec.FrameError {
		t.Fatalf("unjoined chat accepted: %+v", f)
	}
}

func TestPresenceBroadcasts(t *testing.T) {
	h, url := testHub(t)
	alice := dialAndJoin(t, url, "alice", "Alice")

	bob := dialAndJoin(t, url, "bob", "Bob")
	// alice's own join broadcast arrives first; skip to bob's
	joined := waitFrame(t, alice, codec.FrameUserJoined)
	for joined.UserID != "bob" {
		joined = waitFrame(t, alice, codec.FrameUserJoined)
	}
	if len(joined.OnlineUsers) != 2 {
		t.Fatalf("user_joined = %+v", joined)
	}

	bob.Close()
	left := waitFrame(t, alice, codec.FrameUserLeft)
	if left.UserID != "bob" || len(left.OnlineUsers) != 1 || left.OnlineUsers[0] != "alice" {
		t.Fatalf("user_left = %+v", left)
	}
	if got := h.Online(); len(got) != 1 {
		t.Fatalf("online after leave = %+v", got)
	}
}

func TestMalformedFrameReportedToSender(t *testing.T) {
	_, url := testHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f codec.ServerFrame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != codec.FrameError {
		t.Fatalf("malformed frame answered with %+v", f)
	}

	// the socket survives and still answers pings
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping write: %v", err)
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("pong read: %v", err)
	}
	if f.Type != codec.FramePong {
		t.Fatalf("expected pong, got %+v", f)
	}
}

func TestPingPong(t *testing.T) {
	_, url := testHub(t)
	c := dial(t, url)
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	waitFrame(t, c, codec.FramePong)
}

func TestCloseRestoresClientGauge(t *testing.T) {
	h, url := testHub(t)
	before := testutil.ToFloat64(metrics.ConnectedClients)

	_ = dialAndJoin(t, url, "alice", "Alice")
	_ = dialAndJoin(t, url, "bob", "Bob")
	if got := testutil.ToFloat64(metrics.ConnectedClients); got != before+2 {
		t.Fatalf("gauge after joins = %v, want %v", got, before+2)
	}

	h.Close()
	// the read pumps also fire their teardown path on socket close;
	// the gauge must settle at the pre-join value, not below it
	if got := testutil.ToFloat64(metrics.ConnectedClients); got != before {
		t.Fatalf("gauge after Close = %v, want %v", got, before)
	}
	time.Sleep(50 * time.Millisecond)
	if got := testutil.ToFloat64(metrics.ConnectedClients); got != before {
		t.Fatalf("gauge after pump teardown = %v, want %v", got, before)
	}
}

func TestDeliverPrivateOfflineSentinel(t *testing.T) {
	h, _ := testHub(t)
	m := models.Message{
		Kind:      models.KindPrivate,
		SenderID:  "alice",
		TargetID:  "ghost",
		Body:      "anyone there?",
		Timestamp: time.Now().UTC(),
	}
	err := h.deliverPrivate(nil, m)
	if !errors.Is(err, ErrTargetOffline) {
		t.Fatalf("deliverPrivate error = %v, want ErrTargetOffline", err)
	}
}

func TestRelayedMessagesRecorded(t *testing.T) {
	h, url := testHub(t)
	alice := dialAndJoin(t, url, "alice", "Alice")
	bob := dialAndJoin(t, url, "bob", "Bob")

	if err := alice.SendChat("alice", "Alice", "for the record"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	waitFrame(t, bob, codec.FrameChat)

	msgs, err := h.hist.List("public", 0)
	if err != nil {
		t.Fatalf("history List: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "for the record" {
		t.Fatalf("history = %+v", msgs)
	}
}
