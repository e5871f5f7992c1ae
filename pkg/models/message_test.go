package models

import (
	"sort"
	"testing"
	"time"
)

func TestPairKeySymmetry(t *testing.T) {
	cases := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"zed", "aaa"},
		{"u1", "u1"},
	}
	for _, c := range cases {
		if PairKey(c[0], c[1]) != PairKey(c[1], c[0]) {
			t.Fatalf("pair key not symmetric for %q/%q", c[0], c[1])
		}
	}
	if got := PairKey("bob", "alice"); got != "alice_bob" {
		t.Fatalf("pair key = %q, want alice_bob", got)
	}
}

func TestMessageNameSortsByTime(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	names := []string{
		MessageName(t0.Add(2*time.Second), "bob"),
		MessageName(t0, "zed"),
		MessageName(t0.Add(time.Second), "alice"),
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if sorted[0] != names[1] || sorted[1] != names[2] || sorted[2] != names[0] {
		t.Fatalf("names do not sort by embedded timestamp: %v", sorted)
	}
}

func TestParseMessageName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	name := MessageName(ts, "alice")
	got, sender, err := ParseMessageName(name)
	if err != nil {
		t.Fatalf("ParseMessageName(%q): %v", name, err)
	}
	if !got.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got, ts)
	}
	if sender != "alice" {
		t.Fatalf("sender = %q, want alice", sender)
	}

	for _, bad := range []string{
		"msg_123_alice",       // no .json
		"note_123_alice.json", // foreign prefix
		".msg-tmp123.tmp",     // temp file
		"msg_abc_alice.json",  // non-numeric timestamp
		"msg_123.json",        // no sender
	} {
		if _, _, err := ParseMessageName(bad); err == nil {
			t.Fatalf("ParseMessageName(%q) accepted a foreign name", bad)
		}
	}
}

func TestChannel(t *testing.T) {
	pub := Message{Kind: KindPublic, SenderID: "alice"}
	if pub.Channel() != KindPublic {
		t.Fatalf("public channel = %q", pub.Channel())
	}
	priv := Message{Kind: KindPrivate, SenderID: "bob", TargetID: "alice"}
	if priv.Channel() != "alice_bob" {
		t.Fatalf("private channel = %q, want alice_bob", priv.Channel())
	}
}

func TestHeartbeatFresh(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hb := Heartbeat{UserID: "alice", LastActive: t0}
	if !hb.Fresh(t0.Add(time.Second), DefaultPresenceTTL) {
		t.Fatalf("heartbeat should be fresh 1s after write")
	}
	if hb.Fresh(t0.Add(301*time.Second), DefaultPresenceTTL) {
		t.Fatalf("heartbeat should be stale 301s after write")
	}
}
