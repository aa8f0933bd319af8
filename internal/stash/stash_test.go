package stash

import (
	"testing"
	"time"
)

func TestPutTakeRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	token := s.Put(1, `{"type":"text","payload":"hi"}`)
	if token == "" {
		t.Fatalf("empty token")
	}
	payload, ok := s.Take(token, 1)
	if !ok || payload != `{"type":"text","payload":"hi"}` {
		t.Fatalf("payload=%q ok=%v", payload, ok)
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	token := s.Put(1, "payload")
	if _, ok := s.Take(token, 1); !ok {
		t.Fatalf("first take failed")
	}
	if _, ok := s.Take(token, 1); ok {
		t.Fatalf("second take succeeded")
	}
}

func TestTakeChecksOwner(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	token := s.Put(1, "payload")
	if _, ok := s.Take(token, 2); ok {
		t.Fatalf("foreign user redeemed token")
	}
	// The mismatch must not consume the entry.
	if _, ok := s.Take(token, 1); !ok {
		t.Fatalf("owner locked out after foreign attempt")
	}
}

func TestTakeExpired(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	token := s.Put(1, "payload")
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := s.Take(token, 1); ok {
		t.Fatalf("expired token redeemed")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry not removed on take")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	s.Put(1, "old")
	s.now = func() time.Time { return base.Add(90 * time.Second) }
	fresh := s.Put(1, "fresh")

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("removed=%d want=1", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want=1", s.Len())
	}
	if payload, ok := s.Take(fresh, 1); !ok || payload != "fresh" {
		t.Fatalf("fresh entry lost: %q %v", payload, ok)
	}
}

func TestUnknownToken(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Minute)
	if _, ok := s.Take("no-such-token", 1); ok {
		t.Fatalf("unknown token redeemed")
	}
}
