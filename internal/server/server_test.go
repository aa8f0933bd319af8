package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPing(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":0", Health{})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "pong" {
		t.Fatalf("body=%q want=%q", rec.Body.String(), "pong")
	}
}

func TestHealthCounters(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":0", Health{
		StashEntries: func() int { return 3 },
		CacheEntries: func() int { return 7 },
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field=%v want=ok", body["status"])
	}
	if body["stash_entries"] != float64(3) {
		t.Fatalf("stash_entries=%v want=3", body["stash_entries"])
	}
	if body["cache_entries"] != float64(7) {
		t.Fatalf("cache_entries=%v want=7", body["cache_entries"])
	}
}
