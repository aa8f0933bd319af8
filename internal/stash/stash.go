// Package stash is the lookaside store for oversized button payloads. The
// platform's callback field has a hard byte ceiling, so anything bigger is
// stored here and referenced by a short opaque token.
package stash

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long an unredeemed token stays valid.
const DefaultTTL = 30 * time.Minute

type entry struct {
	owner     int64
	payload   string
	createdAt time.Time
}

// Stash maps opaque tokens to payloads. Redemption is single-use and
// owner-checked; a background sweep removes expired entries.
type Stash struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
	logger  *slog.Logger
}

func New(log *slog.Logger, ttl time.Duration) *Stash {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Stash{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
		logger:  log.With(slog.String("component", "stash")),
	}
}

// Put stores a payload for the owning user and returns its token.
func (s *Stash) Put(owner int64, payload string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.entries[token] = entry{owner: owner, payload: payload, createdAt: s.now()}
	s.mu.Unlock()
	return token
}

// Take redeems a token. Only the owning user may redeem, and redemption
// deletes the entry; an owner mismatch leaves it in place.
func (s *Stash) Take(token string, owner int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return "", false
	}
	if e.owner != owner {
		return "", false
	}
	if s.now().Sub(e.createdAt) > s.ttl {
		delete(s.entries, token)
		return "", false
	}
	delete(s.entries, token)
	return e.payload, true
}

// Sweep removes entries older than the TTL and returns the count removed.
// Wired to a cron schedule, independent of request handling.
func (s *Stash) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, e := range s.entries {
		if e.createdAt.Before(cutoff) {
			delete(s.entries, token)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired entries", slog.Int("removed", removed))
	}
	return removed
}

// Len returns the number of live entries.
func (s *Stash) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
