// Package media resolves content URLs to native Telegram sends, with a
// persisted URL→file_id cache so repeat images reuse the platform-issued
// handle instead of re-uploading.
package media

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind is the native send method a cached handle belongs to.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindDocument  Kind = "document"
	KindAnimation Kind = "animation"
)

// Entry is one cached mapping from a normalized URL to a platform handle.
type Entry struct {
	Kind   Kind   `json:"kind"`
	FileID string `json:"file_id"`
}

// Cache is a bounded URL→Entry map persisted as a single JSON object.
// Eviction is oldest-first by insertion order, not LRU. Writes are debounced:
// a burst of changes produces one rewrite after a quiet period.
type Cache struct {
	mu        sync.Mutex
	path      string
	max       int
	saveDelay time.Duration
	entries   map[string]Entry
	order     []string
	timer     *time.Timer
	logger    *slog.Logger
}

// NewCache loads the persisted map from path when present. A missing or
// unreadable file starts an empty cache; persistence failures never block
// sending.
func NewCache(log *slog.Logger, path string, max int, saveDelay time.Duration) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		path:      path,
		max:       max,
		saveDelay: saveDelay,
		entries:   make(map[string]Entry),
		logger:    log.With(slog.String("component", "media-cache")),
	}
	c.load()
	return c
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cache load failed", slog.String("path", c.path), slog.Any("error", err))
		}
		return
	}
	var stored map[string]Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.Warn("cache parse failed, starting empty", slog.String("path", c.path), slog.Any("error", err))
		return
	}
	c.entries = stored
	c.order = make([]string, 0, len(stored))
	for key := range stored {
		c.order = append(c.order, key)
	}
}

// Get returns the cached entry for a normalized URL.
func (c *Cache) Get(normURL string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[normURL]
	return e, ok
}

// Put stores an entry, evicting the oldest keys past the bound, and arms the
// debounced persist.
func (c *Cache) Put(normURL string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[normURL]; !exists {
		c.order = append(c.order, normURL)
	}
	c.entries[normURL] = e
	for c.max > 0 && len(c.entries) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.armSaveLocked()
}

// Delete evicts one entry, used when a cached handle turns out stale.
func (c *Cache) Delete(normURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[normURL]; !ok {
		return
	}
	delete(c.entries, normURL)
	for i, key := range c.order {
		if key == normURL {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.armSaveLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) armSaveLocked() {
	if c.path == "" {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.saveDelay, func() {
		if err := c.Flush(); err != nil {
			c.logger.Warn("cache persist failed", slog.Any("error", err))
		}
	})
}

// Flush rewrites the whole JSON object immediately. Called on shutdown and by
// the debounce timer.
func (c *Cache) Flush() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// CanonicalURL rewrites known share-link forms to their direct-download
// equivalents, preserving the original case. Drive file IDs and many object
// storage paths are case-sensitive, so this is the form used for sending and
// downloading.
func CanonicalURL(raw string) string {
	canonical := strings.TrimSpace(raw)
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	switch strings.ToLower(u.Host) {
	case "drive.google.com":
		// /file/d/<id>/view → direct download.
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 3 && strings.EqualFold(parts[0], "file") && strings.EqualFold(parts[1], "d") {
			return "https://drive.google.com/uc?export=download&id=" + parts[2]
		}
	case "www.dropbox.com", "dropbox.com":
		q := u.Query()
		if q.Get("dl") == "0" {
			q.Set("dl", "1")
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return canonical
}

// NormalizeURL case-folds the canonical form so one asset maps to one cache
// key. Use only for cache lookups; sends go through CanonicalURL.
func NormalizeURL(raw string) string {
	return strings.ToLower(CanonicalURL(raw))
}
