package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/flowbridge/flowbridge/internal/render"
)

// Sender is the platform surface the resolver sends through. Each method
// returns the ref of the sent message and the platform-issued file handle for
// caching. The bot package implements it over the Telegram API.
type Sender interface {
	SendCached(ctx context.Context, chatID int64, kind Kind, fileID, caption string) (render.MessageRef, string, error)
	SendByURL(ctx context.Context, chatID int64, kind Kind, url, caption string) (render.MessageRef, string, error)
	SendBytes(ctx context.Context, chatID int64, kind Kind, name string, data []byte, caption string) (render.MessageRef, string, error)
	SendPlainText(ctx context.Context, chatID int64, text string) (render.MessageRef, error)
}

// ResolverConfig tunes the resolution chain.
type ResolverConfig struct {
	// AllowDirectURL permits handing the URL straight to the platform before
	// falling back to download-and-upload.
	AllowDirectURL bool
	// MaxDownloadBytes bounds the in-memory download fallback.
	MaxDownloadBytes int64
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		AllowDirectURL:   true,
		MaxDownloadBytes: 20 << 20,
	}
}

// Resolver maps a content URL to a native send. Strategies run in order until
// one succeeds; the plain-URL text fallback always succeeds from the
// pipeline's point of view, so media failures never surface to the user.
type Resolver struct {
	cfg    ResolverConfig
	cache  *Cache
	sender Sender
	client *http.Client
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, cfg ResolverConfig, cache *Cache, sender Sender, client *http.Client) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		cfg:    cfg,
		cache:  cache,
		sender: sender,
		client: client,
		logger: log.With(slog.String("component", "media")),
	}
}

// SendMedia implements render.MediaSender.
func (r *Resolver) SendMedia(ctx context.Context, chatID int64, rawURL, caption string) (render.MessageRef, error) {
	canonical := CanonicalURL(rawURL)
	key := strings.ToLower(canonical)

	if entry, ok := r.cache.Get(key); ok {
		ref, fileID, err := r.sender.SendCached(ctx, chatID, entry.Kind, entry.FileID, caption)
		if err == nil {
			if fileID != "" && fileID != entry.FileID {
				r.cache.Put(key, Entry{Kind: entry.Kind, FileID: fileID})
			}
			return ref, nil
		}
		r.logger.Warn("cached handle stale, evicting", slog.String("url", canonical), slog.Any("error", err))
		r.cache.Delete(key)
	}

	// Strategies send and download on the canonical, case-preserving URL;
	// only the cache key is folded.
	for _, strategy := range r.strategies(canonical) {
		ref, kind, fileID, err := strategy.send(ctx, chatID, caption)
		if err != nil {
			r.logger.Debug("media strategy failed", slog.String("strategy", strategy.name), slog.String("url", canonical), slog.Any("error", err))
			continue
		}
		if fileID != "" {
			r.cache.Put(key, Entry{Kind: kind, FileID: fileID})
		}
		return ref, nil
	}

	// Last resort: the raw URL as text. Never fails upward.
	return r.sender.SendPlainText(ctx, chatID, rawURL)
}

type strategy struct {
	name string
	send func(ctx context.Context, chatID int64, caption string) (render.MessageRef, Kind, string, error)
}

// strategies builds the ordered attempt table for one URL: direct-URL sends
// first when permitted, then download-and-upload, each over the
// format-appropriate kind ordering.
func (r *Resolver) strategies(canonical string) []strategy {
	kinds := kindOrder(canonical)
	var out []strategy
	if r.cfg.AllowDirectURL {
		for _, kind := range kinds {
			k := kind
			out = append(out, strategy{
				name: "url-" + string(k),
				send: func(ctx context.Context, chatID int64, caption string) (render.MessageRef, Kind, string, error) {
					ref, fileID, err := r.sender.SendByURL(ctx, chatID, k, canonical, caption)
					return ref, k, fileID, err
				},
			})
		}
	}
	for _, kind := range kinds {
		k := kind
		out = append(out, strategy{
			name: "buffer-" + string(k),
			send: func(ctx context.Context, chatID int64, caption string) (render.MessageRef, Kind, string, error) {
				name, data, err := r.download(ctx, canonical)
				if err != nil {
					return render.MessageRef{}, k, "", err
				}
				ref, fileID, err := r.sender.SendBytes(ctx, chatID, k, name, data, caption)
				return ref, k, fileID, err
			},
		})
	}
	return out
}

// kindOrder picks the method ordering by format: animated assets try
// animation→document→photo, everything else photo→document.
func kindOrder(canonical string) []Kind {
	if isAnimated(canonical) {
		return []Kind{KindAnimation, KindDocument, KindPhoto}
	}
	return []Kind{KindPhoto, KindDocument}
}

func isAnimated(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".gif", ".webp", ".mp4":
		return true
	}
	return false
}

func (r *Resolver) download(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", nil, fmt.Errorf("download media status: %d", resp.StatusCode)
	}
	limit := r.cfg.MaxDownloadBytes
	if limit <= 0 {
		limit = DefaultResolverConfig().MaxDownloadBytes
	}
	data, err := ReadAllWithLimit(resp.Body, limit)
	if err != nil {
		return "", nil, fmt.Errorf("read media body: %w", err)
	}
	name := path.Base(rawURL)
	if u, parseErr := url.Parse(rawURL); parseErr == nil && path.Base(u.Path) != "/" {
		name = path.Base(u.Path)
	}
	return name, data, nil
}
