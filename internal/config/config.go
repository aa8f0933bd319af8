package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultEngineBaseURL    = "https://general-runtime.voiceflow.com"
	DefaultEngineTimeoutSec = 60
	DefaultCachePath        = "data/media-cache.json"
	DefaultCacheMaxEntries  = 500
	DefaultCacheSaveMs      = 2000
	DefaultStashTTLMinutes  = 30
	DefaultStashSweepSpec   = "@every 1m"
	DefaultIdleTTLMinutes   = 60
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
	Engine   EngineConfig   `toml:"engine"`
	Render   RenderConfig   `toml:"render"`
	Media    MediaConfig    `toml:"media"`
	Stash    StashConfig    `toml:"stash"`
	Server   ServerConfig   `toml:"server"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TelegramConfig struct {
	Token       string `toml:"token" validate:"required"`
	PollTimeout int    `toml:"poll_timeout"`
}

type EngineConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	VersionID      string `toml:"version_id"`
	Streaming      bool   `toml:"streaming"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

type RenderConfig struct {
	MinEditIntervalMs int `toml:"min_edit_interval_ms" validate:"gte=0"`
	DebounceMs        int `toml:"debounce_ms" validate:"gte=0"`
	MinFirstRunes     int `toml:"min_first_runes" validate:"gte=0"`
	LongFirstRunes    int `toml:"long_first_runes" validate:"gte=0"`
	IdleTTLMinutes    int `toml:"idle_ttl_minutes" validate:"gte=0"`
}

type MediaConfig struct {
	CachePath        string `toml:"cache_path"`
	MaxEntries       int    `toml:"max_entries" validate:"gte=0"`
	SaveDebounceMs   int    `toml:"save_debounce_ms" validate:"gte=0"`
	AllowDirectURL   bool   `toml:"allow_direct_url"`
	MaxDownloadBytes int64  `toml:"max_download_bytes" validate:"gte=0"`
}

type StashConfig struct {
	TTLMinutes int    `toml:"ttl_minutes" validate:"gte=0"`
	SweepSpec  string `toml:"sweep_spec"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Load reads path, falling back to defaults when the file does not exist,
// and validates the result. TELEGRAM_TOKEN and ENGINE_API_KEY environment
// variables override their file counterparts so secrets can stay out of the
// config file.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			BaseURL:        DefaultEngineBaseURL,
			Streaming:      true,
			TimeoutSeconds: DefaultEngineTimeoutSec,
		},
		Render: RenderConfig{
			MinEditIntervalMs: 1200,
			DebounceMs:        500,
			MinFirstRunes:     4,
			LongFirstRunes:    60,
			IdleTTLMinutes:    DefaultIdleTTLMinutes,
		},
		Media: MediaConfig{
			CachePath:      DefaultCachePath,
			MaxEntries:     DefaultCacheMaxEntries,
			SaveDebounceMs: DefaultCacheSaveMs,
			AllowDirectURL: true,
		},
		Stash: StashConfig{
			TTLMinutes: DefaultStashTTLMinutes,
			SweepSpec:  DefaultStashSweepSpec,
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if key := os.Getenv("ENGINE_API_KEY"); key != "" {
		cfg.Engine.APIKey = key
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
