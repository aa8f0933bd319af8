package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/flowbridge/flowbridge/internal/bot"
	"github.com/flowbridge/flowbridge/internal/config"
	"github.com/flowbridge/flowbridge/internal/engine"
	"github.com/flowbridge/flowbridge/internal/logger"
	"github.com/flowbridge/flowbridge/internal/media"
	"github.com/flowbridge/flowbridge/internal/render"
	"github.com/flowbridge/flowbridge/internal/server"
	"github.com/flowbridge/flowbridge/internal/stash"
	"github.com/flowbridge/flowbridge/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBotAPI,
			provideSink,
			provideEngineClient,
			provideMediaCache,
			provideResolver,
			provideStash,
			provideCodec,
			render.NewTracker,
			render.NewUserQueue,
			provideStreamer,
			provideDispatcher,
			provideBot,
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startBot,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideBotAPI(cfg config.Config) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return api, nil
}

func provideSink(log *slog.Logger, api *tgbotapi.BotAPI) *bot.Sink {
	return bot.NewSink(log, api)
}

func provideEngineClient(log *slog.Logger, cfg config.Config) *engine.Client {
	timeout := time.Duration(cfg.Engine.TimeoutSeconds) * time.Second
	return engine.NewClient(log, cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.VersionID, timeout)
}

func provideMediaCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *media.Cache {
	cache := media.NewCache(log, cfg.Media.CachePath, cfg.Media.MaxEntries,
		time.Duration(cfg.Media.SaveDebounceMs)*time.Millisecond)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return cache.Flush() }})
	return cache
}

func provideResolver(log *slog.Logger, cfg config.Config, cache *media.Cache, sink *bot.Sink) *media.Resolver {
	rcfg := media.DefaultResolverConfig()
	rcfg.AllowDirectURL = cfg.Media.AllowDirectURL
	if cfg.Media.MaxDownloadBytes > 0 {
		rcfg.MaxDownloadBytes = cfg.Media.MaxDownloadBytes
	}
	return media.NewResolver(log, rcfg, cache, sink, &http.Client{Timeout: 30 * time.Second})
}

func provideStash(log *slog.Logger, cfg config.Config) *stash.Stash {
	return stash.New(log, time.Duration(cfg.Stash.TTLMinutes)*time.Minute)
}

func provideCodec(s *stash.Stash) *bot.Codec {
	return bot.NewCodec(s)
}

func provideStreamer(log *slog.Logger, cfg config.Config, sink *bot.Sink, resolver *media.Resolver, tracker *render.Tracker, queue *render.UserQueue) *render.Streamer {
	scfg := render.DefaultStreamerConfig()
	if cfg.Render.MinEditIntervalMs > 0 {
		scfg.MinEditInterval = time.Duration(cfg.Render.MinEditIntervalMs) * time.Millisecond
	}
	if cfg.Render.DebounceMs > 0 {
		scfg.DebounceDelay = time.Duration(cfg.Render.DebounceMs) * time.Millisecond
	}
	if cfg.Render.MinFirstRunes > 0 {
		scfg.MinFirstRunes = cfg.Render.MinFirstRunes
	}
	if cfg.Render.LongFirstRunes > 0 {
		scfg.LongFirstRunes = cfg.Render.LongFirstRunes
	}
	return render.NewStreamer(log, scfg, sink, resolver, tracker, queue.Do)
}

func provideDispatcher(log *slog.Logger, sink *bot.Sink, resolver *media.Resolver, streamer *render.Streamer, tracker *render.Tracker, codec *bot.Codec) *render.Dispatcher {
	return render.NewDispatcher(log, render.DefaultDispatcherConfig(), sink, resolver, streamer, tracker, codec)
}

func provideBot(log *slog.Logger, cfg config.Config, api *tgbotapi.BotAPI, sink *bot.Sink, client *engine.Client, queue *render.UserQueue, streamer *render.Streamer, dispatcher *render.Dispatcher, codec *bot.Codec) *bot.Bot {
	botCfg := bot.Config{
		Streaming:   cfg.Engine.Streaming,
		PollTimeout: cfg.Telegram.PollTimeout,
	}
	return bot.New(log, botCfg, api, sink, client, queue, streamer, dispatcher, codec, nil)
}

func provideServer(log *slog.Logger, cfg config.Config, st *stash.Stash, cache *media.Cache) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, server.Health{
		StashEntries: st.Len,
		CacheEntries: cache.Len,
	})
}

// startSweeper runs the periodic maintenance: expired stash entries and idle
// per-user streaming state.
func startSweeper(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, st *stash.Stash, streamer *render.Streamer) error {
	idleTTL := time.Duration(cfg.Render.IdleTTLMinutes) * time.Minute
	c := cron.New()
	_, err := c.AddFunc(cfg.Stash.SweepSpec, func() {
		if n := st.Sweep(); n > 0 {
			log.Debug("stash sweep", slog.Int("removed", n))
		}
		if idleTTL > 0 {
			if n := streamer.EvictIdle(idleTTL); n > 0 {
				log.Debug("idle state evicted", slog.Int("removed", n))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("sweep spec %q: %w", cfg.Stash.SweepSpec, err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { <-c.Stop().Done(); return nil },
	})
	return nil
}

func startBot(lc fx.Lifecycle, log *slog.Logger, b *bot.Bot, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("bot stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting flowbridge %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
