// Package server exposes the bot's small operational HTTP surface: a ping
// endpoint and a health snapshot of the pipeline's stores.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowbridge/flowbridge/internal/version"
)

// Health reports live counters from the pipeline's shared stores.
type Health struct {
	StashEntries func() int
	CacheEntries func() int
}

type Server struct {
	echo  *echo.Echo
	addr  string
	start time.Time
}

func NewServer(log *slog.Logger, addr string, health Health) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{addr: addr, start: time.Now()}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))

	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	e.GET("/health", func(c echo.Context) error {
		body := map[string]any{
			"status":  "ok",
			"version": version.GetInfo(),
			"uptime":  time.Since(s.start).Round(time.Second).String(),
		}
		if health.StashEntries != nil {
			body["stash_entries"] = health.StashEntries()
		}
		if health.CacheEntries != nil {
			body["cache_entries"] = health.CacheEntries()
		}
		return c.JSON(http.StatusOK, body)
	})

	s.echo = e
	return s
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
