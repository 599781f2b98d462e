package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/services/monitor"
	"dronesync-desktop/internal/services/projector"
)

var log = logging.Get("statusapi")

// Provider exposes the active monitoring session, if any.
type Provider interface {
	Status() (monitor.Status, bool)
	Progress() ([]projector.Progress, bool)
	Runs(limit int) ([]models.ResyncRun, error)
}

// Server is a local read-only diagnostics endpoint.
type Server struct {
	echo     *echo.Echo
	provider Provider
	version  string

	mu      sync.Mutex
	running bool
}

// NewServer creates the server and registers its routes.
func NewServer(provider Provider, version string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
	}))

	s := &Server{echo: e, provider: provider, version: version}

	api := e.Group("/api")
	api.GET("/health", s.HandleHealth)
	api.GET("/progress", s.HandleProgress)
	api.GET("/runs", s.HandleRuns)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds addr and serves in the background. The listener is open when
// Start returns, so a following Shutdown always stops it.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.echo.Listener = ln
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Status API stopped: %v", err)
		}
	}()
	log.Infof("Status API listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	ln := s.echo.Listener
	s.mu.Unlock()
	if !running {
		return nil
	}

	err := s.echo.Shutdown(ctx)
	// Serve may not have taken ownership of the listener yet.
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

// HandleHealth reports the session's push health and polling mode.
func (s *Server) HandleHealth(c echo.Context) error {
	st, ok := s.provider.Status()
	body := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if !ok {
		body["session"] = nil
		return c.JSON(http.StatusOK, body)
	}
	body["session"] = st
	return c.JSON(http.StatusOK, body)
}

// HandleProgress returns the projected progress of every work unit.
func (s *Server) HandleProgress(c echo.Context) error {
	progress, ok := s.provider.Progress()
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no active monitoring session")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"units":   progress,
		"summary": projector.Summarize(progress),
	})
}

// HandleRuns lists recent resync runs. ?limit= defaults to 20.
func (s *Server) HandleRuns(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	runs, err := s.provider.Runs(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}
