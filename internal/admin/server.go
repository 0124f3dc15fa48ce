// Package admin serves a producer's table handle, health and metrics over
// HTTP, and fetches handles on the reader side.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/heptiolabs/healthcheck"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// HandlePath is where the current handle is served.
const HandlePath = "/handle"

var (
	errNotPublished = errors.New("no table handle published")
	errWithdrawn    = errors.New("table handle withdrawn")
)

var logger = shm.NewLogger("admin", nil)

// Server is the admin HTTP surface of a producer. It answers 503 on
// /handle until Publish is called and 410 after Withdraw.
type Server struct {
	e      *echo.Echo
	health healthcheck.Handler
	handle atomic.Pointer[[]byte]
	gone   atomic.Bool
}

// New returns a server with /handle, /live, /ready and /metrics routes.
func New() *Server {
	s := &Server{
		e:      echo.New(),
		health: healthcheck.NewHandler(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())

	s.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	s.health.AddReadinessCheck("table-handle", s.published)

	s.e.GET(HandlePath, s.getHandle)
	s.e.GET("/live", echo.WrapHandler(s.health))
	s.e.GET("/ready", echo.WrapHandler(s.health))
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

func (s *Server) published() error {
	if s.gone.Load() {
		return errWithdrawn
	}
	if s.handle.Load() == nil {
		return errNotPublished
	}
	return nil
}

// Publish makes h available to readers. It must only be called once the
// table is fully built.
func (s *Server) Publish(h ohlcv.Handle) error {
	data, err := ohlcv.EncodeHandle(h)
	if err != nil {
		return err
	}
	s.handle.Store(&data)
	s.gone.Store(false)
	logger.Infof("published table handle %s", h.Values.Segment)
	return nil
}

// Withdraw stops serving the handle, ahead of releasing the table.
func (s *Server) Withdraw() {
	s.gone.Store(true)
}

// AddReadinessCheck adds a check to /ready.
func (s *Server) AddReadinessCheck(name string, check healthcheck.Check) {
	s.health.AddReadinessCheck(name, check)
}

func (s *Server) getHandle(c echo.Context) error {
	if s.gone.Load() {
		return echo.NewHTTPError(http.StatusGone, errWithdrawn.Error())
	}
	data := s.handle.Load()
	if data == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, errNotPublished.Error())
	}
	return c.JSONBlob(http.StatusOK, *data)
}

// Handler exposes the routes, for tests and for mounting elsewhere.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	logger.Infof("admin server listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
