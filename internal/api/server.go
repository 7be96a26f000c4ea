// Package api exposes round finalization over HTTP for operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"round-finalizer/internal/finalize"
	"round-finalizer/internal/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxUploadSize bounds uploaded distribution files.
const maxUploadSize = "4M"

type Server struct {
	e       *echo.Echo
	machine *finalize.Machine
	log     *logger.Logger
	now     func() time.Time
}

func NewServer(machine *finalize.Machine, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{
		e:       e,
		machine: machine,
		log:     log.Named("api"),
		now:     func() time.Time { return time.Now().UTC() },
	}

	e.Use(s.loggingMiddleware)
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", s.health)

	g := e.Group("/api/v1/rounds/:id")
	g.GET("/state", s.getState)
	g.GET("/distribution", s.getDistribution)
	g.POST("/tally", s.postTally)
	g.POST("/propose", s.postPropose)
	g.POST("/distribution", s.postDistribution, middleware.BodyLimit(maxUploadSize))
	g.POST("/finalize", s.postFinalize)
	g.POST("/ready-for-payout", s.postReadyForPayout)
	g.GET("/proofs/:project", s.getProof)
	return s
}

// Handler returns the router, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("http server stopped", "addr", addr, "error", err)
		}
	}()
	s.log.Infow("http server listening", "addr", addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Debugw("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"took", time.Since(start),
			"error", err,
		)
		return err
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
