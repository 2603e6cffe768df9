// Package server exposes a read-only browse API over the mirror: dossier
// dictionaries, document metadata and full-text search.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/domain/document"
	"github.com/mc2/mc2/internal/domain/dossier"
)

type Server struct {
	echo      *echo.Echo
	site      string
	dossiers  dossier.Repository
	documents document.Repository
	log       zerolog.Logger
}

func New(site string, dossiers dossier.Repository, documents document.Repository, log zerolog.Logger) *Server {
	s := &Server{
		echo:      echo.New(),
		site:      site,
		dossiers:  dossiers,
		documents: documents,
		log:       log,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api")
	api.GET("/dossiers", s.listDossiers)
	api.GET("/dossiers/:id", s.getDossier)
	api.GET("/dossiers/:id/items", s.listItems)
	api.GET("/dossiers/:id/pages", s.listPages)
	api.GET("/dossiers/:id/documents/search", s.searchDocuments)
	api.GET("/dossiers/:id/documents/:nipro", s.getDocument)
}

func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("browse api listening")
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			evt := s.log.Info()
			if err != nil {
				evt = s.log.Error().Err(err)
			}
			evt.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return err
		}
	}
}
