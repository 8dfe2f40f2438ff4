// Package server exposes the pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vector-search/internal/config"
	"vector-search/internal/export"
	"vector-search/internal/models"
)

// Service is the part of rag.Pipeline the server needs
type Service interface {
	Ingest(ctx context.Context, data []byte, filename string) (models.IngestionReport, error)
	Search(ctx context.Context, text string, topK int) ([]models.Match, error)
	AddQuery(ctx context.Context, text string) (string, error)
	Stats(ctx context.Context) (models.Stats, error)
	Items(ctx context.Context) ([]models.Item, error)
}

type Server struct {
	echo    *echo.Echo
	service Service
	cfg     config.ServerConfig
	logger  zerolog.Logger
}

func New(service Service, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		cfg:     cfg,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/add", s.handleAdd)
	s.echo.POST("/search", s.handleSearch)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/export", s.handleExport)

	limit := fmt.Sprintf("%dM", s.cfg.MaxUploadMB)
	s.echo.POST("/documents", s.handleUpload, middleware.BodyLimit(limit))

	if s.cfg.StaticDir != "" {
		s.echo.Static("/static", s.cfg.StaticDir)
		s.echo.GET("/", func(c echo.Context) error {
			return c.File(filepath.Join(s.cfg.StaticDir, "index.html"))
		})
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Starting http server")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down http server")
	return s.echo.Shutdown(ctx)
}

type QueryRequest struct {
	Query string `json:"query"`
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type SearchResult struct {
	ID             string  `json:"id"`
	Score          float32 `json:"score"`
	Text           string  `json:"text"`
	SourceFilename string  `json:"source_filename,omitempty"`
	PageNumber     int     `json:"page_number,omitempty"`
	ChunkIndex     int     `json:"chunk_index,omitempty"`
	Query          string  `json:"query,omitempty"`
}

type ErrorResponse struct {
	Success bool                    `json:"success"`
	Detail  string                  `json:"detail"`
	Report  *models.IngestionReport `json:"report,omitempty"`
}

// ingestError carries the report of an ingestion that failed after chunking
type ingestError struct {
	err    error
	report models.IngestionReport
}

func (e *ingestError) Error() string { return e.err.Error() }

func (e *ingestError) Unwrap() error { return e.err }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdd(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.service.AddQuery(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"message": "Query added successfully",
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	topK := s.cfg.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	topK = min(topK, s.cfg.MaxTopK)

	matches, err := s.service.Search(c.Request().Context(), req.Query, topK)
	if err != nil {
		return err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			ID:             m.ID,
			Score:          m.Score,
			Text:           m.Metadata.TextPreview,
			SourceFilename: m.Metadata.SourceFilename,
			PageNumber:     m.Metadata.PageNumber,
			ChunkIndex:     m.Metadata.ChunkIndex,
			Query:          m.Metadata.Extra[models.KeyQueryText],
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "results": results})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.service.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}

	report, err := s.service.Ingest(c.Request().Context(), data, filepath.Base(fh.Filename))
	if err != nil {
		if report.ChunksTotal == 0 {
			return err
		}
		return &ingestError{err: err, report: report}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "report": report})
}

func (s *Server) handleExport(c echo.Context) error {
	items, err := s.service.Items(c.Request().Context())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, items); err != nil {
		return err
	}
	name := fmt.Sprintf("vectors_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// StatusFor maps pipeline errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyQuery), errors.Is(err, models.ErrInvalidTopK):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrExtraction), errors.Is(err, models.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := StatusFor(err)
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("Request failed")
	}

	resp := ErrorResponse{Success: false, Detail: detail}
	var ie *ingestError
	if errors.As(err, &ie) {
		resp.Report = &ie.report
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to write error response")
	}
}
