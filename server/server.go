// Package server exposes the seller scrape over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/input"
	"github.com/MikeyMike1984/amazon-seller-by-asin/pipeline"
	"github.com/MikeyMike1984/amazon-seller-by-asin/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static/index.html
var static embed.FS

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// AttachmentName is the filename offered for the CSV download.
const AttachmentName = "amazon_sellers.csv"

// Server is the HTTP adapter for the seller scrape.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	metrics  *scraper.Metrics
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates a server listening on cfg.ListenAddr.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, metrics *scraper.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("POST /process-asins", s.handleProcess)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	if strings.TrimSpace(header.Filename) == "" {
		s.writeError(w, http.StatusBadRequest, "no file selected")
		return
	}

	asins, err := input.Read(file, header.Filename)
	if err != nil {
		if errors.Is(err, input.ErrUnsupportedFormat) {
			s.writeError(w, http.StatusBadRequest, "unsupported file format, upload .xlsx or .csv")
			return
		}
		slog.Warn("unreadable upload", slog.String("file", header.Filename), slog.Any("error", err))
		s.writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	if len(asins) == 0 {
		s.writeError(w, http.StatusBadRequest, "no ASINs found in file")
		return
	}

	run, err := pipeline.NewRun(max(s.cfg.CacheSize, len(asins)))
	if err != nil {
		slog.Error("new run", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer run.Close()

	result := s.pipeline.Scrape(r.Context(), run, asins)
	slog.Info("upload processed",
		slog.String("file", header.Filename),
		slog.Int("asins", len(asins)),
		slog.Int("rows", len(result.Records)),
		slog.Int("failed", len(result.FailedASINs)),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)

	var buf bytes.Buffer
	if err := pipeline.WriteTable(&buf, result.Records); err != nil {
		slog.Error("serialize table", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+AttachmentName)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("write csv response", slog.Any("error", err))
	}
}

// handleHome serves the upload form.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		slog.Error("read upload page", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(page); err != nil {
		slog.Debug("write upload page", slog.Any("error", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
