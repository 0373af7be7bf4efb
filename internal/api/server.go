// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/flowlite/sidecar/internal/catalog"
	"github.com/flowlite/sidecar/internal/config"
	"github.com/flowlite/sidecar/internal/logging"
	"github.com/flowlite/sidecar/internal/metrics"
	"github.com/flowlite/sidecar/internal/storage"
	"github.com/flowlite/sidecar/internal/transcode"
)

// PluginName is reported by the health endpoint.
const PluginName = "flowlite"

// Server is the HTTP server.
type Server struct {
	cache      *catalog.Cache
	transcoder *transcode.Transcoder
	config     *config.Config
}

// NewServer creates a new server.
func NewServer(cache *catalog.Cache, transcoder *transcode.Transcoder, cfg *config.Config) *Server {
	return &Server{
		cache:      cache,
		transcoder: transcoder,
		config:     cfg,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /flowlite/catalog", s.handleCatalog)
	mux.HandleFunc("GET /flowlite/image", s.handleImage)
	mux.HandleFunc("GET /flowlite/health", s.handleHealth)

	return metrics.Middleware(logging.Middleware(mux))
}

type catalogResponse struct {
	OK bool `json:"ok"`
	*catalog.Snapshot
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ─── Catalog ────────────────────────────────────────────────────────────────

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	refresh := queryBool(q.Get("refresh"), false)
	debug := queryBool(q.Get("debug"), false)

	snap, err := s.cache.Get(r.Context(), refresh, debug)
	if err != nil {
		if errors.Is(err, catalog.ErrUnavailable) {
			logging.Error("catalog unavailable", zap.Error(err))
			s.sendError(w, http.StatusServiceUnavailable, "catalog unavailable")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "catalog error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(catalogResponse{OK: true, Snapshot: snap})
}

// ─── Image ──────────────────────────────────────────────────────────────────

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filename := q.Get("filename")
	if filename == "" {
		metrics.RecordImageRequest("invalid")
		s.sendError(w, http.StatusBadRequest, "filename required")
		return
	}

	imgType := q.Get("type")
	if imgType == "" {
		imgType = storage.TypeOutput
	}

	quality := s.config.JPEGQuality
	if v, err := strconv.Atoi(q.Get("quality")); err == nil {
		quality = v
	}

	ref := transcode.Ref{
		Filename:  filename,
		Subfolder: q.Get("subfolder"),
		Type:      imgType,
	}
	opts := transcode.Options{
		Compress: queryBool(q.Get("compress"), true),
		Quality:  quality,
		Delete:   queryBool(q.Get("delete"), s.config.DeleteAfterSend),
	}

	res, err := s.transcoder.Fetch(r.Context(), ref, opts)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidReference):
			metrics.RecordImageRequest("invalid")
			s.sendError(w, http.StatusBadRequest, "invalid image reference")
		case errors.Is(err, storage.ErrNotFound):
			metrics.RecordImageRequest("not_found")
			s.sendError(w, http.StatusNotFound, "image not found")
		default:
			metrics.RecordImageRequest("error")
			logging.Error("image fetch failed", zap.String("filename", filename), zap.Error(err))
			s.sendError(w, http.StatusInternalServerError, "image fetch failed")
		}
		return
	}

	switch {
	case res.Converted:
		metrics.RecordImageRequest("compressed")
	case opts.Compress && res.ContentType == "image/png":
		// Compression was requested for a PNG but did not happen.
		metrics.RecordImageRequest("fallback")
	default:
		metrics.RecordImageRequest("passthrough")
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.OutputSize, 10))
	w.Header().Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(res.OutputSize, 10))
	if res.Deleted {
		w.Header().Set("X-Deleted", "1")
	} else {
		w.Header().Set("X-Deleted", "0")
	}

	n, err := w.Write(res.Bytes)
	if err != nil {
		logging.Warn("image transfer error", zap.String("filename", filename), zap.Error(err))
	}
	saved := int64(0)
	if res.Converted {
		saved = res.OriginalSize - res.OutputSize
	}
	metrics.RecordImageServed(int64(n), saved)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "plugin": PluginName})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{OK: false, Error: message})
}

// queryBool parses a boolean query parameter; 1/true/yes are true, an empty
// value means the default.
func queryBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
