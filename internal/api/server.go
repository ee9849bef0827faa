// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/config"
	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/diskusage"
	"github.com/AlexanderSatryo135/myDrive/internal/events"
	"github.com/AlexanderSatryo135/myDrive/internal/fileops"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/sharing"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
	davpkg "github.com/AlexanderSatryo135/myDrive/internal/webdav"
	"github.com/AlexanderSatryo135/myDrive/pkg/protocol"
)

// Pool gzip writers to reduce allocations on listing responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	config      *config.Config
	db          *database.Store
	roots       *vfs.Roots
	files       *fileops.Service
	shareLinks  *sharing.Store
	auth        *auth.Auth
	broadcaster *events.Broadcaster
}

// NewServer creates a new server.
func NewServer(
	cfg *config.Config,
	db *database.Store,
	roots *vfs.Roots,
	files *fileops.Service,
	shareLinks *sharing.Store,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
) *Server {
	return &Server{
		config:      cfg,
		db:          db,
		roots:       roots,
		files:       files,
		shareLinks:  shareLinks,
		auth:        authHandler,
		broadcaster: broadcaster,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/register", s.auth.HandleRegister)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Public share link endpoint
	mux.HandleFunc("GET /s/{token}", s.handleShareRedeem)

	// WebDAV endpoint (has its own auth middleware)
	if s.config.WebDAVEnabled {
		davHandler := davpkg.NewHandler(s.roots, s.files, s.auth)
		mux.Handle(davpkg.Prefix+"/", davHandler)
		mux.Handle(davpkg.Prefix, davHandler)
	}

	// Protected endpoints
	protected := http.NewServeMux()

	// Browse
	protected.HandleFunc("GET /api/v1/tree", s.handleTree)
	protected.HandleFunc("GET /api/v1/content", s.handleContent)
	protected.HandleFunc("GET /api/v1/storage", s.handleStorage)

	// Mutations
	protected.HandleFunc("POST /api/v1/upload", s.handleUpload)
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	protected.HandleFunc("POST /api/v1/rename", s.handleRename)
	protected.HandleFunc("POST /api/v1/move", s.handleMove)
	protected.HandleFunc("DELETE /api/v1/tree", s.handleDelete)
	protected.HandleFunc("POST /api/v1/bulk/delete", s.handleBulkDelete)

	// Share links
	protected.HandleFunc("POST /api/v1/share", s.handleCreateShareLink)
	protected.HandleFunc("GET /api/v1/shares", s.handleListShareLinks)

	// Live updates
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)
	protected.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := protocol.HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		logging.WithContext(r.Context()).Warn("health check: database unreachable", zap.Error(err))
		resp = protocol.HealthResponse{Status: "degraded", Database: "unreachable"}
		status = http.StatusServiceUnavailable
	}
	s.sendJSON(w, status, resp)
}

// ─── Live updates ───────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.ServeSSE(w, r, auth.Tenant(r.Context()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.ServeWS(w, r, auth.Tenant(r.Context()))
}

// ─── Storage ────────────────────────────────────────────────────────────────

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	u := diskusage.Of(s.roots.Base())
	s.sendJSON(w, http.StatusOK, protocol.StorageResponse{
		TotalGB: diskusage.GB(u.TotalBytes),
		UsedGB:  diskusage.GB(u.UsedBytes),
		FreeGB:  diskusage.GB(u.FreeBytes),
		Percent: u.Percent,
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendFileError reports a file operation error with the status for its kind.
func (s *Server) sendFileError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logging.WithContext(r.Context()).Error("file operation failed", zap.Error(err))
		s.sendError(w, status, "storage failure")
		return
	}
	s.sendError(w, status, err.Error())
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vfs.ErrPathEscape), errors.Is(err, vfs.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, vfs.ErrInvalidName), errors.Is(err, vfs.ErrRootProtected):
		return http.StatusBadRequest
	case errors.Is(err, vfs.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
