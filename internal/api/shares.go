package api

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/sharing"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
	"github.com/AlexanderSatryo135/myDrive/pkg/protocol"
)

func (s *Server) handleCreateShareLink(w http.ResponseWriter, r *http.Request) {
	var req protocol.ShareRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	tenant := auth.Tenant(r.Context())

	// Only existing, confined targets can be shared. The link stores the
	// resolved path so redemption finds the same entry.
	target, err := s.files.OpenShared(r.Context(), tenant, req.Path)
	if err != nil {
		s.sendFileError(w, r, err)
		return
	}
	if target.File != nil {
		target.File.Close()
	}

	link, err := s.shareLinks.Create(r.Context(), tenant, target.Path)
	if err != nil {
		logging.WithContext(r.Context()).Error("failed to create share link",
			zap.String("tenant", tenant), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create share link")
		return
	}

	logging.WithContext(r.Context()).Info("share link created",
		zap.String("tenant", tenant),
		zap.String("path", link.Path))

	s.sendJSON(w, http.StatusCreated, s.shareResponse(r, link))
}

func (s *Server) handleListShareLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.shareLinks.ListByTenant(r.Context(), auth.Tenant(r.Context()))
	if err != nil {
		logging.WithContext(r.Context()).Error("failed to list share links", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list share links")
		return
	}

	resp := protocol.ShareListResponse{Shares: make([]protocol.ShareResponse, 0, len(links))}
	for i := range links {
		resp.Shares = append(resp.Shares, s.shareResponse(r, &links[i]))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleShareRedeem serves a share link without authentication. The target
// is re-resolved under its creator's root on every request; a file is sent
// as an attachment and a folder as a zip archive built on the fly.
func (s *Server) handleShareRedeem(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	link, err := s.shareLinks.Redeem(r.Context(), token)
	if err != nil {
		metrics.RecordShareRedemption(false)
		if errors.Is(err, vfs.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "share link not found")
			return
		}
		logging.WithContext(r.Context()).Error("share lookup failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "share lookup failed")
		return
	}

	target, err := s.files.OpenShared(r.Context(), link.CreatedBy, link.Path)
	if err != nil {
		metrics.RecordShareRedemption(false)
		s.sendError(w, http.StatusNotFound, "shared file not found")
		return
	}
	metrics.RecordShareRedemption(true)

	if !target.IsDir {
		defer target.File.Close()
		serveFile(w, r, target.File, "attachment")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": target.Name + ".zip"}))
	if err := target.WriteZip(w); err != nil {
		// Headers are gone; the client sees a truncated archive.
		logging.WithContext(r.Context()).Error("share archive failed",
			zap.String("token", token), zap.Error(err))
	}
}

// shareResponse renders link with its public URL. Without a configured
// public base URL the URL is derived from the request.
func (s *Server) shareResponse(r *http.Request, link *sharing.Link) protocol.ShareResponse {
	base := strings.TrimSuffix(s.config.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return protocol.ShareResponse{
		Token:     link.Token,
		Path:      link.Path,
		URL:       base + "/s/" + link.Token,
		CreatedAt: link.CreatedAt,
	}
}
