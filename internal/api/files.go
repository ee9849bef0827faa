package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/fileops"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/pkg/protocol"
)

// maxFieldSize bounds non-file multipart fields such as current_path.
const maxFieldSize = 4 << 10

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tenant := auth.Tenant(r.Context())
	listing, err := s.files.ListOrRoot(r.Context(), tenant, r.URL.Query().Get("path"))
	if err != nil {
		s.sendFileError(w, r, err)
		return
	}
	if listing.Redirected {
		http.Redirect(w, r, rootTreeURL(r), http.StatusTemporaryRedirect)
		return
	}

	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(listing)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	s.sendJSON(w, http.StatusOK, listing)
}

// rootTreeURL is the root listing URL, keeping a query token so EventSource
// style clients stay authenticated across the redirect.
func rootTreeURL(r *http.Request) string {
	u := url.URL{Path: "/api/v1/tree"}
	if token := r.URL.Query().Get("token"); token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// ─── View / download ────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	tenant := auth.Tenant(r.Context())
	f, err := s.files.Open(r.Context(), tenant, r.URL.Query().Get("path"))
	if err != nil {
		s.sendFileError(w, r, err)
		return
	}
	defer f.Close()

	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	serveFile(w, r, f, disposition)
}

// serveFile streams f with range support.
func serveFile(w http.ResponseWriter, r *http.Request, f *fileops.File, disposition string) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": f.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, f.Name, f.ModTime, f.ReadSeekCloser)
	metrics.RecordDownload(f.Size)
}

// ─── Upload ─────────────────────────────────────────────────────────────────

// handleUpload accepts a multipart form with a current_path field followed
// by one or more file parts. Part filenames may contain "/" for folder
// uploads. Fields after the first file part are ignored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenant := auth.Tenant(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart form required")
		return
	}

	relDir, first, err := readUploadFields(mr)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	if first == nil {
		s.sendError(w, http.StatusBadRequest, "no file part")
		return
	}

	pending := first
	next := func() (string, io.Reader, error) {
		for {
			p := pending
			pending = nil
			if p == nil {
				if p, err = mr.NextPart(); err != nil {
					return "", nil, err
				}
			}
			if name := rawFileName(p); p.FormName() == "file" && name != "" {
				return name, p, nil
			}
		}
	}

	res, err := s.files.UploadAll(r.Context(), tenant, relDir, next)
	if err != nil {
		logging.WithContext(r.Context()).Warn("upload aborted",
			zap.String("tenant", tenant), zap.Int("stored", res.Succeeded), zap.Error(err))
		s.sendUploadError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// readUploadFields consumes parts up to the first non-empty file part and
// returns the current_path value and that part.
func readUploadFields(mr *multipart.Reader) (string, *multipart.Part, error) {
	var relDir string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return relDir, nil, nil
		}
		if err != nil {
			return "", nil, err
		}
		switch {
		case p.FormName() == "file" && rawFileName(p) != "":
			return relDir, p, nil
		case p.FormName() == "current_path":
			b, err := io.ReadAll(io.LimitReader(p, maxFieldSize))
			if err != nil {
				return "", nil, err
			}
			relDir = string(b)
		}
	}
}

// rawFileName returns the client's filename without the base-name reduction
// multipart.Part.FileName applies, so folder uploads keep their structure.
func rawFileName(p *multipart.Part) string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

func (s *Server) sendUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.sendError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size")
		return
	}
	s.sendError(w, http.StatusBadRequest, "malformed multipart body")
}

// ─── Folder and item operations ─────────────────────────────────────────────

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res := s.files.CreateFolder(r.Context(), auth.Tenant(r.Context()), req.Path, req.Name)
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res := s.files.Rename(r.Context(), auth.Tenant(r.Context()), req.Path, req.OldName, req.NewName)
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		s.sendError(w, http.StatusBadRequest, "paths required")
		return
	}
	res := s.files.Move(r.Context(), auth.Tenant(r.Context()), req.Destination, req.Paths)
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if strings.TrimSpace(p) == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	res := s.files.Delete(r.Context(), auth.Tenant(r.Context()), p)
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.BulkDeleteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		s.sendError(w, http.StatusBadRequest, "paths required")
		return
	}
	res := s.files.DeleteBatch(r.Context(), auth.Tenant(r.Context()), req.Paths)
	s.sendJSON(w, http.StatusOK, res)
}
