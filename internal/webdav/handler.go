package webdav

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/fileops"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// Prefix is the URL path the WebDAV tree is mounted under.
const Prefix = "/webdav"

// OpCopy is the notification op for a WebDAV COPY.
const OpCopy = "copy"

// mutating maps the methods that change the tree to their notification op.
var mutating = map[string]string{
	http.MethodPut:    fileops.OpUpload,
	http.MethodDelete: fileops.OpDelete,
	"MKCOL":           fileops.OpCreateFolder,
	"MOVE":            fileops.OpMove,
	"COPY":            OpCopy,
}

// Handler serves WebDAV for the authenticated tenant. Each tenant gets its
// own lock system so locks never leak across tenants.
type Handler struct {
	fs       *TenantFS
	notifier fileops.Notifier

	mu       sync.Mutex
	handlers map[string]*webdav.Handler
}

// NewHandler creates a WebDAV HTTP handler with authentication. Successful
// mutating requests send one change notification to notifier, which may be
// nil.
func NewHandler(roots *vfs.Roots, notifier fileops.Notifier, authHandler *auth.Auth) http.Handler {
	h := &Handler{
		fs:       NewTenantFS(roots),
		notifier: notifier,
		handlers: make(map[string]*webdav.Handler),
	}
	return BasicAuthMiddleware(authHandler)(h)
}

func (h *Handler) tenantHandler(tenant string) *webdav.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	dav, ok := h.handlers[tenant]
	if !ok {
		dav = &webdav.Handler{
			Prefix:     Prefix,
			FileSystem: h.fs,
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					logging.WithContext(r.Context()).Debug("webdav request failed",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Error(err))
				}
			},
		}
		h.handlers[tenant] = dav
	}
	return dav
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := auth.Tenant(r.Context())
	if tenant == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	op, mutates := mutating[r.Method]
	if !mutates {
		h.tenantHandler(tenant).ServeHTTP(w, r)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.tenantHandler(tenant).ServeHTTP(rec, r)

	ok := rec.status >= 200 && rec.status < 300
	metrics.RecordFileOp(op, ok)
	if !ok || h.notifier == nil {
		return
	}
	paths := []string{relPath(r.URL.Path)}
	if dest := destination(r); dest != "" {
		paths = append(paths, dest)
	}
	h.notifier.NotifyChange(r.Context(), tenant, op, paths)
}

// relPath strips Prefix and returns the tenant-relative path.
func relPath(p string) string {
	return vfs.CleanRel(strings.TrimPrefix(p, Prefix))
}

// destination returns the tenant-relative Destination of a MOVE or COPY.
func destination(r *http.Request) string {
	d := r.Header.Get("Destination")
	if d == "" {
		return ""
	}
	u, err := url.Parse(d)
	if err != nil {
		return ""
	}
	return relPath(u.Path)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
