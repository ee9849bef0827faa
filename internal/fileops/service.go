// Package fileops implements the file browser operations on a tenant's tree:
// list, upload, create folder, rename, move, delete and open.
//
// Every operation takes the tenant explicitly and re-resolves its paths
// under the tenant root on each call. A request that changes the tree emits
// exactly one change notification, however many items it touched.
package fileops

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// Operation names, used in notifications, logs and metrics.
const (
	OpUpload       = "upload"
	OpCreateFolder = "create_folder"
	OpRename       = "rename"
	OpMove         = "move"
	OpDelete       = "delete"
)

// Notifier receives one change notification per mutating request. It must
// not block and has no way to fail the operation that triggered it.
type Notifier interface {
	NotifyChange(ctx context.Context, tenant, op string, paths []string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyChange(context.Context, string, string, []string) {}

// Service performs file operations confined to tenant roots.
type Service struct {
	roots    *vfs.Roots
	notifier Notifier
}

// New creates a Service. A nil notifier disables notifications.
func New(roots *vfs.Roots, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{roots: roots, notifier: notifier}
}

// Root returns the canonical root of tenant, creating it if needed.
func (s *Service) Root(tenant string) (string, error) {
	return s.roots.Root(tenant)
}

// NotifyChange forwards a notification for changes made outside this
// service, such as WebDAV requests.
func (s *Service) NotifyChange(ctx context.Context, tenant, op string, paths []string) {
	s.notifier.NotifyChange(ctx, tenant, op, paths)
}

// change collects the paths touched by one request and emits a single
// notification when the request is done.
type change struct {
	tenant string
	op     string
	paths  []string
}

func (c *change) touch(p ...string) {
	c.paths = append(c.paths, p...)
}

func (s *Service) commit(ctx context.Context, c *change) {
	if len(c.paths) == 0 {
		return
	}
	s.notifier.NotifyChange(ctx, c.tenant, c.op, c.paths)
}

// resolve is vfs.Resolve that also counts confinement violations.
func resolve(root, rel string) (string, error) {
	abs, err := vfs.Resolve(root, rel)
	if errors.Is(err, vfs.ErrPathEscape) {
		metrics.RecordPathEscape()
	}
	return abs, err
}

// entry is vfs.ResolveEntry that also counts confinement violations.
func entry(root, rel string) (string, error) {
	abs, err := vfs.ResolveEntry(root, rel)
	if errors.Is(err, vfs.ErrPathEscape) {
		metrics.RecordPathEscape()
	}
	return abs, err
}

// logItem logs the outcome of one item and records it in metrics.
func logItem(ctx context.Context, op, tenant string, r ItemResult) {
	metrics.RecordFileOp(op, r.OK)
	log := logging.WithContext(ctx)
	if r.OK {
		log.Debug("file operation",
			zap.String("op", op),
			zap.String("tenant", tenant),
			zap.String("path", r.Path),
			zap.String("target", r.Target))
		return
	}
	log.Warn("file operation failed",
		zap.String("op", op),
		zap.String("tenant", tenant),
		zap.String("path", r.Path),
		zap.String("code", r.Code),
		zap.Error(r.err))
}

// exists reports whether something (including a dangling symlink) is at abs.
func exists(abs string) bool {
	_, err := os.Lstat(abs)
	return err == nil
}
