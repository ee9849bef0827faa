package fileops

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// Listing is one directory of a tenant's tree, ready for display.
type Listing struct {
	Path   string     `json:"path"`
	Parent string     `json:"parent"`
	Nodes  []vfs.Node `json:"nodes"`

	// Redirected is set by ListOrRoot when the requested directory could not
	// be listed and the root was listed instead.
	Redirected bool `json:"-"`
}

// List returns the direct children of the tenant-relative directory rel.
// Paths escaping the root fail with ErrPathEscape; anything that cannot be
// enumerated fails with ErrUnavailable.
func (s *Service) List(ctx context.Context, tenant, rel string) (*Listing, error) {
	root, err := s.roots.Root(tenant)
	if err != nil {
		return nil, err
	}
	abs, err := resolve(root, rel)
	if err != nil {
		metrics.RecordListing(false)
		return nil, err
	}
	return s.list(root, abs)
}

// ListOrRoot lists rel, falling back to the tenant root when rel escapes the
// root or cannot be listed. Only a failure to list the root itself is
// returned as an error.
func (s *Service) ListOrRoot(ctx context.Context, tenant, rel string) (*Listing, error) {
	root, err := s.roots.Root(tenant)
	if err != nil {
		return nil, err
	}
	redirected := false
	abs, err := resolve(root, rel)
	if err != nil {
		abs, redirected = root, true
	}

	l, err := s.list(root, abs)
	if err != nil && abs != root && errors.Is(err, vfs.ErrUnavailable) {
		logging.WithContext(ctx).Debug("listing unavailable, falling back to root",
			zap.String("tenant", tenant), zap.String("path", rel), zap.Error(err))
		redirected = true
		l, err = s.list(root, root)
	}
	if err != nil {
		return nil, err
	}
	l.Redirected = redirected
	return l, nil
}

func (s *Service) list(root, abs string) (*Listing, error) {
	rel := vfs.Rel(root, abs)
	nodes, err := vfs.List(abs, rel)
	metrics.RecordListing(err == nil)
	if err != nil {
		return nil, err
	}
	return &Listing{Path: rel, Parent: vfs.ParentRel(rel), Nodes: nodes}, nil
}
