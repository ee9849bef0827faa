// Package sharing stores public share tokens.
//
// A token maps to a tenant-relative path and its creator. The store never
// checks that the path exists or is still confined; that is re-validated by
// the caller on every redemption.
package sharing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// TokenBytes is the entropy of a share token before encoding.
const TokenBytes = 16

// maxCreateAttempts bounds retries when a fresh token collides with an existing one.
const maxCreateAttempts = 3

// ErrTokenCollision is returned when every attempt produced an existing token.
var ErrTokenCollision = errors.New("share token collision")

// Link is a persisted share token.
type Link struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages share links.
type Store struct {
	db       *sql.DB
	newToken func() (string, error)
}

// NewStore creates a new share link store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newToken: generateToken}
}

// Create issues a token for relPath owned by tenant. A colliding token is
// never overwritten: the insert fails on the primary key and a new token is
// drawn, up to maxCreateAttempts times.
func (s *Store) Create(ctx context.Context, tenant, relPath string) (*Link, error) {
	link := &Link{
		Path:      vfs.CleanRel(relPath),
		CreatedBy: tenant,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_share_link", time.Since(start)) }()

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO share_links (token, path, created_by, created_at) VALUES ($1, $2, $3, $4)`,
			token, link.Path, link.CreatedBy, link.CreatedAt)
		if err == nil {
			link.Token = token
			metrics.RecordShareLinkCreated()
			return link, nil
		}
		if !database.IsDuplicateKey(err) {
			return nil, fmt.Errorf("insert share link: %w", err)
		}
		logging.Warn("share token collision, retrying", zap.Int("attempt", attempt))
	}
	return nil, ErrTokenCollision
}

// Redeem returns the link for token. Unknown tokens yield an error wrapping
// vfs.ErrNotFound.
func (s *Store) Redeem(ctx context.Context, token string) (*Link, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("redeem_share_link", time.Since(start)) }()

	var link Link
	err := s.db.QueryRowContext(ctx,
		`SELECT token, path, created_by, created_at FROM share_links WHERE token = $1`, token).
		Scan(&link.Token, &link.Path, &link.CreatedBy, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &vfs.PathError{Op: "redeem", Path: "", Kind: vfs.ErrNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("query share link: %w", err)
	}
	return &link, nil
}

// ListByTenant returns the links created by tenant, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenant string) ([]Link, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_share_links", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, path, created_by, created_at FROM share_links
		 WHERE created_by = $1 ORDER BY created_at DESC, token`, tenant)
	if err != nil {
		return nil, fmt.Errorf("query share links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Token, &l.Path, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// generateToken returns TokenBytes of randomness, URL-safe base64 encoded.
func generateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
