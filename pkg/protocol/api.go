// Package protocol defines the API request/response types.
package protocol

import "time"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// CredentialsRequest is the body for POST /api/v1/auth/register and
// POST /api/v1/auth/token.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// RegisterResponse is returned by POST /api/v1/auth/register.
type RegisterResponse struct {
	Username string `json:"username"`
}

// CreateFolderRequest is the body for POST /api/v1/folders.
type CreateFolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// RenameRequest is the body for POST /api/v1/rename.
type RenameRequest struct {
	Path    string `json:"path"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// MoveRequest is the body for POST /api/v1/move.
type MoveRequest struct {
	Destination string   `json:"destination"`
	Paths       []string `json:"paths"`
}

// BulkDeleteRequest is the body for POST /api/v1/bulk/delete.
type BulkDeleteRequest struct {
	Paths []string `json:"paths"`
}

// ShareRequest is the body for POST /api/v1/share.
type ShareRequest struct {
	Path string `json:"path"`
}

// ShareResponse describes a share link.
type ShareResponse struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareListResponse is returned by GET /api/v1/shares.
type ShareListResponse struct {
	Shares []ShareResponse `json:"shares"`
}

// StorageResponse is returned by GET /api/v1/storage. Sizes are in GB
// rounded to two decimals, Percent to one.
type StorageResponse struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	Percent float64 `json:"percent"`
}
