// Package auth provides accounts, JWT-based authentication middleware and
// Basic auth credential checks, with metrics.
//
// The authenticated username is the tenant identifier: it names the tenant's
// storage root and is passed explicitly to every file operation.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
	"github.com/AlexanderSatryo135/myDrive/pkg/protocol"
)

type contextKey string

const (
	userContextKey contextKey = "user"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

const issuer = "mydrive"

var (
	// compareHash is swapped in tests.
	compareHash = bcrypt.CompareHashAndPassword

	dummyOnce sync.Once
	dummyHash []byte
)

// unknownUserHash is compared against when the username does not exist, so
// a failed login costs one bcrypt comparison either way.
func unknownUserHash() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("mydrive-no-such-user"), bcrypt.DefaultCost)
	})
	return dummyHash
}

var (
	// ErrUserExists means the username is already registered.
	ErrUserExists = errors.New("username already taken")

	// ErrInvalidCredentials means the username or password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWeakPassword means the password is shorter than MinPasswordLen.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

// Claims holds JWT token claims. The subject is the username.
type Claims struct {
	jwt.RegisteredClaims
}

// Tenant returns the tenant identifier the token was issued to.
func (c *Claims) Tenant() string {
	return c.Subject
}

// Auth handles accounts and JWT authentication.
type Auth struct {
	db     *sql.DB
	secret []byte
	ttl    time.Duration
}

// New creates a new Auth handler. Tokens are valid for ttl.
func New(db *sql.DB, jwtSecret string, ttl time.Duration) *Auth {
	return &Auth{
		db:     db,
		secret: []byte(jwtSecret),
		ttl:    ttl,
	}
}

// Register creates an account. The username must be usable as a tenant
// directory name as is; it is not silently rewritten.
func (a *Auth) Register(ctx context.Context, username, password string) error {
	if err := vfs.ValidateTenant(username); err != nil {
		return err
	}
	if len(password) < MinPasswordLen {
		return ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3)`,
		username, string(hashed), time.Now().UTC())
	if database.IsDuplicateKey(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	logging.Info("user created", zap.String("username", username))
	return nil
}

// ValidateCredentials checks a username and password and returns claims for
// the account. Any failure, including a database error, is reported as
// ErrInvalidCredentials; the cause is logged.
func (a *Auth) ValidateCredentials(ctx context.Context, username, password string) (*Claims, error) {
	start := time.Now()
	var hashed string
	err := a.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = $1`, username).Scan(&hashed)
	metrics.RecordDBQuery("get_user", time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		compareHash(unknownUserHash(), []byte(password))
		logging.Warn("login failed: unknown user", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		logging.Error("login database error", zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if err := compareHash([]byte(hashed), []byte(password)); err != nil {
		logging.Warn("login failed: invalid password", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: username, Issuer: issuer}}, nil
}

// Login checks the credentials and issues a token.
func (a *Auth) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	if _, err := a.ValidateCredentials(ctx, username, password); err != nil {
		metrics.RecordAuthAttempt(false)
		return "", time.Time{}, err
	}
	token, exp, err := a.IssueToken(username)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return "", time.Time{}, err
	}
	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", zap.String("username", username))
	return token, exp, nil
}

// IssueToken signs a token for username.
func (a *Auth) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// ValidateToken parses and verifies a token.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if vfs.ValidateTenant(claims.Subject) != nil {
		return nil, fmt.Errorf("invalid subject")
	}
	return claims, nil
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// Tenant returns the authenticated tenant from ctx, or "" if there is none.
func Tenant(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Tenant()
	}
	return ""
}

// HandleRegister handles POST /api/v1/auth/register
func (a *Auth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserExists):
		sendAuthError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ErrWeakPassword):
		sendAuthError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, vfs.ErrInvalidName):
		sendAuthError(w, http.StatusBadRequest,
			"username must be 1-64 letters, digits, '.', '_' or '-' and not start with '.'")
		return
	default:
		logging.WithContext(r.Context()).Error("register failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(protocol.RegisterResponse{Username: req.Username})
}

// HandleLogin handles POST /api/v1/auth/token
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	token, exp, err := a.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		logging.Error("failed to issue token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.TokenResponse{
		Token:     token,
		ExpiresAt: exp,
		Username:  req.Username,
	})
}

// extractToken reads a Bearer token, falling back to the "token" query
// parameter for EventSource and WebSocket clients that cannot set headers.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: msg,
		Code:  status,
	})
}
