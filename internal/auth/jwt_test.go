package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
	"github.com/AlexanderSatryo135/myDrive/pkg/protocol"
)

const testSecret = "0123456789abcdef-test"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	logging.InitNop()

	db, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return New(db.DB(), testSecret, time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "alice", "secret1"))

	token, exp, err := a.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Tenant())
}

func TestRegisterRejects(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, "alice", "secret1"))

	assert.ErrorIs(t, a.Register(ctx, "alice", "another1"), ErrUserExists)
	assert.ErrorIs(t, a.Register(ctx, "bob", "short"), ErrWeakPassword)
	for _, name := range []string{"", "..", ".hidden", "a/b", "with space"} {
		assert.ErrorIs(t, a.Register(ctx, name, "secret1"), vfs.ErrInvalidName, name)
	}
}

func TestLoginFailures(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, "alice", "secret1"))

	_, _, err := a.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUnknownUserStillComparesHash(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, "alice", "secret1"))

	calls := 0
	orig := compareHash
	compareHash = func(hash, password []byte) error {
		calls++
		return orig(hash, password)
	}
	t.Cleanup(func() { compareHash = orig })

	_, err := a.ValidateCredentials(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, calls, "unknown user must cost a bcrypt comparison")

	_, err = a.ValidateCredentials(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 2, calls)
}

func TestValidateTokenRejects(t *testing.T) {
	a := newTestAuth(t)

	other := New(nil, "a-completely-different-secret", time.Hour)
	forged, _, err := other.IssueToken("alice")
	require.NoError(t, err)
	_, err = a.ValidateToken(forged)
	assert.Error(t, err)

	expired := New(nil, testSecret, -time.Minute)
	old, _, err := expired.IssueToken("alice")
	require.NoError(t, err)
	_, err = a.ValidateToken(old)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.ValidateToken(unsigned)
	assert.Error(t, err)

	bad, _, err := a.IssueToken("../etc")
	require.NoError(t, err)
	_, err = a.ValidateToken(bad)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token, _, err := a.IssueToken("alice")
	require.NoError(t, err)

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Tenant(r.Context())
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		tenant string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "alice"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusOK, "alice"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
			tt.setup(r)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.tenant, seen)
		})
	}
}

func TestTenantWithoutClaims(t *testing.T) {
	assert.Empty(t, Tenant(context.Background()))
	assert.Nil(t, GetClaims(context.Background()))
}

func postJSON(h http.HandlerFunc, v any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(v)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	return rec
}

func TestHandleRegisterAndLogin(t *testing.T) {
	a := newTestAuth(t)
	creds := protocol.CredentialsRequest{Username: "alice", Password: "secret1"}

	rec := postJSON(a.HandleRegister, creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(a.HandleRegister, creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = postJSON(a.HandleRegister, protocol.CredentialsRequest{Username: "bob", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(a.HandleRegister, protocol.CredentialsRequest{Username: "../x", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(a.HandleLogin, creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.Username)
	_, err := a.ValidateToken(resp.Token)
	assert.NoError(t, err)

	rec = postJSON(a.HandleLogin, protocol.CredentialsRequest{Username: "alice", Password: "nope123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var errResp protocol.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, http.StatusUnauthorized, errResp.Code)

	rec = postJSON(a.HandleLogin, protocol.CredentialsRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
