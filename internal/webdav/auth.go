package webdav

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
)

// BasicAuthMiddleware returns middleware that authenticates via Basic Auth
// or Bearer token (for programmatic access).
func BasicAuthMiddleware(a *auth.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				a.Middleware(next).ServeHTTP(w, r)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="myDrive"`)
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := a.ValidateCredentials(r.Context(), username, password)
			if err != nil {
				metrics.RecordAuthAttempt(false)
				logging.Warn("webdav auth failed",
					zap.String("username", username),
					zap.Error(err))
				w.Header().Set("WWW-Authenticate", `Basic realm="myDrive"`)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
