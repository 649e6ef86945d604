package httpapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"qms/token-service/internal/policy"
	"qms/token-service/internal/store"

	"go.uber.org/zap"
)

type principalContextKey struct{}

// Authenticator resolves an opaque session id issued by the login layer.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (policy.Principal, error)
}

var generatePath = regexp.MustCompile(`^/api/branches/[^/]+/tokens/generate$`)

// AuthMiddleware attaches the caller's principal to the request context.
// Public endpoints accept anonymous callers; a valid session there is still
// attached so signed-in staff keep their identity.
func AuthMiddleware(auth Authenticator, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := isPublicEndpoint(r)
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		principal, err := auth.Authenticate(r.Context(), sessionID)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			logger.Error("session lookup failed", zap.String("request_id", requestIDFromRequest(r)), zap.Error(err))
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principalFromContext returns the anonymous principal when no session was
// attached.
func principalFromContext(ctx context.Context) policy.Principal {
	principal, _ := ctx.Value(principalContextKey{}).(policy.Principal)
	return principal
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case strings.HasPrefix(r.URL.Path, "/realtime/"):
		return true
	case r.Method == http.MethodPost && generatePath.MatchString(r.URL.Path):
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
