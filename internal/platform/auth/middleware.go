package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates every request and stores the identity in the
// request context. Paths under a skip prefix (health probes) pass through
// without an identity.
type Middleware struct {
	authenticator Authenticator
	logger        *slog.Logger
	skipPrefixes  []string
}

func NewMiddleware(authenticator Authenticator, logger *slog.Logger, skipPrefixes ...string) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{authenticator: authenticator, logger: logger, skipPrefixes: skipPrefixes}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		identity, err := m.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				m.logger.Error("authenticate request", "error", err, "path", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}
