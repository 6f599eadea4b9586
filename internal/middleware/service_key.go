package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/api"
)

const (
	// ServiceKeyHeader authenticates the edge detection pipeline and responder devices.
	ServiceKeyHeader = "X-Service-Key"
	// ProviderSecretHeader authenticates station registration by service providers.
	ProviderSecretHeader = "X-Provider-Secret"
)

// ServiceKeyMiddleware guards machine-to-machine endpoints with a shared
// secret carried in a fixed header. With no keys configured it lets every
// request through.
type ServiceKeyMiddleware struct {
	header string
	keys   [][]byte
}

// NewServiceKeyMiddleware accepts any of keys in header. Empty keys are ignored.
func NewServiceKeyMiddleware(header string, keys ...string) *ServiceKeyMiddleware {
	m := &ServiceKeyMiddleware{header: header}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m.keys = append(m.keys, []byte(k))
		}
	}
	if len(m.keys) == 0 {
		log.Warn().Str("header", header).Msg("No shared secret configured, endpoints guarded by this header are open")
	}
	return m
}

// IsEnabled reports whether a key is required
func (m *ServiceKeyMiddleware) IsEnabled() bool {
	return len(m.keys) > 0
}

// Wrap wraps an http.Handler with the key check
func (m *ServiceKeyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(m.header)
		if provided == "" {
			api.RespondError(w, http.StatusUnauthorized, "Missing "+m.header+" header")
			return
		}
		if !m.valid(provided) {
			log.Warn().Str("header", m.header).Str("remote_addr", r.RemoteAddr).Msg("Invalid shared secret")
			api.RespondError(w, http.StatusUnauthorized, "Invalid "+m.header)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WrapFunc wraps an http.HandlerFunc with the key check
func (m *ServiceKeyMiddleware) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return m.Wrap(next).ServeHTTP
}

// valid compares in constant time against every configured key
func (m *ServiceKeyMiddleware) valid(provided string) bool {
	ok := false
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(provided), k) == 1 {
			ok = true
		}
	}
	return ok
}
