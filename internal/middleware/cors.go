package middleware

import (
	"net/http"
	"strings"
)

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-Requested-With", RequestIDHeader, ServiceKeyHeader, ProviderSecretHeader,
	}, ", ")
)

// CORSMiddleware answers preflights and tags responses for the dashboard origins
type CORSMiddleware struct {
	origins  map[string]bool
	allowAll bool
}

// NewCORSMiddleware allows the given origins. No origins, or "*", allows any.
func NewCORSMiddleware(allowedOrigins ...string) *CORSMiddleware {
	c := &CORSMiddleware{origins: make(map[string]bool, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			c.allowAll = true
		}
		c.origins[strings.ToLower(o)] = true
	}
	if len(c.origins) == 0 {
		c.allowAll = true
	}
	return c
}

// Allows reports whether origin may call the API. Requests without an
// Origin header are same-origin or non-browser and always allowed.
func (c *CORSMiddleware) Allows(origin string) bool {
	return origin == "" || c.allowAll || c.origins[strings.ToLower(origin)]
}

// CheckOrigin adapts Allows to the websocket upgrader hook
func (c *CORSMiddleware) CheckOrigin(r *http.Request) bool {
	return c.Allows(r.Header.Get("Origin"))
}

// Wrap wraps an http.Handler with CORS headers
func (c *CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.Allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Retry-After")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
