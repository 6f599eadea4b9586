package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/emberline/emberline/internal/api"
)

const (
	tokenIssuer = "emberline"

	// accessTokenParam carries the token on websocket upgrades, where
	// browsers cannot set an Authorization header.
	accessTokenParam = "access_token"
)

var errMissingToken = errors.New("missing authentication token")

// OperatorClaims are the claims of a dashboard operator token
type OperatorClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// Enabled false lets every request through as anonymous
	Enabled bool

	AdminUsername string
	// AdminPasswordHash is the bcrypt hash of the admin password
	AdminPasswordHash string

	JWTSecret      string
	JWTExpiryHours int
}

// JWTAuthMiddleware issues and checks operator tokens. Routes opt in with
// Wrap (token required) or Identify (token optional).
type JWTAuthMiddleware struct {
	config *JWTAuthConfig
	mu     sync.RWMutex
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated operator
	UserContextKey ContextKey = "user"
)

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{config: config}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword checks if the provided password matches the hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken signs an operator token valid for TokenTTL
func (m *JWTAuthMiddleware) GenerateToken(username string) (string, error) {
	m.mu.RLock()
	secret := m.config.JWTSecret
	m.mu.RUnlock()

	now := time.Now()
	claims := OperatorClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TokenTTL())),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken checks signature, algorithm, issuer and expiry
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*OperatorClaims, error) {
	m.mu.RLock()
	secret := m.config.JWTSecret
	m.mu.RUnlock()

	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Username == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ValidateCredentials checks an operator login against the configured admin
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if subtle.ConstantTimeCompare([]byte(username), []byte(m.config.AdminUsername)) != 1 {
		return false
	}
	return CheckPassword(password, m.config.AdminPasswordHash)
}

// TokenTTL returns how long issued tokens stay valid
func (m *JWTAuthMiddleware) TokenTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.JWTExpiryHours) * time.Hour
}

// Wrap rejects requests without a valid operator token
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authenticate(r)
		if errors.Is(err, errMissingToken) {
			m.unauthorized(w, "Missing authentication token")
			return
		}
		if err != nil {
			log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected operator token")
			m.unauthorized(w, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, withOperator(r, claims.Username))
	})
}

// Identify attaches the operator to the context when a valid token is
// present, and otherwise passes the request through untouched.
func (m *JWTAuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := m.authenticate(r); err == nil {
			r = withOperator(r, claims.Username)
		}
		next.ServeHTTP(w, r)
	})
}

// SetEnabled turns enforcement on or off
func (m *JWTAuthMiddleware) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Enabled = enabled
}

// IsEnabled returns whether authentication is enforced
func (m *JWTAuthMiddleware) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Enabled
}

func (m *JWTAuthMiddleware) authenticate(r *http.Request) (*OperatorClaims, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil, errMissingToken
	}
	return m.ValidateToken(tokenString)
}

// extractToken reads a Bearer header, or the access_token query parameter
// on websocket upgrades.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}

func withOperator(r *http.Request, username string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), UserContextKey, username))
}

func (m *JWTAuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="emberline"`)
	api.RespondError(w, http.StatusUnauthorized, message)
}

// GetUserFromContext returns the operator name from the request context
func GetUserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(UserContextKey).(string); ok {
		return user
	}
	return ""
}
