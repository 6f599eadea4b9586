package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/middleware"
)

// AuthHandler issues and checks operator tokens
type AuthHandler struct {
	jwtAuth *middleware.JWTAuthMiddleware
}

func NewAuthHandler(jwtAuth *middleware.JWTAuthMiddleware) *AuthHandler {
	return &AuthHandler{jwtAuth: jwtAuth}
}

// SetupRoutes registers the login endpoint and the token check. The check is
// always behind the JWT guard.
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("GET /auth/verify", h.jwtAuth.Wrap(http.HandlerFunc(h.handleVerify)))
}

// handleLogin handles POST /auth/login
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondErrorWithCode(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	logger := zerolog.Ctx(r.Context()).With().Str("username", req.Username).Logger()
	if !h.jwtAuth.ValidateCredentials(req.Username, req.Password) {
		logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected operator login")
		api.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := h.jwtAuth.GenerateToken(req.Username)
	if err != nil {
		logger.Error().Err(err).Msg("Could not sign operator token")
		api.RespondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	logger.Info().Dur("ttl", h.jwtAuth.TokenTTL()).Msg("Operator logged in")

	api.RespondJSON(w, http.StatusOK, api.LoginResponse{
		Token:     token,
		Username:  req.Username,
		ExpiresIn: int(h.jwtAuth.TokenTTL().Seconds()),
	})
}

// handleVerify handles GET /auth/verify
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	operator := middleware.GetUserFromContext(r.Context())
	if operator == "" {
		api.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"username": operator,
	})
}
