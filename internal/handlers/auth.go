package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	jwtAuth *middleware.JWTAuthMiddleware
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(jwtAuth *middleware.JWTAuthMiddleware) *AuthHandler {
	return &AuthHandler{jwtAuth: jwtAuth}
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	if !h.jwtAuth.ValidateCredentials(req.Username, req.Password) {
		log.WithFields(log.Fields{
			"username":    req.Username,
			"remote_addr": r.RemoteAddr,
		}).Warn("Failed login attempt")
		api.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, expires, err := h.jwtAuth.GenerateToken(req.Username)
	if err != nil {
		log.WithError(err).WithField("username", req.Username).Error("Failed to generate token")
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	log.WithField("username", req.Username).Info("Operator logged in")
	api.RespondJSON(w, http.StatusOK, api.LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  req.Username,
	})
}

// handleVerify reports the operator behind the current token
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	user := middleware.ActorFromContext(r.Context())
	if user == "" {
		api.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"username": user,
	})
}
