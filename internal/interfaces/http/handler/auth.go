package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	appauth "github.com/itechsmart/sentinel/internal/application/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/interfaces/http/middleware"
)

// AuthService is the subset of the auth application service used here
type AuthService interface {
	Login(ctx context.Context, req appauth.LoginRequest) (*auth.Token, error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

// AuthHandler handles operator login and logout
type AuthHandler struct {
	BaseHandler
	authService AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req appauth.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, token)
}

// Logout handles POST /auth/logout. The presented token stops working
// immediately.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), middleware.GetClaims(c)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"message": "Logged out"})
}
