package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey   = "jwt_claims"
	JWTUsernameKey = "username"
	JWTRoleKey     = "role"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// TokenValidator validates access tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTConfig holds configuration for the JWT middleware
type JWTConfig struct {
	Validator TokenValidator
	// Revocations is optional; logged-out tokens are refused when set
	Revocations auth.RevocationList
	// SkipPaths are exact paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// JWTAuth authenticates requests with a Bearer token
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			abortWithError(c, dto.ErrCodeUnauthorized, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(header, BearerPrefix) {
			abortWithError(c, dto.ErrCodeUnauthorized, "Invalid authorization header format")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
		if token == "" {
			abortWithError(c, dto.ErrCodeUnauthorized, "Missing token")
			return
		}

		claims, err := cfg.Validator.ValidateToken(token)
		if err != nil {
			l.Debug("JWT authentication failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
			if errors.Is(err, auth.ErrExpiredToken) {
				abortWithError(c, dto.ErrCodeTokenExpired, "Token has expired")
				return
			}
			abortWithError(c, dto.ErrCodeTokenInvalid, "Invalid token")
			return
		}

		if cfg.Revocations != nil && claims.ID != "" {
			revoked, err := cfg.Revocations.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				// fail open: a revocation store outage must not lock operators out
				l.Error("Failed to check token revocation", zap.String("jti", claims.ID), zap.Error(err))
			} else if revoked {
				abortWithError(c, dto.ErrCodeTokenRevoked, "Token has been revoked")
				return
			}
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTUsernameKey, claims.Username)
		c.Set(JWTRoleKey, claims.Role)
		c.Request = c.Request.WithContext(logger.WithOperator(c.Request.Context(), claims.Username))
		c.Next()
	}
}

// GetClaims returns the claims stored by JWTAuth, or nil
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(JWTClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// RequireRole refuses requests whose token does not grant role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abortWithError(c, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}
		if !claims.HasRole(role) {
			abortWithError(c, dto.ErrCodeForbidden, "Role "+role+" required")
			return
		}
		c.Next()
	}
}
