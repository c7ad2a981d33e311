// Package auth implements operator login and logout.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	infraauth "github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ServiceConfig contains configuration for the auth service
type ServiceConfig struct {
	MaxLoginAttempts int           // failed attempts before the account is locked
	LockDuration     time.Duration // how long a locked account stays locked
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
	}
}

// LoginRequest carries operator credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=100"`
	Password string `json:"password" binding:"required,max=200"`
}

// Authenticator checks operator credentials
type Authenticator interface {
	Authenticate(username, password string) (*infraauth.Operator, error)
}

// TokenIssuer issues access tokens
type TokenIssuer interface {
	GenerateToken(username, role string) (*infraauth.Token, error)
}

type loginFailures struct {
	count       int
	lockedUntil time.Time
}

// Service handles operator authentication
type Service struct {
	operators   Authenticator
	tokens      TokenIssuer
	revocations infraauth.RevocationList
	config      ServiceConfig
	logger      *zap.Logger

	mu       sync.Mutex
	failures map[string]*loginFailures
	now      func() time.Time
}

// NewService creates a new authentication service
func NewService(
	operators Authenticator,
	tokens TokenIssuer,
	revocations infraauth.RevocationList,
	config ServiceConfig,
	logger *zap.Logger,
) *Service {
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = DefaultServiceConfig().MaxLoginAttempts
	}
	if config.LockDuration <= 0 {
		config.LockDuration = DefaultServiceConfig().LockDuration
	}
	return &Service{
		operators:   operators,
		tokens:      tokens,
		revocations: revocations,
		config:      config,
		logger:      logger.Named("auth_service"),
		failures:    make(map[string]*loginFailures),
		now:         time.Now,
	}
}

// Login checks credentials and issues an access token. Repeated failures
// lock the username for LockDuration.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*infraauth.Token, error) {
	username := strings.TrimSpace(req.Username)
	l := logger.Enrich(ctx, s.logger).With(zap.String("username", username))

	if until, locked := s.lockedUntil(username); locked {
		l.Warn("Login attempt for locked account", zap.Time("locked_until", until))
		return nil, shared.NewDomainError("UNAUTHORIZED", "Account is locked. Please try again later")
	}

	op, err := s.operators.Authenticate(username, req.Password)
	if err != nil {
		if !errors.Is(err, infraauth.ErrInvalidCredentials) {
			return nil, err
		}
		if s.recordFailure(username) {
			l.Warn("Account locked after repeated login failures", zap.Int("max_attempts", s.config.MaxLoginAttempts))
		} else {
			l.Info("Login failed")
		}
		return nil, shared.NewDomainError("UNAUTHORIZED", "Invalid username or password")
	}
	s.clearFailures(username)

	token, err := s.tokens.GenerateToken(op.Username, op.Role)
	if err != nil {
		return nil, err
	}
	l.Info("Operator logged in", zap.String("role", op.Role))
	return token, nil
}

// Logout revokes the presented token for the rest of its lifetime
func (s *Service) Logout(ctx context.Context, claims *infraauth.Claims) error {
	if claims == nil || claims.ID == "" {
		return shared.NewDomainError("UNAUTHORIZED", "No token to revoke")
	}
	if s.revocations == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.RemainingTTL()); err != nil {
		return err
	}
	logger.Enrich(ctx, s.logger).Info("Operator logged out", zap.String("username", claims.Username))
	return nil
}

func (s *Service) lockedUntil(username string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[username]
	if !ok || f.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if s.now().After(f.lockedUntil) {
		delete(s.failures, username)
		return time.Time{}, false
	}
	return f.lockedUntil, true
}

// recordFailure counts a failed login and reports whether it locked the account
func (s *Service) recordFailure(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[username]
	if !ok {
		f = &loginFailures{}
		s.failures[username] = f
	}
	f.count++
	if f.count >= s.config.MaxLoginAttempts {
		f.lockedUntil = s.now().Add(s.config.LockDuration)
		return true
	}
	return false
}

func (s *Service) clearFailures(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, username)
}
