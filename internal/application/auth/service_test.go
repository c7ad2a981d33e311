package auth

import (
	"context"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	infraauth "github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	svc         *Service
	jwt         *infraauth.JWTService
	revocations *infraauth.InMemoryRevocationList
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret!"), bcrypt.MinCost)
	require.NoError(t, err)
	dir, err := infraauth.NewOperatorDirectory([]config.OperatorConfig{
		{Username: "alice", PasswordHash: string(hash), Role: infraauth.RoleOperator},
	})
	require.NoError(t, err)

	f := &fixture{
		jwt: infraauth.NewJWTService(config.JWTConfig{
			Secret:                "auth-service-test-secret-32-chars",
			AccessTokenExpiration: time.Hour,
			Issuer:                "sentinel-test",
		}),
		revocations: infraauth.NewInMemoryRevocationList(),
		now:         time.Now(),
	}
	f.svc = NewService(dir, f.jwt, f.revocations, ServiceConfig{MaxLoginAttempts: 3, LockDuration: time.Minute}, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	token, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, infraauth.RoleOperator, token.Role)

	claims, err := f.jwt.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestLogin_LockoutAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "nope"})
		require.Error(t, err)
	}

	_, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret!"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "nope"})
	}
	_, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "nope"})
	}
	_, err = f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret!"})
	assert.NoError(t, err, "counter restarted after the successful login")
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
	claims, err := f.jwt.ValidateToken(token.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, claims))

	revoked, err := f.revocations.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.Error(t, f.svc.Logout(ctx, nil))
}
