package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	appauth "github.com/itechsmart/sentinel/internal/application/auth"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
	"github.com/itechsmart/sentinel/internal/interfaces/http/handler"
	"github.com/itechsmart/sentinel/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// statsOnly answers Statistics; every other delivery call is out of scope here
type statsOnly struct {
	handler.DeliveryService
}

func (statsOnly) Statistics(context.Context) (*delivery.Statistics, error) {
	return &delivery.Statistics{TotalMessages: 7}, nil
}

type stubAuth struct{ tokens *auth.JWTService }

func (s stubAuth) Login(_ context.Context, req appauth.LoginRequest) (*auth.Token, error) {
	return s.tokens.GenerateToken(req.Username, auth.RoleViewer)
}

func (stubAuth) Logout(context.Context, *auth.Claims) error { return nil }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestEngine(t *testing.T, dbErr error) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	tokens := auth.NewJWTService(config.JWTConfig{
		Secret:                "engine-test-secret-of-32-characters",
		AccessTokenExpiration: time.Minute,
		Issuer:                "sentinel-test",
	})
	deliverySvc := statsOnly{}
	engine, err := NewEngine(EngineConfig{
		ServiceName: "sentinel-test",
		HTTP:        config.HTTPConfig{MaxBodySize: 1 << 20},
		Tokens:      tokens,
		Revocations: auth.NewInMemoryRevocationList(),
		RateLimiter: middleware.NewRateLimiter(1000, 1000),
		Logger:      zap.NewNop(),
	}, Handlers{
		Auth:     handler.NewAuthHandler(stubAuth{tokens: tokens}),
		Messages: handler.NewMessageHandler(deliverySvc),
		SLOs:     handler.NewSLOHandler(nil),
		Stream:   handler.NewStatsStreamHandler(deliverySvc, time.Second),
		System: handler.NewSystemHandler("sentinel", "test", map[string]handler.Pinger{
			"database": pingFunc(func(context.Context) error { return dbErr }),
		}, nil),
	})
	require.NoError(t, err)
	return engine, tokens
}

func do(engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestEngine_PublicEndpoints(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	w := do(engine, "GET", HealthPath, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = do(engine, "GET", MetricsPath, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "prometheus exporter not configured")

	w = do(engine, "POST", "/api/v1/auth/login", "", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data auth.Token `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.AccessToken)
}

func TestEngine_HealthReportsFailingCheck(t *testing.T) {
	engine, _ := newTestEngine(t, errors.New("connection refused"))

	w := do(engine, "GET", HealthPath, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestEngine_Authentication(t *testing.T) {
	engine, tokens := newTestEngine(t, nil)

	w := do(engine, "GET", "/api/v1/statistics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := tokens.GenerateToken("vic", auth.RoleViewer)
	require.NoError(t, err)
	operator, err := tokens.GenerateToken("olga", auth.RoleOperator)
	require.NoError(t, err)

	w = do(engine, "GET", "/api/v1/statistics", viewer.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_messages":7`)

	t.Run("mutations need the operator role", func(t *testing.T) {
		for _, path := range []string{
			"/api/v1/messages",
			"/api/v1/messages/m-1/quarantine",
			"/api/v1/queues/dead-letter/retry-all",
			"/api/v1/queues/dead-letter/m-1/retry",
			"/api/v1/slos",
		} {
			w := do(engine, "POST", path, viewer.AccessToken, map[string]string{})
			assert.Equal(t, http.StatusForbidden, w.Code, path)
		}
	})

	t.Run("operator passes the role check", func(t *testing.T) {
		// invalid body proves the request reached the handler
		w := do(engine, "POST", "/api/v1/messages", operator.AccessToken, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})
}

func TestEngine_CORSPreflight(t *testing.T) {
	tokens := auth.NewJWTService(config.JWTConfig{Secret: "engine-test-secret-of-32-characters", Issuer: "x"})
	engine, err := NewEngine(EngineConfig{
		HTTP:   config.HTTPConfig{CORSAllowOrigins: []string{"https://console.example.org"}},
		Tokens: tokens,
		Logger: zap.NewNop(),
	}, Handlers{
		Auth:     handler.NewAuthHandler(stubAuth{tokens: tokens}),
		Messages: handler.NewMessageHandler(statsOnly{}),
		SLOs:     handler.NewSLOHandler(nil),
		Stream:   handler.NewStatsStreamHandler(statsOnly{}, time.Second),
		System:   handler.NewSystemHandler("sentinel", "test", nil, nil),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/statistics", nil)
	req.Header.Set("Origin", "https://console.example.org")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}
