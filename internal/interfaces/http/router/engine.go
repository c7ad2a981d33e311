package router

import (
	"github.com/gin-gonic/gin"
	"github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/interfaces/http/handler"
	"github.com/itechsmart/sentinel/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Paths served outside the authenticated API
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// Handlers groups the HTTP handlers mounted by NewEngine
type Handlers struct {
	Auth     *handler.AuthHandler
	Messages *handler.MessageHandler
	SLOs     *handler.SLOHandler
	Stream   *handler.StatsStreamHandler
	System   *handler.SystemHandler
}

// EngineConfig holds what NewEngine needs besides the handlers
type EngineConfig struct {
	ServiceName string
	HTTP        config.HTTPConfig
	Tokens      middleware.TokenValidator
	Revocations auth.RevocationList
	// RateLimiter is nil when rate limiting is disabled
	RateLimiter *middleware.RateLimiter
	// Meter is nil when HTTP metrics are disabled
	Meter     metric.Meter
	Tracing   bool
	Profiling bool
	Logger    *zap.Logger
}

// NewEngine builds the gin engine with the middleware chain and every route
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	skipPaths := []string{HealthPath, MetricsPath}

	engine.Use(logger.Recovery(cfg.Logger))
	engine.Use(middleware.RequestID())
	if cfg.Tracing {
		engine.Use(middleware.Tracing(cfg.ServiceName, skipPaths...)...)
	}
	engine.Use(logger.GinMiddleware(cfg.Logger, skipPaths...))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORS(corsConfig(cfg.HTTP)))
	if cfg.HTTP.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	}
	if cfg.RateLimiter != nil {
		engine.Use(middleware.RateLimit(cfg.RateLimiter))
	}
	engine.Use(middleware.HTTPMetrics(cfg.Meter))
	if cfg.Profiling {
		engine.Use(middleware.Profiling(skipPaths...))
	}

	engine.GET(HealthPath, h.System.Health)
	engine.GET(MetricsPath, h.System.Metrics)

	r := NewRouter(engine)
	r.middleware = append(r.middleware, middleware.JWTAuth(middleware.JWTConfig{
		Validator:   cfg.Tokens,
		Revocations: cfg.Revocations,
		SkipPaths:   []string{r.BasePath() + "/auth/login"},
		Logger:      cfg.Logger,
	}))
	for _, g := range apiGroups(h) {
		r.Register(g)
	}
	r.Setup()

	return engine, nil
}

func corsConfig(cfg config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORSAllowOrigins
	if len(cfg.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.CORSAllowMethods
	}
	if len(cfg.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.CORSAllowHeaders
	}
	return cors
}

// apiGroups lays out the /api/v1 routes. Reads are open to any operator
// role; anything that changes the queue or SLO state needs RoleOperator.
func apiGroups(h Handlers) []*DomainGroup {
	operator := middleware.RequireRole(auth.RoleOperator)

	authGroup := NewDomainGroup("auth", "/auth").
		POST("/login", h.Auth.Login).
		POST("/logout", h.Auth.Logout)

	messages := NewDomainGroup("messages", "/messages").
		POST("", operator, h.Messages.Submit).
		GET("/:id", h.Messages.Get).
		GET("/:id/attempts", h.Messages.Attempts).
		POST("/:id/quarantine", operator, h.Messages.Quarantine)

	queues := NewDomainGroup("queues", "/queues").
		GET("/retry", h.Messages.RetryQueue).
		GET("/dead-letter", h.Messages.DeadLetterQueue).
		GET("/quarantine", h.Messages.QuarantineQueue).
		POST("/dead-letter/retry-all", operator, h.Messages.RetryAllDeadLetters).
		POST("/dead-letter/:id/retry", operator, h.Messages.RetryDeadLetter).
		GET("/dead-letter/:id/archive-url", operator, h.Messages.ArchiveURL)

	statistics := NewDomainGroup("statistics", "/statistics").
		GET("", h.Messages.Statistics).
		GET("/stream", h.Stream.Stream)

	slos := NewDomainGroup("slos", "/slos").
		POST("", operator, h.SLOs.Create).
		GET("", h.SLOs.List).
		GET("/violations", h.SLOs.Violations).
		GET("/report", h.SLOs.Report).
		GET("/:id", h.SLOs.Get).
		POST("/:id/measurements", operator, h.SLOs.RecordMeasurement).
		GET("/:id/history", h.SLOs.History).
		GET("/:id/prediction", h.SLOs.Prediction)

	return []*DomainGroup{authGroup, messages, queues, statistics, slos}
}
