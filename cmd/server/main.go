// Command server runs the HL7 delivery gateway: the REST API, the inbound
// MLLP listener, the retry processor and the SLO jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appauth "github.com/itechsmart/sentinel/internal/application/auth"
	appdelivery "github.com/itechsmart/sentinel/internal/application/delivery"
	appslo "github.com/itechsmart/sentinel/internal/application/slo"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/auth"
	"github.com/itechsmart/sentinel/internal/infrastructure/cache"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	infradelivery "github.com/itechsmart/sentinel/internal/infrastructure/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/event"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/infrastructure/mllp"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence"
	"github.com/itechsmart/sentinel/internal/infrastructure/scheduler"
	"github.com/itechsmart/sentinel/internal/infrastructure/storage"
	"github.com/itechsmart/sentinel/internal/infrastructure/telemetry"
	"github.com/itechsmart/sentinel/internal/interfaces/http/handler"
	"github.com/itechsmart/sentinel/internal/interfaces/http/middleware"
	"github.com/itechsmart/sentinel/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (default: search ./config.toml)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}

	// OTLP log export is teed into the application logger once the provider exists
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	if logProvider.IsEnabled() {
		log, err = logger.New(logCfg, logger.WithCore(logProvider.Core(logger.ParseLevel(cfg.Log.Level))))
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting HL7 gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		Exporter:          cfg.Telemetry.MetricsExporter,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       serviceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	meter := meterProvider.Meter(serviceName)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeAddress,
		ApplicationName: serviceName,
	}, log)
	if err != nil {
		return err
	}
	if profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	dbOpts := []persistence.Option{persistence.WithLogger(gormLog)}
	gormMetrics, err := telemetry.NewGormInstrumentation(meter, telemetry.GormConfig{
		TracingEnabled:     cfg.Telemetry.DBTraceEnabled,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		return err
	}
	dbOpts = append(dbOpts, persistence.WithPlugin(gormMetrics))

	db, err := persistence.NewDatabase(&cfg.Database, dbOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if sqlDB, err := db.DB.DB(); err == nil {
		gormMetrics.StartPoolStats(ctx, sqlDB)
		defer gormMetrics.Stop()
	}
	log.Info("Database connected")

	messageRepo := persistence.NewGormMessageRepository(db)
	serviceRepo := persistence.NewGormServiceRepository(db.DB)
	sloRepo := persistence.NewGormSLORepository(db.DB)
	measurementRepo := persistence.NewGormMeasurementRepository(db.DB)

	healthChecks := map[string]handler.Pinger{"database": db}

	// Idempotency store; its Redis client also backs token revocation
	var idempotency shared.IdempotencyStore
	var revocations auth.RevocationList = auth.NewInMemoryRevocationList()
	if cfg.Idempotency.Enabled {
		factory := cache.NewIdempotencyStoreFactory(cfg.Idempotency, cfg.Redis,
			cache.WithLogger(log),
			cache.WithInMemoryFallback(cfg.App.Env != "production"),
		)
		idempotency, err = factory.CreateStore()
		if err != nil {
			return fmt.Errorf("failed to create idempotency store: %w", err)
		}
		defer func() { _ = idempotency.Close() }()

		if rs, ok := idempotency.(*cache.RedisIdempotencyStore); ok {
			revocations = auth.NewRedisRevocationList(rs.Client(), "")
			healthChecks["redis"] = redisPinger{client: rs.Client()}
		}
	}

	// Event bus
	bus := event.NewInMemoryEventBus(log)

	deliveryMetrics, err := telemetry.NewDeliveryMetrics(meter, log)
	if err != nil {
		return err
	}
	bus.Subscribe(deliveryMetrics)

	var archive *storage.DeadLetterArchive
	if cfg.Storage.Enabled {
		store, err := storage.NewS3Store(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare archive bucket: %w", err)
		}
		archive = storage.NewDeadLetterArchive(store, cfg.Storage.Prefix, log)
		bus.Subscribe(archive)
	}

	if err := bus.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = bus.Stop(context.Background()) }()

	// Application services
	deliveryService := appdelivery.NewService(messageRepo, idempotency, bus, appdelivery.ServiceConfig{
		MaxRetries: cfg.Delivery.MaxRetries,
		Idempotency: shared.IdempotencyConfig{
			Enabled: cfg.Idempotency.Enabled,
			TTL:     cfg.Idempotency.TTL,
		},
	}, log)

	sloService := appslo.NewService(serviceRepo, sloRepo, measurementRepo, bus, log,
		appslo.WithGauges(deliveryMetrics))

	operators, err := auth.NewOperatorDirectory(cfg.Auth.Operators)
	if err != nil {
		return fmt.Errorf("invalid operator accounts: %w", err)
	}
	if operators.Len() == 0 {
		log.Warn("No operator accounts configured; the API is unreachable")
	}
	jwtService := auth.NewJWTService(cfg.JWT)
	authService := appauth.NewService(operators, jwtService, revocations, appauth.DefaultServiceConfig(), log)

	// Delivery pipeline
	mllpClient, err := mllp.NewClient(mllp.ClientConfig{
		Destinations:   cfg.MLLP.Destinations,
		DialTimeout:    cfg.MLLP.DialTimeout,
		AckTimeout:     cfg.MLLP.AckTimeout,
		MaxMessageSize: cfg.MLLP.MaxMessageSize,
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = mllpClient.Close() }()

	processorOpts := []infradelivery.ProcessorOption{infradelivery.WithMetrics(deliveryMetrics)}
	var bridge *appslo.DeliveryBridge
	if cfg.SLO.DeliveryBridgeEnabled {
		bridge = appslo.NewDeliveryBridge(sloService, cfg.SLO.DeliveryTarget, log)
		processorOpts = append(processorOpts, infradelivery.WithOutcomeRecorder(bridge))
	}

	processor := infradelivery.NewProcessor(messageRepo, mllpClient, bus,
		infradelivery.PolicyFromConfig(cfg.Delivery),
		infradelivery.ProcessorConfig{
			BatchSize:              cfg.Delivery.BatchSize,
			PollInterval:           cfg.Delivery.PollInterval,
			StaleProcessingTimeout: cfg.Delivery.StaleProcessingTimeout,
			CleanupEnabled:         cfg.Delivery.CleanupEnabled,
			CleanupRetention:       cfg.Delivery.CleanupRetention,
			CleanupInterval:        cfg.Delivery.CleanupInterval,
		},
		log,
		processorOpts...,
	)

	// Scheduled jobs
	jobs := scheduler.New(log)
	if cfg.Monitor.Enabled {
		monitor := infradelivery.NewMonitor(messageRepo, infradelivery.MonitorConfig{
			BacklogWarning:  cfg.Monitor.BacklogWarning,
			BacklogCritical: cfg.Monitor.BacklogCritical,
			AgeThreshold:    cfg.Monitor.AgeThreshold,
		}, deliveryMetrics, log)
		if err := jobs.Add(scheduler.Job{
			Name:       "queue-monitor",
			Interval:   cfg.Monitor.Interval,
			RunOnStart: true,
			Run:        monitor.Sample,
		}); err != nil {
			return err
		}
	}
	if bridge != nil {
		if err := jobs.Add(scheduler.Job{
			Name:     "slo-delivery-bridge",
			Interval: cfg.SLO.FlushInterval,
			Run:      bridge.Flush,
		}); err != nil {
			return err
		}
	}
	if cfg.SLO.SweepEnabled {
		if err := jobs.Add(scheduler.Job{
			Name:     "slo-violation-sweep",
			Interval: cfg.SLO.SweepInterval,
			Run:      appslo.NewViolationSweep(sloService, log).Run,
		}); err != nil {
			return err
		}
	}
	if cfg.SLO.ReportCron != "" {
		if err := jobs.Add(scheduler.Job{
			Name:    "slo-daily-report",
			Cron:    cfg.SLO.ReportCron,
			Timeout: 5 * time.Minute,
			Run:     appslo.NewReportJob(sloService, 30, log).Run,
		}); err != nil {
			return err
		}
	}

	// HTTP
	gin.SetMode(ginMode(cfg.App.Env))
	middleware.SetupValidator()

	var rateLimiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	}

	var messageOpts []handler.MessageHandlerOption
	if archive != nil {
		messageOpts = append(messageOpts, handler.WithArchive(archive, cfg.Storage.PresignExpiration))
	}

	var streamOpts []handler.StatsStreamOption
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		streamOpts = append(streamOpts, handler.WithStreamOrigins(cfg.HTTP.CORSAllowOrigins))
	}

	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName: serviceName,
		HTTP:        cfg.HTTP,
		Tokens:      jwtService,
		Revocations: revocations,
		RateLimiter: rateLimiter,
		Meter:       meter,
		Tracing:     tracerProvider.IsEnabled(),
		Profiling:   profiler.IsEnabled(),
		Logger:      log,
	}, router.Handlers{
		Auth:     handler.NewAuthHandler(authService),
		Messages: handler.NewMessageHandler(deliveryService, messageOpts...),
		SLOs:     handler.NewSLOHandler(sloService),
		Stream:   handler.NewStatsStreamHandler(deliveryService, cfg.HTTP.StatsStreamInterval, streamOpts...),
		System:   handler.NewSystemHandler(cfg.App.Name, version, healthChecks, meterProvider.Handler()),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	var mllpServer *mllp.Server
	if cfg.MLLP.ListenEnabled {
		mllpServer, err = mllp.NewServer(mllp.ServerConfig{
			Address:        cfg.MLLP.ListenAddress,
			Charset:        cfg.MLLP.InboundCharset,
			ReadTimeout:    cfg.MLLP.ReadTimeout,
			MaxMessageSize: cfg.MLLP.MaxMessageSize,
		}, mllp.NewRoutingHandler(
			mllp.NewRouter(cfg.MLLP.Routes, cfg.MLLP.DefaultDestination),
			deliveryService,
		), log)
		if err != nil {
			return err
		}
	}

	// Start everything, then block until a signal or a component fails
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Delivery.ProcessorEnabled {
		if err := processor.Start(gctx); err != nil {
			return err
		}
	}
	if err := jobs.Start(gctx); err != nil {
		return err
	}
	if mllpServer != nil {
		if err := mllpServer.Start(gctx); err != nil {
			return err
		}
	}
	if rateLimiter != nil {
		go rateLimiter.Run(gctx, time.Minute)
	}

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// stop intake first so nothing new is queued while the processor drains
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server forced to shutdown", zap.Error(err))
		}
		if mllpServer != nil {
			if err := mllpServer.Stop(shutdownCtx); err != nil {
				log.Error("MLLP listener forced to stop", zap.Error(err))
			}
		}
		if err := jobs.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler stop failed", zap.Error(err))
		}
		if cfg.Delivery.ProcessorEnabled {
			if err := processor.Stop(shutdownCtx); err != nil {
				log.Error("Processor stop failed", zap.Error(err))
			}
		}
		if bridge != nil {
			if err := bridge.Flush(shutdownCtx); err != nil {
				log.Warn("Final SLO flush failed", zap.Error(err))
			}
		}

		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler stop failed", zap.Error(err))
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
		if err := logProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Logger provider shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Gateway stopped with error", zap.Error(err))
		return err
	}
	log.Info("Gateway exited gracefully")
	return nil
}

func ginMode(env string) string {
	switch env {
	case "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// redisPinger adapts a Redis client to the health check interface
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
