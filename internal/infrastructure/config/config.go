package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config.toml
const EnvPrefix = "SENTINEL"

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	JWT         JWTConfig
	Auth        AuthConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Delivery    DeliveryConfig
	MLLP        MLLPConfig
	Monitor     MonitorConfig
	SLO         SLOConfig
	Storage     StorageConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IdempotencyConfig selects where duplicate-submission keys are kept
type IdempotencyConfig struct {
	Enabled    bool
	Backend    string // redis, badger, memory
	TTL        time.Duration
	KeyPrefix  string
	BadgerPath string // empty keeps badger in memory
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret                string
	AccessTokenExpiration time.Duration
	Issuer                string
}

// OperatorConfig is a console account. PasswordHash is a bcrypt hash.
type OperatorConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"` // operator, viewer
}

// AuthConfig holds the accounts allowed to log in
type AuthConfig struct {
	Operators []OperatorConfig
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	MaxHeaderBytes      int
	MaxBodySize         int64
	RateLimitEnabled    bool
	RateLimitRPS        float64
	RateLimitBurst      int
	CORSAllowOrigins    []string
	CORSAllowMethods    []string
	CORSAllowHeaders    []string
	TrustedProxies      []string
	StatsStreamInterval time.Duration
}

// DeliveryConfig holds retry queue processing configuration
type DeliveryConfig struct {
	ProcessorEnabled       bool
	BatchSize              int
	PollInterval           time.Duration
	StaleProcessingTimeout time.Duration
	CleanupEnabled         bool
	CleanupRetention       time.Duration
	CleanupInterval        time.Duration

	RetryStrategy      string
	MaxRetries         int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	BackoffMultiplier  float64
	RetryOnErrors      []string
	DeadLetterOnErrors []string
}

// DestinationConfig is a downstream system reachable over MLLP
type DestinationConfig struct {
	Name      string  `mapstructure:"name"`
	Address   string  `mapstructure:"address"`
	Charset   string  `mapstructure:"charset"`
	RateLimit float64 `mapstructure:"rate_limit"` // messages per second, 0 = unlimited
	Burst     int     `mapstructure:"burst"`
}

// MLLPConfig holds the MLLP transport configuration
type MLLPConfig struct {
	ListenEnabled      bool
	ListenAddress      string
	InboundCharset     string
	DefaultDestination string
	// Routes maps an MSH-5 receiving application to a destination name
	Routes         map[string]string
	Destinations   []DestinationConfig
	DialTimeout    time.Duration
	AckTimeout     time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int
}

// MonitorConfig holds queue backlog alert thresholds
type MonitorConfig struct {
	Enabled         bool
	Interval        time.Duration
	BacklogWarning  int64
	BacklogCritical int64
	AgeThreshold    time.Duration
}

// SLOConfig holds SLO engine background work configuration
type SLOConfig struct {
	DeliveryBridgeEnabled bool
	DeliveryTarget        float64
	FlushInterval         time.Duration
	SweepEnabled          bool
	SweepInterval         time.Duration
	// ReportCron is a daily "minute hour * * *" time for the compliance report log
	ReportCron string
}

// StorageConfig holds S3-compatible storage for the dead-letter archive
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	ForcePathStyle    bool
	Prefix            string
	PresignExpiration time.Duration
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)

	MetricsEnabled  bool
	MetricsExporter string // otlp, prometheus
	MetricsInterval time.Duration

	LogsEnabled bool // Tee zap logs into OTLP

	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration

	ProfilingEnabled bool
	PyroscopeAddress string
}

// Load loads configuration from config.toml and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SENTINEL_ prefix (e.g., SENTINEL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the working directory, ./config and /app.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true need an explicit default, a zero bool is indistinguishable from unset
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("delivery.processor_enabled", true)
	v.SetDefault("delivery.cleanup_enabled", true)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("slo.delivery_bridge_enabled", true)
	v.SetDefault("slo.sweep_enabled", true)
	v.SetDefault("slo.report_cron", "0 6 * * *")
	v.SetDefault("http.rate_limit_enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Idempotency: IdempotencyConfig{
			Enabled:    v.GetBool("idempotency.enabled"),
			Backend:    v.GetString("idempotency.backend"),
			TTL:        v.GetDuration("idempotency.ttl"),
			KeyPrefix:  v.GetString("idempotency.key_prefix"),
			BadgerPath: v.GetString("idempotency.badger_path"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
			Issuer:                v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:         v.GetDuration("http.read_timeout"),
			WriteTimeout:        v.GetDuration("http.write_timeout"),
			IdleTimeout:         v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:      v.GetInt("http.max_header_bytes"),
			MaxBodySize:         v.GetInt64("http.max_body_size"),
			RateLimitEnabled:    v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:        v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:      v.GetInt("http.rate_limit_burst"),
			CORSAllowOrigins:    v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:    v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:    v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:      v.GetStringSlice("http.trusted_proxies"),
			StatsStreamInterval: v.GetDuration("http.stats_stream_interval"),
		},
		Delivery: DeliveryConfig{
			ProcessorEnabled:       v.GetBool("delivery.processor_enabled"),
			BatchSize:              v.GetInt("delivery.batch_size"),
			PollInterval:           v.GetDuration("delivery.poll_interval"),
			StaleProcessingTimeout: v.GetDuration("delivery.stale_processing_timeout"),
			CleanupEnabled:         v.GetBool("delivery.cleanup_enabled"),
			CleanupRetention:       v.GetDuration("delivery.cleanup_retention"),
			CleanupInterval:        v.GetDuration("delivery.cleanup_interval"),
			RetryStrategy:          v.GetString("delivery.retry_strategy"),
			MaxRetries:             v.GetInt("delivery.max_retries"),
			InitialDelay:           v.GetDuration("delivery.initial_delay"),
			MaxDelay:               v.GetDuration("delivery.max_delay"),
			BackoffMultiplier:      v.GetFloat64("delivery.backoff_multiplier"),
			RetryOnErrors:          v.GetStringSlice("delivery.retry_on_errors"),
			DeadLetterOnErrors:     v.GetStringSlice("delivery.dead_letter_on_errors"),
		},
		MLLP: MLLPConfig{
			ListenEnabled:      v.GetBool("mllp.listen_enabled"),
			ListenAddress:      v.GetString("mllp.listen_address"),
			InboundCharset:     v.GetString("mllp.inbound_charset"),
			DefaultDestination: v.GetString("mllp.default_destination"),
			Routes:             v.GetStringMapString("mllp.routes"),
			DialTimeout:        v.GetDuration("mllp.dial_timeout"),
			AckTimeout:         v.GetDuration("mllp.ack_timeout"),
			ReadTimeout:        v.GetDuration("mllp.read_timeout"),
			MaxMessageSize:     v.GetInt("mllp.max_message_size"),
		},
		Monitor: MonitorConfig{
			Enabled:         v.GetBool("monitor.enabled"),
			Interval:        v.GetDuration("monitor.interval"),
			BacklogWarning:  v.GetInt64("monitor.backlog_warning"),
			BacklogCritical: v.GetInt64("monitor.backlog_critical"),
			AgeThreshold:    v.GetDuration("monitor.age_threshold"),
		},
		SLO: SLOConfig{
			DeliveryBridgeEnabled: v.GetBool("slo.delivery_bridge_enabled"),
			DeliveryTarget:        v.GetFloat64("slo.delivery_target"),
			FlushInterval:         v.GetDuration("slo.flush_interval"),
			SweepEnabled:          v.GetBool("slo.sweep_enabled"),
			SweepInterval:         v.GetDuration("slo.sweep_interval"),
			ReportCron:            v.GetString("slo.report_cron"),
		},
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			ForcePathStyle:    v.GetBool("storage.force_path_style"),
			Prefix:            v.GetString("storage.prefix"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsExporter:   v.GetString("telemetry.metrics_exporter"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeAddress:  v.GetString("telemetry.pyroscope_address"),
		},
	}

	if err := v.UnmarshalKey("auth.operators", &cfg.Auth.Operators); err != nil {
		return nil, fmt.Errorf("error reading auth.operators: %w", err)
	}
	if err := v.UnmarshalKey("mllp.destinations", &cfg.MLLP.Destinations); err != nil {
		return nil, fmt.Errorf("error reading mllp.destinations: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sentinel"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "sentinel"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = "memory"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.KeyPrefix == "" {
		cfg.Idempotency.KeyPrefix = "sentinel:submit:"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 8 * time.Hour
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "sentinel"
	}
	for i := range cfg.Auth.Operators {
		if cfg.Auth.Operators[i].Role == "" {
			cfg.Auth.Operators[i].Role = "viewer"
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 4 << 20 // 4MB
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 20
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 40
	}
	// No CORS origin default: cross-origin requests stay blocked until configured
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.HTTP.StatsStreamInterval == 0 {
		cfg.HTTP.StatsStreamInterval = 5 * time.Second
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 10
	}
	if cfg.Delivery.PollInterval == 0 {
		cfg.Delivery.PollInterval = 5 * time.Second
	}
	if cfg.Delivery.StaleProcessingTimeout == 0 {
		cfg.Delivery.StaleProcessingTimeout = 5 * time.Minute
	}
	if cfg.Delivery.CleanupRetention == 0 {
		cfg.Delivery.CleanupRetention = 7 * 24 * time.Hour
	}
	if cfg.Delivery.CleanupInterval == 0 {
		cfg.Delivery.CleanupInterval = time.Hour
	}
	if cfg.Delivery.RetryStrategy == "" {
		cfg.Delivery.RetryStrategy = "exponential_backoff"
	}
	if cfg.Delivery.MaxRetries == 0 {
		cfg.Delivery.MaxRetries = 3
	}
	if cfg.Delivery.InitialDelay == 0 {
		cfg.Delivery.InitialDelay = 60 * time.Second
	}
	if cfg.Delivery.MaxDelay == 0 {
		cfg.Delivery.MaxDelay = time.Hour
	}
	if cfg.Delivery.BackoffMultiplier == 0 {
		cfg.Delivery.BackoffMultiplier = 2.0
	}
	if cfg.MLLP.ListenAddress == "" {
		cfg.MLLP.ListenAddress = ":2575"
	}
	if cfg.MLLP.DialTimeout == 0 {
		cfg.MLLP.DialTimeout = 10 * time.Second
	}
	if cfg.MLLP.AckTimeout == 0 {
		cfg.MLLP.AckTimeout = 30 * time.Second
	}
	if cfg.MLLP.ReadTimeout == 0 {
		cfg.MLLP.ReadTimeout = 5 * time.Minute
	}
	if cfg.MLLP.MaxMessageSize == 0 {
		cfg.MLLP.MaxMessageSize = 1 << 20
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 30 * time.Second
	}
	if cfg.Monitor.BacklogWarning == 0 {
		cfg.Monitor.BacklogWarning = 500
	}
	if cfg.Monitor.BacklogCritical == 0 {
		cfg.Monitor.BacklogCritical = 2000
	}
	if cfg.Monitor.AgeThreshold == 0 {
		cfg.Monitor.AgeThreshold = 300 * time.Second
	}
	if cfg.SLO.DeliveryTarget == 0 {
		cfg.SLO.DeliveryTarget = 99.0
	}
	if cfg.SLO.FlushInterval == 0 {
		cfg.SLO.FlushInterval = time.Minute
	}
	if cfg.SLO.SweepInterval == 0 {
		cfg.SLO.SweepInterval = 5 * time.Minute
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "dead-letter"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sentinel"
	}
	if cfg.Telemetry.MetricsExporter == "" {
		cfg.Telemetry.MetricsExporter = "prometheus"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 15 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Idempotency.Backend {
	case "redis", "badger", "memory":
	default:
		return fmt.Errorf("idempotency.backend must be one of redis, badger, memory, got %q", c.Idempotency.Backend)
	}

	switch c.Delivery.RetryStrategy {
	case "immediate", "exponential_backoff", "fixed_interval", "custom":
	default:
		return fmt.Errorf("delivery.retry_strategy %q is not supported", c.Delivery.RetryStrategy)
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries cannot be negative")
	}
	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("delivery.batch_size cannot be negative")
	}
	if c.Delivery.MaxDelay < c.Delivery.InitialDelay {
		return fmt.Errorf("delivery.max_delay (%s) cannot be less than delivery.initial_delay (%s)",
			c.Delivery.MaxDelay, c.Delivery.InitialDelay)
	}

	names := make(map[string]bool, len(c.MLLP.Destinations))
	for _, d := range c.MLLP.Destinations {
		if d.Name == "" || d.Address == "" {
			return fmt.Errorf("mllp.destinations entries need both name and address")
		}
		if names[d.Name] {
			return fmt.Errorf("mllp destination %q is defined twice", d.Name)
		}
		names[d.Name] = true
	}

	if c.Monitor.BacklogWarning > c.Monitor.BacklogCritical {
		return fmt.Errorf("monitor.backlog_warning (%d) cannot exceed monitor.backlog_critical (%d)",
			c.Monitor.BacklogWarning, c.Monitor.BacklogCritical)
	}

	if c.SLO.DeliveryTarget <= 0 || c.SLO.DeliveryTarget >= 100 {
		return fmt.Errorf("slo.delivery_target must be between 0 and 100 exclusive, got %v", c.SLO.DeliveryTarget)
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	switch c.Telemetry.MetricsExporter {
	case "otlp", "prometheus":
	default:
		return fmt.Errorf("telemetry.metrics_exporter must be otlp or prometheus, got %q", c.Telemetry.MetricsExporter)
	}

	for _, op := range c.Auth.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			return fmt.Errorf("auth.operators entries need username and password_hash")
		}
		if op.Role != "operator" && op.Role != "viewer" {
			return fmt.Errorf("auth operator %q has unknown role %q", op.Username, op.Role)
		}
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Idempotency.Backend == "memory" {
			return fmt.Errorf("idempotency.backend cannot be memory in production, duplicates would slip through after a restart")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Destination returns the named MLLP destination
func (m *MLLPConfig) Destination(name string) (DestinationConfig, bool) {
	for _, d := range m.Destinations {
		if d.Name == name {
			return d, true
		}
	}
	return DestinationConfig{}, false
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
