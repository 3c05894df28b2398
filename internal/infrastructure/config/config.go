package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Push transport kinds
const (
	TransportPusher = "pusher"
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all gateway configuration
type Config struct {
	App       AppConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Remote    RemoteConfig
	Realtime  RealtimeConfig
	Session   SessionConfig
	Access    AccessConfig
	Cache     CacheConfig
	Swagger   SwaggerConfig
	Telemetry TelemetryConfig
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

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the settings used to verify dashboard access tokens
type JWTConfig struct {
	Secret     string
	Issuer     string
	CookieName string // cookie carrying the token when no Authorization header is sent
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// RemoteConfig holds the core API endpoints the gateway calls on behalf of
// the signed-in user
type RemoteConfig struct {
	BaseURL         string
	PermissionsPath string
	StatusPath      string
	BordereauPath   string // %d is replaced by the subscriber id
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// PusherConfig holds the broadcast server connection settings
type PusherConfig struct {
	Host    string // overrides the cluster host when set (self-hosted servers)
	Key     string
	Cluster string
	Secure  bool
}

// RealtimeConfig holds push subscription settings
type RealtimeConfig struct {
	Transport     string // pusher, redis, memory
	EventName     string
	RecipientRole int
	Pusher        PusherConfig
	ChannelPrefix string // Redis channel prefix
}

// SessionConfig holds browser session settings
type SessionConfig struct {
	CookieName    string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// AccessConfig holds permission store settings
type AccessConfig struct {
	ReadyTimeout time.Duration // how long requests wait for the first permission load
}

// CacheConfig holds query cache settings
type CacheConfig struct {
	Backend               string // memory, redis
	DefaultTTL            time.Duration
	LedgerTTL             time.Duration
	AllowInMemoryFallback bool
}

// SwaggerConfig holds the API documentation endpoint configuration
type SwaggerConfig struct {
	Enabled    bool     // Serve /swagger; defaults to on
	AllowedIPs []string // IP or CIDR allow list (empty = allow all)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to enable OpenTelemetry
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64       // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string        // Service name for traces
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration // Metric export interval
	LogsEnabled       bool          // Export logs over OTLP next to console output
	ProfilingEnabled  bool          // Continuous profiling with Pyroscope
	ProfilerAddress   string        // Pyroscope server (e.g., "http://localhost:4040")
	ProfileTypes      []string      // Pyroscope profile names, empty for the defaults
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BPC_ prefix (e.g., BPC_JWT_SECRET)
// 2. .env file in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("BPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Issuer:     v.GetString("jwt.issuer"),
			CookieName: v.GetString("jwt.cookie_name"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Remote: RemoteConfig{
			BaseURL:         v.GetString("remote.base_url"),
			PermissionsPath: v.GetString("remote.permissions_path"),
			StatusPath:      v.GetString("remote.status_path"),
			BordereauPath:   v.GetString("remote.bordereau_path"),
			Timeout:         v.GetDuration("remote.timeout"),
			RetryMaxElapsed: v.GetDuration("remote.retry_max_elapsed"),
		},
		Realtime: RealtimeConfig{
			Transport:     v.GetString("realtime.transport"),
			EventName:     v.GetString("realtime.event_name"),
			RecipientRole: v.GetInt("realtime.recipient_role"),
			ChannelPrefix: v.GetString("realtime.channel_prefix"),
			Pusher: PusherConfig{
				Host:    v.GetString("realtime.pusher.host"),
				Key:     v.GetString("realtime.pusher.key"),
				Cluster: v.GetString("realtime.pusher.cluster"),
				Secure:  v.GetBool("realtime.pusher.secure"),
			},
		},
		Session: SessionConfig{
			CookieName:    v.GetString("session.cookie_name"),
			IdleTimeout:   v.GetDuration("session.idle_timeout"),
			SweepInterval: v.GetDuration("session.sweep_interval"),
		},
		Access: AccessConfig{
			ReadyTimeout: v.GetDuration("access.ready_timeout"),
		},
		Cache: CacheConfig{
			Backend:               v.GetString("cache.backend"),
			DefaultTTL:            v.GetDuration("cache.default_ttl"),
			LedgerTTL:             v.GetDuration("cache.ledger_ttl"),
			AllowInMemoryFallback: !v.IsSet("cache.allow_in_memory_fallback") || v.GetBool("cache.allow_in_memory_fallback"),
		},
		Swagger: SwaggerConfig{
			Enabled:    !v.IsSet("swagger.enabled") || v.GetBool("swagger.enabled"),
			AllowedIPs: v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilerAddress:   v.GetString("telemetry.profiler_address"),
			ProfileTypes:      v.GetStringSlice("telemetry.profile_types"),
		},
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
		cfg.App.Name = "bordereau-console"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.CookieName == "" {
		cfg.JWT.CookieName = "access_token"
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
	// WriteTimeout stays zero by default: SSE streams hold the response open
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://localhost:8000"
	}
	if cfg.Remote.PermissionsPath == "" {
		cfg.Remote.PermissionsPath = "/api/permissions"
	}
	if cfg.Remote.StatusPath == "" {
		cfg.Remote.StatusPath = "/api/bpc/status/current"
	}
	if cfg.Remote.BordereauPath == "" {
		cfg.Remote.BordereauPath = "/api/bpc/%d/bordereau/current"
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 10 * time.Second
	}
	if cfg.Remote.RetryMaxElapsed == 0 {
		cfg.Remote.RetryMaxElapsed = 15 * time.Second
	}
	if cfg.Realtime.Transport == "" {
		cfg.Realtime.Transport = TransportPusher
	}
	if cfg.Realtime.EventName == "" {
		cfg.Realtime.EventName = "BpcNotification"
	}
	if cfg.Realtime.RecipientRole == 0 {
		cfg.Realtime.RecipientRole = 3
	}
	if cfg.Realtime.Pusher.Cluster == "" {
		cfg.Realtime.Pusher.Cluster = "mt1"
	}
	if cfg.Realtime.ChannelPrefix == "" {
		cfg.Realtime.ChannelPrefix = "console:push:"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "console_session"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = time.Minute
	}
	if cfg.Access.ReadyTimeout == 0 {
		cfg.Access.ReadyTimeout = 5 * time.Second
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendMemory
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 10 * time.Minute
	}
	if cfg.Cache.LedgerTTL == 0 {
		cfg.Cache.LedgerTTL = 24 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "bordereau-console"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.ProfilerAddress == "" {
		cfg.Telemetry.ProfilerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("remote.base_url is not a valid URL: %w", err)
	}
	if strings.Count(c.Remote.BordereauPath, "%d") != 1 || strings.Count(c.Remote.BordereauPath, "%") != 1 {
		return fmt.Errorf("remote.bordereau_path must contain exactly one %%d for the subscriber id, got %q", c.Remote.BordereauPath)
	}

	switch c.Realtime.Transport {
	case TransportPusher:
		if c.Realtime.Pusher.Key == "" && c.App.Env != "development" {
			return fmt.Errorf("realtime.pusher.key is required for the pusher transport")
		}
	case TransportRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("realtime.transport=redis requires redis.enabled=true")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("realtime.transport must be one of pusher, redis, memory, got %q", c.Realtime.Transport)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}

	if c.Session.IdleTimeout < c.Session.SweepInterval {
		return fmt.Errorf("session.idle_timeout (%s) cannot be shorter than session.sweep_interval (%s)",
			c.Session.IdleTimeout, c.Session.SweepInterval)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Realtime.Transport == TransportMemory {
			return fmt.Errorf("realtime.transport=memory is not allowed in production")
		}
		if c.Swagger.Enabled && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger must be disabled or restricted with swagger.allowed_ips in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Addr returns the Redis address as host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
