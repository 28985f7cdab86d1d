package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	Store       StoreConfig
	Lease       LeaseConfig
	AWS         AWSConfig
	Dispatch    DispatchConfig
	Bagy        GatewayConfig
	MelhorEnvio GatewayConfig
	Sender      SenderConfig
	Shipping    ShippingConfig
	Tracker     TrackerConfig
	Resilience  ResilienceConfig
}

// AppConfig holds process-level settings
type AppConfig struct {
	Name               string
	Port               string
	RunMode            string // server, lambda
	TestWebhookEnabled bool
	ShutdownTimeout    time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// StoreConfig selects and configures the order store backend
type StoreConfig struct {
	Driver      string // memory, sqlite, postgres, dynamodb
	DBPath      string // sqlite file
	DatabaseURL string // postgres DSN
	OrdersTable string // dynamodb table
}

// LeaseConfig selects the per-order execution lease backend
type LeaseConfig struct {
	Driver   string // memory, redis, dynamodb
	Table    string
	RedisURL string
	TTL      time.Duration
}

// AWSConfig holds shared AWS client settings
type AWSConfig struct {
	Region           string
	Endpoint         string
	MetricsNamespace string // CloudWatch namespace; empty disables reporting
}

// DispatchConfig controls how shipment workflows are scheduled
type DispatchConfig struct {
	Mode     string // inline, pool, sqs
	Workers  int
	QueueURL string
}

// GatewayConfig holds a remote platform's credentials and base URL
type GatewayConfig struct {
	Token string
	Base  string
}

// SenderConfig is the fixed sender profile sent with every shipment
type SenderConfig struct {
	Name       string
	Phone      string
	Email      string
	Document   string
	Address    string
	Complement string
	Number     string
	District   string
	City       string
	State      string
	Zipcode    string
}

// ShippingConfig holds the shipment workflow policy
type ShippingConfig struct {
	ServiceID      int // 1 PAC, 2 SEDEX, 3 PAC Mini
	MaxRetries     int
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	TriggerStatus  string
}

// TrackerConfig holds background loop intervals
type TrackerConfig struct {
	Interval      time.Duration
	RetryInterval time.Duration
}

// ResilienceConfig tunes outbound rate limiting and circuit breaking
type ResilienceConfig struct {
	RateLimit        float64 // requests per second per gateway
	RateBurst        int
	BreakerFailures  uint32
	BreakerOpenAfter time.Duration
}

// ServiceNames maps carrier service ids to display names.
var ServiceNames = map[int]string{1: "PAC", 2: "SEDEX", 3: "PAC Mini"}

// ServiceName returns the display name of the configured service.
func (c ShippingConfig) ServiceName() string {
	if name, ok := ServiceNames[c.ServiceID]; ok {
		return name
	}
	return "Unknown"
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"app.port":                 "PORT",
	"app.run_mode":             "RUN_MODE",
	"app.test_webhook_enabled": "TEST_WEBHOOK_ENABLED",
	"app.shutdown_timeout":     "SHUTDOWN_TIMEOUT",
	"log.level":                "LOG_LEVEL",
	"log.format":               "LOG_FORMAT",
	"log.output":               "LOG_OUTPUT",
	"store.driver":             "STORE_DRIVER",
	"store.db_path":            "DB_PATH",
	"store.database_url":       "DATABASE_URL",
	"store.orders_table":       "ORDERS_TABLE",
	"lease.driver":             "LEASE_DRIVER",
	"lease.table":              "IDEMPOTENCY_TABLE",
	"lease.redis_url":          "REDIS_URL",
	"lease.ttl":                "LEASE_TTL",
	"aws.region":               "AWS_REGION",
	"aws.endpoint":             "AWS_ENDPOINT",
	"aws.metrics_namespace":    "METRICS_NAMESPACE",
	"dispatch.mode":            "DISPATCH_MODE",
	"dispatch.workers":         "DISPATCH_WORKERS",
	"dispatch.queue_url":       "ORDERS_QUEUE_URL",
	"bagy.token":               "BAGY_TOKEN",
	"bagy.base":                "BAGY_BASE",
	"melhorenvio.token":        "MELHORENVIO_TOKEN",
	"melhorenvio.base":         "MELHORENVIO_BASE",
	"sender.name":              "SENDER_NAME",
	"sender.phone":             "SENDER_PHONE",
	"sender.email":             "SENDER_EMAIL",
	"sender.document":          "SENDER_DOCUMENT",
	"sender.address":           "SENDER_ADDRESS",
	"sender.complement":        "SENDER_COMPLEMENT",
	"sender.number":            "SENDER_NUMBER",
	"sender.district":          "SENDER_DISTRICT",
	"sender.city":              "SENDER_CITY",
	"sender.state":             "SENDER_STATE",
	"sender.zipcode":           "SENDER_ZIPCODE",
	"shipping.service_id":      "SERVICE_ID",
	"shipping.max_retries":     "MAX_RETRIES",
	"shipping.request_timeout": "REQUEST_TIMEOUT",
	"shipping.backoff_base":    "BACKOFF_BASE",
	"shipping.backoff_max":     "BACKOFF_MAX",
	"shipping.trigger_status":  "TRIGGER_STATUS",
	"tracker.interval":         "TRACKER_INTERVAL",
	"tracker.retry_interval":   "RETRY_INTERVAL",
	"resilience.rate_limit":    "GATEWAY_RATE_LIMIT",
	"resilience.rate_burst":    "GATEWAY_RATE_BURST",
	"resilience.breaker_fails": "BREAKER_FAILURES",
	"resilience.breaker_open":  "BREAKER_OPEN_TIMEOUT",
}

// Load loads configuration from an optional config file and environment variables
// Priority (highest to lowest):
// 1. Environment variables (e.g., BAGY_TOKEN, TRACKER_INTERVAL)
// 2. config.yaml / config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	v.SetDefault("app.test_webhook_enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name:               v.GetString("app.name"),
			Port:               v.GetString("app.port"),
			RunMode:            strings.ToLower(v.GetString("app.run_mode")),
			TestWebhookEnabled: v.GetBool("app.test_webhook_enabled"),
			ShutdownTimeout:    seconds(v, "app.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			DBPath:      v.GetString("store.db_path"),
			DatabaseURL: v.GetString("store.database_url"),
			OrdersTable: v.GetString("store.orders_table"),
		},
		Lease: LeaseConfig{
			Driver:   strings.ToLower(v.GetString("lease.driver")),
			Table:    v.GetString("lease.table"),
			RedisURL: v.GetString("lease.redis_url"),
			TTL:      seconds(v, "lease.ttl"),
		},
		AWS: AWSConfig{
			Region:           v.GetString("aws.region"),
			Endpoint:         v.GetString("aws.endpoint"),
			MetricsNamespace: v.GetString("aws.metrics_namespace"),
		},
		Dispatch: DispatchConfig{
			Mode:     strings.ToLower(v.GetString("dispatch.mode")),
			Workers:  v.GetInt("dispatch.workers"),
			QueueURL: v.GetString("dispatch.queue_url"),
		},
		Bagy: GatewayConfig{
			Token: v.GetString("bagy.token"),
			Base:  strings.TrimRight(v.GetString("bagy.base"), "/"),
		},
		MelhorEnvio: GatewayConfig{
			Token: v.GetString("melhorenvio.token"),
			Base:  strings.TrimRight(v.GetString("melhorenvio.base"), "/"),
		},
		Sender: SenderConfig{
			Name:       v.GetString("sender.name"),
			Phone:      v.GetString("sender.phone"),
			Email:      v.GetString("sender.email"),
			Document:   v.GetString("sender.document"),
			Address:    v.GetString("sender.address"),
			Complement: v.GetString("sender.complement"),
			Number:     v.GetString("sender.number"),
			District:   v.GetString("sender.district"),
			City:       v.GetString("sender.city"),
			State:      v.GetString("sender.state"),
			Zipcode:    v.GetString("sender.zipcode"),
		},
		Shipping: ShippingConfig{
			ServiceID:      v.GetInt("shipping.service_id"),
			MaxRetries:     v.GetInt("shipping.max_retries"),
			RequestTimeout: seconds(v, "shipping.request_timeout"),
			BackoffBase:    seconds(v, "shipping.backoff_base"),
			BackoffMax:     seconds(v, "shipping.backoff_max"),
			TriggerStatus:  v.GetString("shipping.trigger_status"),
		},
		Tracker: TrackerConfig{
			Interval:      seconds(v, "tracker.interval"),
			RetryInterval: seconds(v, "tracker.retry_interval"),
		},
		Resilience: ResilienceConfig{
			RateLimit:        v.GetFloat64("resilience.rate_limit"),
			RateBurst:        v.GetInt("resilience.rate_burst"),
			BreakerFailures:  v.GetUint32("resilience.breaker_fails"),
			BreakerOpenAfter: seconds(v, "resilience.breaker_open"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// seconds reads a duration given either as a bare number of seconds
// ("600") or as a Go duration string ("10m").
func seconds(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fulfillment-sync"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "3000"
	}
	if cfg.App.RunMode == "" {
		cfg.App.RunMode = "server"
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = "data.db"
	}
	if cfg.Store.OrdersTable == "" {
		cfg.Store.OrdersTable = "orders"
	}
	if cfg.Lease.Driver == "" {
		cfg.Lease.Driver = "memory"
	}
	if cfg.Lease.Table == "" {
		cfg.Lease.Table = "order-leases"
	}
	if cfg.Lease.TTL == 0 {
		cfg.Lease.TTL = 2 * time.Minute
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Dispatch.Mode == "" {
		cfg.Dispatch.Mode = "pool"
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Bagy.Base == "" {
		cfg.Bagy.Base = "https://api.dooca.store"
	}
	if cfg.MelhorEnvio.Base == "" {
		cfg.MelhorEnvio.Base = "https://melhorenvio.com.br/api/v2"
	}
	applySenderDefaults(&cfg.Sender)
	if cfg.Shipping.ServiceID == 0 {
		cfg.Shipping.ServiceID = 2 // SEDEX
	}
	if cfg.Shipping.MaxRetries == 0 {
		cfg.Shipping.MaxRetries = 3
	}
	if cfg.Shipping.RequestTimeout == 0 {
		cfg.Shipping.RequestTimeout = 30 * time.Second
	}
	if cfg.Shipping.BackoffBase == 0 {
		cfg.Shipping.BackoffBase = 30 * time.Second
	}
	if cfg.Shipping.BackoffMax == 0 {
		cfg.Shipping.BackoffMax = 30 * time.Minute
	}
	if cfg.Shipping.TriggerStatus == "" {
		cfg.Shipping.TriggerStatus = "invoiced"
	}
	if cfg.Tracker.Interval == 0 {
		cfg.Tracker.Interval = 600 * time.Second
	}
	if cfg.Tracker.RetryInterval == 0 {
		cfg.Tracker.RetryInterval = 30 * time.Second
	}
	if cfg.Resilience.RateLimit == 0 {
		cfg.Resilience.RateLimit = 5
	}
	if cfg.Resilience.RateBurst == 0 {
		cfg.Resilience.RateBurst = 10
	}
	if cfg.Resilience.BreakerFailures == 0 {
		cfg.Resilience.BreakerFailures = 5
	}
	if cfg.Resilience.BreakerOpenAfter == 0 {
		cfg.Resilience.BreakerOpenAfter = 60 * time.Second
	}
}

func applySenderDefaults(s *SenderConfig) {
	if s.Name == "" {
		s.Name = "Loja Aurea Dress"
	}
	if s.Phone == "" {
		s.Phone = "11999999999"
	}
	if s.Email == "" {
		s.Email = "contato@aureadress.com"
	}
	if s.Address == "" {
		s.Address = "Rua Exemplo, 123"
	}
	if s.Number == "" {
		s.Number = "123"
	}
	if s.District == "" {
		s.District = "Centro"
	}
	if s.City == "" {
		s.City = "São Paulo"
	}
	if s.State == "" {
		s.State = "SP"
	}
	if s.Zipcode == "" {
		s.Zipcode = "03320-001"
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	switch c.App.RunMode {
	case "server", "lambda":
	default:
		return fmt.Errorf("app.run_mode must be server or lambda, got %q", c.App.RunMode)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "dynamodb":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Lease.Driver {
	case "memory", "dynamodb":
	case "redis":
		if c.Lease.RedisURL == "" {
			return fmt.Errorf("lease.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported lease driver %q", c.Lease.Driver)
	}
	switch c.Dispatch.Mode {
	case "inline", "pool":
	case "sqs":
		if c.Dispatch.QueueURL == "" {
			return fmt.Errorf("dispatch.queue_url is required for sqs dispatch")
		}
	default:
		return fmt.Errorf("unsupported dispatch mode %q", c.Dispatch.Mode)
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers cannot be negative")
	}
	if c.Shipping.MaxRetries < 1 {
		return fmt.Errorf("shipping.max_retries must be at least 1, got %d", c.Shipping.MaxRetries)
	}
	if c.Shipping.RequestTimeout <= 0 {
		return fmt.Errorf("shipping.request_timeout must be positive")
	}
	if c.Shipping.BackoffMax < c.Shipping.BackoffBase {
		return fmt.Errorf("shipping.backoff_max (%s) cannot be below shipping.backoff_base (%s)",
			c.Shipping.BackoffMax, c.Shipping.BackoffBase)
	}
	if c.Tracker.Interval <= 0 || c.Tracker.RetryInterval <= 0 {
		return fmt.Errorf("tracker intervals must be positive")
	}
	if c.Resilience.RateLimit < 0 {
		return fmt.Errorf("resilience.rate_limit cannot be negative")
	}
	return nil
}

// TokensConfigured reports whether both remote platforms have credentials.
func (c *Config) TokensConfigured() bool {
	return c.Bagy.Token != "" && c.MelhorEnvio.Token != ""
}
