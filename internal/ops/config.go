package ops

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/gateway"
	"main/internal/position"
	"main/internal/reconcile"
	"main/internal/resilience"
	"main/pkg/conn"
)

// Config is the full runtime configuration, loaded from the environment.
// Every tunable has a sane default so a bare environment still boots against
// the public endpoints.
type Config struct {
	Exchange struct {
		BaseURL string `envconfig:"EXCHANGE_BASE_URL"`
		WsURL   string `envconfig:"EXCHANGE_WS_URL"`
		APIKey  string `envconfig:"EXCHANGE_API_KEY"`
	}

	Postgres struct {
		Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
		Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
		User     string `envconfig:"POSTGRES_USER" default:"postgres"`
		Password string `envconfig:"POSTGRES_PASSWORD"`
		Database string `envconfig:"POSTGRES_DB" default:"perp_core"`
		SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
		DSN      string `envconfig:"POSTGRES_DSN"`
	}

	Retry struct {
		MaxRetries int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
		BaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
		MaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
		Timeout    time.Duration `envconfig:"RETRY_TIMEOUT" default:"2m"`
	}

	Breaker struct {
		FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
		SuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
		ResetTimeout     time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
		MonitoringPeriod time.Duration `envconfig:"BREAKER_MONITORING_PERIOD" default:"1m"`
	}

	Cache struct {
		BookTTL    time.Duration `envconfig:"CACHE_BOOK_TTL" default:"2s"`
		TradesTTL  time.Duration `envconfig:"CACHE_TRADES_TTL" default:"10s"`
		MidsTTL    time.Duration `envconfig:"CACHE_MIDS_TTL" default:"3s"`
		CandlesTTL time.Duration `envconfig:"CACHE_CANDLES_TTL" default:"60s"`
		RingSize   int           `envconfig:"CACHE_RING_SIZE" default:"100"`
	}

	Gateway struct {
		MaxReconnectAttempts int `envconfig:"GATEWAY_MAX_RECONNECT_ATTEMPTS" default:"10"`
	}

	Bus struct {
		Capacity int `envconfig:"BUS_CAPACITY" default:"4096"`
	}

	Position struct {
		PollInterval        time.Duration `envconfig:"POSITION_POLL_INTERVAL" default:"10s"`
		MetaRefreshInterval time.Duration `envconfig:"POSITION_META_REFRESH_INTERVAL" default:"1h"`
	}

	Reconcile struct {
		Interval      time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
		SizeTolerance string        `envconfig:"RECONCILE_SIZE_TOLERANCE" default:"0.001"`
	}

	Pyroscope struct {
		Address string `envconfig:"PYROSCOPE_ADDRESS"`
		AppName string `envconfig:"PYROSCOPE_APP_NAME" default:"perp-core"`
	}
}

// Load reads .env when present, then fills the config from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "process environment")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Retry.MaxRetries < 0 {
		return errors.Errorf("RETRY_MAX_RETRIES must be >= 0")
	}
	if c.Bus.Capacity <= 0 {
		return errors.Errorf("BUS_CAPACITY must be > 0")
	}
	if _, err := decimal.NewFromString(c.Reconcile.SizeTolerance); err != nil {
		return errors.Wrap(err, "parse RECONCILE_SIZE_TOLERANCE")
	}
	return nil
}

// PostgresOption maps the config onto the connection options.
func (c Config) PostgresOption() conn.PostgresOption {
	return conn.PostgresOption{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		Database: c.Postgres.Database,
		SSLMode:  c.Postgres.SSLMode,
		DSN:      c.Postgres.DSN,
	}
}

// RetryConfig maps the config onto the retry handler tunables.
func (c Config) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
		Factor:     2.0,
		Jitter:     true,
		Timeout:    c.Retry.Timeout,
	}
}

// BreakerConfig maps the config onto the circuit-breaker tunables.
func (c Config) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		ResetTimeout:     c.Breaker.ResetTimeout,
		MonitoringPeriod: c.Breaker.MonitoringPeriod,
	}
}

// GatewayConfig maps the config onto the gateway and its cache.
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Cache: gateway.CacheConfig{
			BookTTL:    c.Cache.BookTTL,
			TradesTTL:  c.Cache.TradesTTL,
			MidsTTL:    c.Cache.MidsTTL,
			CandlesTTL: c.Cache.CandlesTTL,
			RingSize:   c.Cache.RingSize,
		},
		MaxReconnectAttempts: c.Gateway.MaxReconnectAttempts,
	}
}

// PositionConfig maps the config onto the position manager tunables.
func (c Config) PositionConfig() position.Config {
	return position.Config{
		PollInterval:        c.Position.PollInterval,
		MetaRefreshInterval: c.Position.MetaRefreshInterval,
	}
}

// ReconcileConfig maps the config onto the reconciliation tunables.
func (c Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		Interval:      c.Reconcile.Interval,
		SizeTolerance: decimal.RequireFromString(c.Reconcile.SizeTolerance),
	}
}
