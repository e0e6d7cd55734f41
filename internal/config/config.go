package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	PAAPI      PAAPIConfig
	AliExpress AliExpressConfig
	Refresh    RefreshConfig
	Cache      CacheConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	DB                    string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// DSN returns a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DB, sslMode)
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	PoolSize  int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PAAPIConfig configures the signed Product Advertising API client.
type PAAPIConfig struct {
	AccessKey  string
	SecretKey  string
	PartnerTag string

	Scheme  string
	Host    string
	Region  string
	Service string

	Marketplace string
	Currency    string
	Language    string
	SearchIndex string

	MinRequestInterval time.Duration
	MaxRetries         int
	BackoffUnit        time.Duration
	HTTPTimeout        time.Duration

	// DistributedRateLimit gates dispatch through Redis so replicas share
	// one request/interval budget.
	DistributedRateLimit bool
	RateLimitKey         string
}

type AliExpressConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type RefreshConfig struct {
	Interval            time.Duration
	Pages               int
	PageSize            int
	ContinueOnPageError bool
	SessionCookie       string
}

type CacheConfig struct {
	SearchTTL time.Duration
}

type LoggingConfig struct {
	Level    string
	Encoding string
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
}

func LoadConfig() (*Config, error) {
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "10s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "2m")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_SSL_MODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNECTIONS", 10)
	viper.SetDefault("POSTGRES_MAX_IDLE_CONNECTIONS", 5)
	viper.SetDefault("POSTGRES_CONNECTION_MAX_LIFETIME", "1h")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_KEY_PREFIX", "pricecompare")
	viper.SetDefault("PAAPI_SCHEME", "https")
	viper.SetDefault("PAAPI_HOST", "webservices.amazon.com")
	viper.SetDefault("PAAPI_REGION", "us-east-1")
	viper.SetDefault("PAAPI_SERVICE", "ProductAdvertisingAPI")
	viper.SetDefault("PAAPI_MARKETPLACE", "www.amazon.com")
	viper.SetDefault("PAAPI_CURRENCY", "USD")
	viper.SetDefault("PAAPI_LANGUAGE", "en_US")
	viper.SetDefault("PAAPI_SEARCH_INDEX", "All")
	viper.SetDefault("PAAPI_MIN_REQUEST_INTERVAL", "1s") // provider ceiling is 1 req/s
	viper.SetDefault("PAAPI_MAX_RETRIES", 3)
	viper.SetDefault("PAAPI_BACKOFF_UNIT", "1s")
	viper.SetDefault("PAAPI_HTTP_TIMEOUT", "10s")
	viper.SetDefault("PAAPI_RATE_LIMIT_KEY", "paapi:dispatch")
	viper.SetDefault("ALIEXPRESS_BASE_URL", "https://api.aliexpress.com")
	viper.SetDefault("ALIEXPRESS_TIMEOUT", "10s")
	viper.SetDefault("REFRESH_INTERVAL", "1h")
	viper.SetDefault("REFRESH_PAGES", 2)
	viper.SetDefault("REFRESH_PAGE_SIZE", 5)
	viper.SetDefault("REFRESH_CONTINUE_ON_PAGE_ERROR", true)
	viper.SetDefault("REFRESH_SESSION_COOKIE", "pc_session")
	viper.SetDefault("CACHE_SEARCH_TTL", "0s")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_ENCODING", "json")
	viper.SetDefault("TRACING_SERVICE_NAME", "price-compare")
	viper.SetDefault("TRACING_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLING_RATE", 1.0)

	readTimeout, err := parseDurationWithDefault(viper.GetString("SERVER_READ_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := parseDurationWithDefault(viper.GetString("SERVER_WRITE_TIMEOUT"), 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	minInterval, err := parseDurationWithDefault(viper.GetString("PAAPI_MIN_REQUEST_INTERVAL"), time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PAAPI_MIN_REQUEST_INTERVAL: %w", err)
	}
	backoffUnit, err := parseDurationWithDefault(viper.GetString("PAAPI_BACKOFF_UNIT"), time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PAAPI_BACKOFF_UNIT: %w", err)
	}
	refreshInterval, err := parseDurationWithDefault(viper.GetString("REFRESH_INTERVAL"), time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}
	searchTTL, err := parseDurationWithDefault(viper.GetString("CACHE_SEARCH_TTL"), 0)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SEARCH_TTL: %w", err)
	}
	paapiTimeout, err := parseDurationWithDefault(viper.GetString("PAAPI_HTTP_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PAAPI_HTTP_TIMEOUT: %w", err)
	}
	aliexpressTimeout, err := parseDurationWithDefault(viper.GetString("ALIEXPRESS_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ALIEXPRESS_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetInt("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		Postgres: func() PostgresConfig {
			connMaxLifetime, _ := parseDurationWithDefault(viper.GetString("POSTGRES_CONNECTION_MAX_LIFETIME"), time.Hour)
			return PostgresConfig{
				Host:                  viper.GetString("POSTGRES_HOST"),
				Port:                  viper.GetInt("POSTGRES_PORT"),
				User:                  viper.GetString("POSTGRES_USER"),
				Password:              viper.GetString("POSTGRES_PASSWORD"),
				DB:                    viper.GetString("POSTGRES_DB"),
				SSLMode:               viper.GetString("POSTGRES_SSL_MODE"),
				MaxConnections:        viper.GetInt("POSTGRES_MAX_CONNECTIONS"),
				MaxIdleConnections:    viper.GetInt("POSTGRES_MAX_IDLE_CONNECTIONS"),
				ConnectionMaxLifetime: connMaxLifetime,
			}
		}(),
		Redis: RedisConfig{
			Host:      viper.GetString("REDIS_HOST"),
			Port:      viper.GetInt("REDIS_PORT"),
			Password:  viper.GetString("REDIS_PASSWORD"),
			DB:        viper.GetInt("REDIS_DB"),
			KeyPrefix: viper.GetString("REDIS_KEY_PREFIX"),
			PoolSize:  viper.GetInt("REDIS_POOL_SIZE"),
		},
		PAAPI: PAAPIConfig{
			AccessKey:            viper.GetString("PAAPI_ACCESS_KEY"),
			SecretKey:            viper.GetString("PAAPI_SECRET_KEY"),
			PartnerTag:           viper.GetString("PAAPI_PARTNER_TAG"),
			Scheme:               viper.GetString("PAAPI_SCHEME"),
			Host:                 viper.GetString("PAAPI_HOST"),
			Region:               viper.GetString("PAAPI_REGION"),
			Service:              viper.GetString("PAAPI_SERVICE"),
			Marketplace:          viper.GetString("PAAPI_MARKETPLACE"),
			Currency:             viper.GetString("PAAPI_CURRENCY"),
			Language:             viper.GetString("PAAPI_LANGUAGE"),
			SearchIndex:          viper.GetString("PAAPI_SEARCH_INDEX"),
			MinRequestInterval:   minInterval,
			MaxRetries:           viper.GetInt("PAAPI_MAX_RETRIES"),
			BackoffUnit:          backoffUnit,
			HTTPTimeout:          paapiTimeout,
			DistributedRateLimit: viper.GetBool("PAAPI_DISTRIBUTED_RATE_LIMIT"),
			RateLimitKey:         viper.GetString("PAAPI_RATE_LIMIT_KEY"),
		},
		AliExpress: AliExpressConfig{
			Enabled: viper.GetBool("ALIEXPRESS_ENABLED"),
			APIKey:  viper.GetString("ALIEXPRESS_API_KEY"),
			BaseURL: viper.GetString("ALIEXPRESS_BASE_URL"),
			Timeout: aliexpressTimeout,
		},
		Refresh: RefreshConfig{
			Interval:            refreshInterval,
			Pages:               viper.GetInt("REFRESH_PAGES"),
			PageSize:            viper.GetInt("REFRESH_PAGE_SIZE"),
			ContinueOnPageError: viper.GetBool("REFRESH_CONTINUE_ON_PAGE_ERROR"),
			SessionCookie:       viper.GetString("REFRESH_SESSION_COOKIE"),
		},
		Cache: CacheConfig{
			SearchTTL: searchTTL,
		},
		Logging: LoggingConfig{
			Level:    viper.GetString("LOG_LEVEL"),
			Encoding: viper.GetString("LOG_ENCODING"),
		},
		Tracing: TracingConfig{
			Enabled:      viper.GetBool("TRACING_ENABLED"),
			ServiceName:  viper.GetString("TRACING_SERVICE_NAME"),
			OTLPEndpoint: viper.GetString("TRACING_OTLP_ENDPOINT"),
			SamplingRate: viper.GetFloat64("TRACING_SAMPLING_RATE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validatePostgres(); err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}
	if err := c.validateRedis(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	if err := c.PAAPI.Validate(); err != nil {
		return fmt.Errorf("paapi config: %w", err)
	}
	if err := c.validateAliExpress(); err != nil {
		return fmt.Errorf("aliexpress config: %w", err)
	}
	if err := c.validateRefresh(); err != nil {
		return fmt.Errorf("refresh config: %w", err)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Postgres.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Postgres.DB == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Redis.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

// maxPAAPIRetries bounds the retry budget.
const maxPAAPIRetries = 10

// Validate checks the options the signed client cannot run without. It is
// exported so the diagnose command can validate PA-API settings alone.
func (p PAAPIConfig) Validate() error {
	if p.AccessKey == "" {
		return fmt.Errorf("access key is required")
	}
	if p.SecretKey == "" {
		return fmt.Errorf("secret key is required")
	}
	if p.PartnerTag == "" {
		return fmt.Errorf("partner tag is required")
	}
	if p.Host == "" {
		return fmt.Errorf("host is required")
	}
	if p.Scheme != "http" && p.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", p.Scheme)
	}
	if p.Region == "" || p.Service == "" {
		return fmt.Errorf("region and service are required")
	}
	if p.MinRequestInterval < 0 {
		return fmt.Errorf("min request interval must not be negative")
	}
	if p.MaxRetries < 0 || p.MaxRetries > maxPAAPIRetries {
		return fmt.Errorf("max retries must be between 0 and %d", maxPAAPIRetries)
	}
	if p.BackoffUnit <= 0 {
		return fmt.Errorf("backoff unit must be greater than 0")
	}
	if p.DistributedRateLimit && p.RateLimitKey == "" {
		return fmt.Errorf("rate limit key is required when distributed rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateAliExpress() error {
	if !c.AliExpress.Enabled {
		return nil
	}
	if c.AliExpress.APIKey == "" {
		return fmt.Errorf("api key is required when aliexpress is enabled")
	}
	if c.AliExpress.BaseURL == "" {
		return fmt.Errorf("base url is required when aliexpress is enabled")
	}
	return nil
}

func (c *Config) validateRefresh() error {
	if c.Refresh.Pages <= 0 {
		return fmt.Errorf("pages must be greater than 0")
	}
	if c.Refresh.PageSize < 1 || c.Refresh.PageSize > 10 {
		return fmt.Errorf("page size must be between 1 and 10, got %d", c.Refresh.PageSize)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("interval must be greater than 0")
	}
	if c.Refresh.SessionCookie == "" {
		return fmt.Errorf("session cookie name is required")
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func parseDurationWithDefault(s string, defaultVal time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultVal, nil
	}
	return parseDuration(s)
}
