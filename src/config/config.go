package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"deribit-feed/src/candle"
	"deribit-feed/src/rpc"
)

const (
	MainnetURL = "wss://www.deribit.com/ws/api/v2"
	TestnetURL = "wss://test.deribit.com/ws/api/v2"
)

type Config struct {
	Venue           VenueConfig   `yaml:"venue"`
	HTTP            HTTPConfig    `yaml:"http"`
	NATS            NATSConfig    `yaml:"nats"`
	Log             LogConfig     `yaml:"log"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type VenueConfig struct {
	URL                    string        `yaml:"url"`
	Testnet                bool          `yaml:"testnet"`
	ClientID               string        `yaml:"client_id"`
	ClientSecret           string        `yaml:"client_secret"`
	HeartbeatInterval      int           `yaml:"heartbeat_interval"` // seconds, 0 disables
	Instruments            []string      `yaml:"instruments"`
	BookInterval           string        `yaml:"book_interval"`
	TradesInterval         string        `yaml:"trades_interval"`
	Resolutions            []int         `yaml:"resolutions"` // minutes
	SubscriptionBufferSize int           `yaml:"subscription_buffer_size"`
	OverflowPolicy         string        `yaml:"overflow_policy"`
	HandshakeTimeout       time.Duration `yaml:"handshake_timeout"`
	WriteTimeout           time.Duration `yaml:"write_timeout"`
	CallTimeout            time.Duration `yaml:"call_timeout"`
}

type HTTPConfig struct {
	Port                  int             `yaml:"port"`
	DefaultDepth          int             `yaml:"default_depth"`
	MaxDepth              int             `yaml:"max_depth"`
	MaxCandles            int             `yaml:"max_candles"`
	MaxConcurrentRequests int64           `yaml:"max_concurrent_requests"`
	MaintenanceMode       bool            `yaml:"maintenance_mode"`
	RequestLogging        bool            `yaml:"request_logging"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Disabled    bool          `yaml:"disabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ClientName     string        `yaml:"client_name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Venue: VenueConfig{
			Testnet:           true,
			HeartbeatInterval: 10,
			Instruments:       []string{"ETH-PERPETUAL"},
			BookInterval:      "100ms",
			TradesInterval:    "100ms",
			Resolutions:       []int{1, 5, 60},
			OverflowPolicy:    "block",
			HandshakeTimeout:  10 * time.Second,
			WriteTimeout:      5 * time.Second,
			CallTimeout:       10 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:           8080,
			DefaultDepth:   10,
			MaxDepth:       1000,
			MaxCandles:     500,
			RequestLogging: true,
			RateLimit: RateLimitConfig{
				MaxRequests: 100,
				Window:      time.Second,
			},
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			SubjectPrefix:  "deribit",
			ConnectTimeout: 2 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  60,
		},
		Log: LogConfig{
			Level: "info",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadDotEnv loads variables from the given files into the environment. Missing files are skipped,
// variables already set win.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file '%s': %w", file, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment overrides and validates.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = parsed
		}
	}

	str("DERIBIT_URL", &c.Venue.URL)
	boolean("DERIBIT_TESTNET", &c.Venue.Testnet)
	str("DERIBIT_CLIENT_ID", &c.Venue.ClientID)
	str("DERIBIT_CLIENT_SECRET", &c.Venue.ClientSecret)
	if v, ok := os.LookupEnv("DERIBIT_INSTRUMENTS"); ok {
		c.Venue.Instruments = splitList(v)
	}
	integer("SUBSCRIPTION_BUFFER_SIZE", &c.Venue.SubscriptionBufferSize)
	str("SUBSCRIPTION_OVERFLOW", &c.Venue.OverflowPolicy)

	integer("PORT", &c.HTTP.Port)
	integer("ORDERBOOK_DEFAULT_DEPTH", &c.HTTP.DefaultDepth)
	integer("ORDERBOOK_MAX_DEPTH", &c.HTTP.MaxDepth)
	if v, ok := os.LookupEnv("MAX_CONCURRENT_REQUESTS"); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_CONCURRENT_REQUESTS: %w", err))
		} else {
			c.HTTP.MaxConcurrentRequests = parsed
		}
	}
	if os.Getenv("MAINTENANCE_MODE") == "1" {
		c.HTTP.MaintenanceMode = true
	}
	if os.Getenv("REQUEST_LOGGING_DISABLED") == "1" {
		c.HTTP.RequestLogging = false
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_DISABLED"); ok {
		c.HTTP.RateLimit.Disabled = v == "1" || strings.EqualFold(v, "true")
	}
	integer("RATE_LIMIT_MAX", &c.HTTP.RateLimit.MaxRequests)
	duration("RATE_LIMIT_WINDOW", &c.HTTP.RateLimit.Window)

	boolean("NATS_ENABLED", &c.NATS.Enabled)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &c.NATS.SubjectPrefix)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("LOG_FORMAT", &c.Log.Format)

	duration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if len(c.Venue.Instruments) == 0 {
		return fmt.Errorf("venue.instruments cannot be empty")
	}
	for i, instrument := range c.Venue.Instruments {
		if strings.TrimSpace(instrument) == "" {
			return fmt.Errorf("venue.instruments[%d] cannot be empty", i)
		}
	}
	if c.Venue.BookInterval == "" {
		return fmt.Errorf("venue.book_interval cannot be empty")
	}
	if c.Venue.TradesInterval == "" {
		return fmt.Errorf("venue.trades_interval cannot be empty")
	}
	if _, err := c.Venue.CandleResolutions(); err != nil {
		return fmt.Errorf("venue.resolutions: %w", err)
	}
	if c.Venue.HeartbeatInterval < 0 {
		return fmt.Errorf("venue.heartbeat_interval cannot be negative: %d", c.Venue.HeartbeatInterval)
	}
	// edge case: the venue rejects heartbeat intervals under 10 seconds
	if c.Venue.HeartbeatInterval > 0 && c.Venue.HeartbeatInterval < 10 {
		return fmt.Errorf("venue.heartbeat_interval must be 0 or at least 10 seconds: %d", c.Venue.HeartbeatInterval)
	}
	if c.Venue.SubscriptionBufferSize < 0 {
		return fmt.Errorf("venue.subscription_buffer_size cannot be negative: %d", c.Venue.SubscriptionBufferSize)
	}
	if _, err := rpc.ParseOverflowPolicy(c.Venue.OverflowPolicy); err != nil {
		return fmt.Errorf("venue.overflow_policy: %w", err)
	}
	if (c.Venue.ClientID == "") != (c.Venue.ClientSecret == "") {
		return fmt.Errorf("venue.client_id and venue.client_secret must be set together")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port: %d (must be between 1 and 65535)", c.HTTP.Port)
	}
	if c.HTTP.DefaultDepth <= 0 {
		return fmt.Errorf("http.default_depth must be positive: %d", c.HTTP.DefaultDepth)
	}
	if c.HTTP.MaxDepth < c.HTTP.DefaultDepth {
		return fmt.Errorf("http.max_depth %d is below http.default_depth %d", c.HTTP.MaxDepth, c.HTTP.DefaultDepth)
	}
	if c.HTTP.MaxCandles <= 0 {
		return fmt.Errorf("http.max_candles must be positive: %d", c.HTTP.MaxCandles)
	}
	if !c.HTTP.RateLimit.Disabled {
		if c.HTTP.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("http.rate_limit.max_requests must be positive: %d", c.HTTP.RateLimit.MaxRequests)
		}
		if c.HTTP.RateLimit.Window < time.Second {
			return fmt.Errorf("http.rate_limit.window must be at least 1s: %s", c.HTTP.RateLimit.Window)
		}
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url cannot be empty when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats.subject_prefix cannot be empty when nats is enabled")
		}
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive: %s", c.ShutdownTimeout)
	}
	return nil
}

// Endpoint is the explicit url if set, otherwise the testnet or mainnet address.
func (v VenueConfig) Endpoint() string {
	if v.URL != "" {
		return v.URL
	}
	if v.Testnet {
		return TestnetURL
	}
	return MainnetURL
}

func (v VenueConfig) CandleResolutions() ([]candle.Resolution, error) {
	out := make([]candle.Resolution, 0, len(v.Resolutions))
	for _, minutes := range v.Resolutions {
		r, err := candle.ParseResolution(minutes)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (v VenueConfig) Overflow() rpc.OverflowPolicy {
	policy, _ := rpc.ParseOverflowPolicy(v.OverflowPolicy)
	return policy
}

func (v VenueConfig) HasCredentials() bool {
	return v.ClientID != "" && v.ClientSecret != ""
}
