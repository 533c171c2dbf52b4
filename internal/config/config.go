// Package config loads runtime configuration from defaults, an optional YAML
// file, a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json | console
	UseMemory   bool   `yaml:"use_memory"` // in-memory stores instead of Postgres/ClickHouse

	Stream     StreamConfig     `yaml:"stream"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Solana     SolanaConfig     `yaml:"solana"`
	MarketData MarketDataConfig `yaml:"market_data"`
	AI         AIConfig         `yaml:"ai"`
	Weights    WeightsConfig    `yaml:"weights"`
	Risk       RiskConfig       `yaml:"risk"`
	Batch      BatchConfig      `yaml:"batch"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// StreamConfig configures the upstream event stream.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	APIKey               string        `yaml:"api_key"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectCap         time.Duration `yaml:"reconnect_cap"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	EventBuffer          int           `yaml:"event_buffer"`
	NewTokens            bool          `yaml:"new_tokens"`
	Migrations           bool          `yaml:"migrations"`
	TradeKeys            []string      `yaml:"trade_keys"`
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig configures the score and signal store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ClickHouseConfig configures the snapshot store.
type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

// SolanaConfig configures on-chain reads.
type SolanaConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
}

// MarketDataConfig configures enrichment sources.
type MarketDataConfig struct {
	DexScreenerURL    string        `yaml:"dexscreener_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	PumpCurveFallback bool          `yaml:"pump_curve_fallback"`
}

// AIConfig configures the external judgment provider.
type AIConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Model              string        `yaml:"model"`
	Timeout            time.Duration `yaml:"timeout"`
	Weight             float64       `yaml:"weight"`
	BucketCapacity     float64       `yaml:"bucket_capacity"`
	BucketRefillPerSec float64       `yaml:"bucket_refill_per_sec"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	FallbackConfidence float64       `yaml:"fallback_confidence"`
}

// WeightsConfig holds heuristic sub-score weights. They must sum to 1.
type WeightsConfig struct {
	Volume      float64 `yaml:"volume"`
	Liquidity   float64 `yaml:"liquidity"`
	PriceAction float64 `yaml:"price_action"`
	Social      float64 `yaml:"social"`
	Risk        float64 `yaml:"risk"`
	Momentum    float64 `yaml:"momentum"`
}

// Sum returns the total of all weights.
func (w WeightsConfig) Sum() float64 {
	return w.Volume + w.Liquidity + w.PriceAction + w.Social + w.Risk + w.Momentum
}

// RiskConfig holds the heuristic risk-tier thresholds. A sub-score strictly
// below a threshold escalates the tier.
type RiskConfig struct {
	HighBelow      float64 `yaml:"high_below"`      // risk sub-score
	MediumBelow    float64 `yaml:"medium_below"`    // risk sub-score
	LiquidityBelow float64 `yaml:"liquidity_below"` // liquidity sub-score, escalates to high
}

// BatchConfig configures the event batcher.
type BatchConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	ProcessingDelay time.Duration `yaml:"processing_delay"`
	Concurrency     int           `yaml:"concurrency"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	LockAttempts    int           `yaml:"lock_attempts"`
	LockRetryDelay  time.Duration `yaml:"lock_retry_delay"`
}

// ScannerConfig configures the periodic scanner.
type ScannerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Lookback        time.Duration `yaml:"lookback"`
	TopN            int           `yaml:"top_n"`
	NoiseThreshold  float64       `yaml:"noise_threshold"`
	MinScore        float64       `yaml:"min_score"`
	MinVolumeUSD    float64       `yaml:"min_volume_usd"`
	MinLiquidityUSD float64       `yaml:"min_liquidity_usd"`
	MinConfidence   float64       `yaml:"min_confidence"`
	MinTxns         int           `yaml:"min_txns"`
	MinMarketCapUSD float64       `yaml:"min_market_cap_usd"`
	MaxMarketCapUSD float64       `yaml:"max_market_cap_usd"` // 0 disables the upper bound
	GenerationTTL   time.Duration `yaml:"generation_ttl"`
}

// KafkaConfig configures the optional generation publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// HTTPConfig configures the read API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "json",
		Stream: StreamConfig{
			URL:                  "wss://pumpportal.fun/api/data",
			ConnectTimeout:       10 * time.Second,
			PingInterval:         30 * time.Second,
			ReadTimeout:          60 * time.Second,
			WriteTimeout:         10 * time.Second,
			ReconnectBase:        1 * time.Second,
			ReconnectCap:         30 * time.Second,
			MaxReconnectAttempts: 10,
			EventBuffer:          1024,
			NewTokens:            true,
			Migrations:           true,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "signallab",
		},
		Solana: SolanaConfig{
			RPCEndpoint: "https://api.mainnet-beta.solana.com",
		},
		MarketData: MarketDataConfig{
			DexScreenerURL:    "https://api.dexscreener.com",
			RequestsPerMinute: 300,
			Timeout:           10 * time.Second,
			CacheTTL:          30 * time.Second,
			PumpCurveFallback: true,
		},
		AI: AIConfig{
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			Timeout:            20 * time.Second,
			Weight:             0.4,
			BucketCapacity:     10,
			BucketRefillPerSec: 0.5,
			CacheTTL:           10 * time.Minute,
			FallbackConfidence: 0.25,
		},
		Weights: WeightsConfig{
			Volume:      0.25,
			Liquidity:   0.20,
			PriceAction: 0.20,
			Social:      0.15,
			Risk:        0.10,
			Momentum:    0.10,
		},
		Risk: RiskConfig{
			HighBelow:      40,
			MediumBelow:    70,
			LiquidityBelow: 30,
		},
		Batch: BatchConfig{
			BatchSize:       20,
			ProcessingDelay: 5 * time.Second,
			Concurrency:     4,
			LockTTL:         60 * time.Second,
			LockAttempts:    3,
			LockRetryDelay:  200 * time.Millisecond,
		},
		Scanner: ScannerConfig{
			Interval:        5 * time.Minute,
			Lookback:        2 * time.Hour,
			TopN:            10,
			NoiseThreshold:  2,
			MinScore:        60,
			MinVolumeUSD:    10_000,
			MinLiquidityUSD: 5_000,
			MinConfidence:   0.3,
			MinTxns:         50,
			GenerationTTL:   24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic: "signal-generations",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.UseMemory = getEnvBool("USE_MEMORY", c.UseMemory)

	c.Stream.URL = getEnv("STREAM_URL", c.Stream.URL)
	c.Stream.APIKey = getEnv("STREAM_API_KEY", c.Stream.APIKey)
	c.Stream.MaxReconnectAttempts = getEnvInt("STREAM_MAX_RECONNECT_ATTEMPTS", c.Stream.MaxReconnectAttempts)
	c.Stream.EventBuffer = getEnvInt("STREAM_EVENT_BUFFER", c.Stream.EventBuffer)
	if keys := getEnv("STREAM_TRADE_KEYS", ""); keys != "" {
		c.Stream.TradeKeys = parseCSV(keys)
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Prefix = getEnv("REDIS_PREFIX", c.Redis.Prefix)

	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.ClickHouse.DSN = getEnv("CLICKHOUSE_DSN", c.ClickHouse.DSN)
	c.Solana.RPCEndpoint = getEnv("SOLANA_RPC_ENDPOINT", c.Solana.RPCEndpoint)

	c.MarketData.DexScreenerURL = getEnv("DEXSCREENER_URL", c.MarketData.DexScreenerURL)
	c.MarketData.RequestsPerMinute = getEnvInt("DEXSCREENER_RPM", c.MarketData.RequestsPerMinute)

	c.AI.BaseURL = getEnv("AI_BASE_URL", c.AI.BaseURL)
	c.AI.APIKey = getEnv("AI_API_KEY", c.AI.APIKey)
	c.AI.Model = getEnv("AI_MODEL", c.AI.Model)
	c.AI.Weight = getEnvFloat("AI_WEIGHT", c.AI.Weight)

	c.Batch.BatchSize = getEnvInt("BATCH_SIZE", c.Batch.BatchSize)
	c.Batch.Concurrency = getEnvInt("BATCH_CONCURRENCY", c.Batch.Concurrency)

	c.Scanner.TopN = getEnvInt("SCANNER_TOP_N", c.Scanner.TopN)
	c.Scanner.MinScore = getEnvFloat("SCANNER_MIN_SCORE", c.Scanner.MinScore)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = parseCSV(brokers)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)

	var err error
	for key, dst := range map[string]*time.Duration{
		"STREAM_CONNECT_TIMEOUT": &c.Stream.ConnectTimeout,
		"STREAM_RECONNECT_BASE":  &c.Stream.ReconnectBase,
		"STREAM_RECONNECT_CAP":   &c.Stream.ReconnectCap,
		"BATCH_PROCESSING_DELAY": &c.Batch.ProcessingDelay,
		"SCANNER_INTERVAL":       &c.Scanner.Interval,
		"SCANNER_LOOKBACK":       &c.Scanner.Lookback,
		"AI_TIMEOUT":             &c.AI.Timeout,
		"MARKET_DATA_CACHE_TTL":  &c.MarketData.CacheTTL,
	} {
		if *dst, err = getEnvDuration(key, *dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("STREAM_URL is required")
	}
	if c.Stream.ReconnectBase <= 0 || c.Stream.ReconnectCap < c.Stream.ReconnectBase {
		return fmt.Errorf("stream reconnect delays invalid: base=%s cap=%s", c.Stream.ReconnectBase, c.Stream.ReconnectCap)
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		return fmt.Errorf("STREAM_MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.Stream.EventBuffer < 1 {
		return fmt.Errorf("STREAM_EVENT_BUFFER must be at least 1")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if !c.UseMemory && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required unless USE_MEMORY is set")
	}
	if math.Abs(c.Weights.Sum()-1) > 1e-6 {
		return fmt.Errorf("heuristic weights must sum to 1, got %.4f", c.Weights.Sum())
	}
	if c.Risk.HighBelow > c.Risk.MediumBelow {
		return fmt.Errorf("risk thresholds inverted: high_below=%.1f medium_below=%.1f", c.Risk.HighBelow, c.Risk.MediumBelow)
	}
	if c.AI.Weight < 0 || c.AI.Weight > 1 {
		return fmt.Errorf("AI_WEIGHT must be within [0,1], got %.2f", c.AI.Weight)
	}
	if c.AI.FallbackConfidence < 0 || c.AI.FallbackConfidence > 0.3 {
		return fmt.Errorf("ai fallback confidence must be within [0,0.3], got %.2f", c.AI.FallbackConfidence)
	}
	if c.AI.BucketCapacity <= 0 || c.AI.BucketRefillPerSec <= 0 {
		return fmt.Errorf("ai token bucket capacity and refill must be positive")
	}
	if c.MarketData.RequestsPerMinute < 1 {
		return fmt.Errorf("DEXSCREENER_RPM must be at least 1")
	}
	if c.Batch.BatchSize < 1 || c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch size and concurrency must be at least 1")
	}
	if c.Batch.ProcessingDelay <= 0 {
		return fmt.Errorf("BATCH_PROCESSING_DELAY must be positive")
	}
	if c.Batch.LockAttempts < 1 {
		return fmt.Errorf("batch lock attempts must be at least 1")
	}
	if c.Scanner.Interval <= 0 || c.Scanner.TopN < 1 {
		return fmt.Errorf("scanner interval must be positive and top_n at least 1")
	}
	if c.Scanner.MaxMarketCapUSD > 0 && c.Scanner.MaxMarketCapUSD < c.Scanner.MinMarketCapUSD {
		return fmt.Errorf("scanner market cap bounds inverted")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
