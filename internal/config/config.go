package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/market"
)

// Config is the full runtime configuration, loaded from the environment.
type Config struct {
	Port        string `validate:"required"`
	Environment string
	DatabaseDSN string `validate:"required"`

	LogLevel  string
	LogPretty bool

	// Egress pool for markets that are not proxy exempt.
	ProxyURLs []string

	SteamAPIKey      string
	SteamID          string
	SteamTradeCookie string
	BitSkinsAPIKey   string
	MarketCSGOAPIKey string

	// Markets the trader may buy on and sell on, in scan order.
	BuyMarkets  []market.Market
	SellMarkets []market.Market

	MinMarginPercent float64 `validate:"gte=0"`
	MaxPerItem       int     `validate:"gte=1"`

	EngineInterval    time.Duration
	QuotePollInterval time.Duration

	RequestTimeout time.Duration
	MaxRetries     int `validate:"gte=0"`
	RetryBackoff   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	StatsRefreshCron string
	LockScanCron     string
	ArchiveCron      string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	buyMarkets, err := market.ParseList(getEnv("BUY_MARKETS", ""))
	if err != nil {
		return nil, fmt.Errorf("BUY_MARKETS: %w", err)
	}
	sellMarkets, err := market.ParseList(getEnv("SELL_MARKETS", ""))
	if err != nil {
		return nil, fmt.Errorf("SELL_MARKETS: %w", err)
	}
	if len(buyMarkets) == 0 {
		buyMarkets = market.DefaultBuyMarkets()
	}
	if len(sellMarkets) == 0 {
		sellMarkets = market.DefaultSellMarkets()
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseDSN: getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/csgo_arbiter?charset=utf8mb4&parseTime=True&loc=Local"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		ProxyURLs: splitList(getEnv("PROXY_URLS", "")),

		SteamAPIKey:      getEnv("STEAM_API_KEY", ""),
		SteamID:          getEnv("STEAM_ID", ""),
		SteamTradeCookie: getEnv("STEAM_TRADE_COOKIE", ""),
		BitSkinsAPIKey:   getEnv("BITSKINS_API_KEY", ""),
		MarketCSGOAPIKey: getEnv("MARKETCSGO_API_KEY", ""),

		BuyMarkets:  buyMarkets,
		SellMarkets: sellMarkets,

		MinMarginPercent: getEnvFloat("MIN_MARGIN_PERCENT", 10),
		MaxPerItem:       getEnvInt("MAX_PER_ITEM", 1),

		EngineInterval:    getEnvDuration("ENGINE_INTERVAL", time.Minute),
		QuotePollInterval: getEnvDuration("QUOTE_POLL_INTERVAL", 30*time.Second),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBackoff:   getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		StatsCacheTTL: getEnvDuration("STATS_CACHE_TTL", 6*time.Hour),

		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("S3_SECRET_KEY", ""),
		S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),

		StatsRefreshCron: getEnv("STATS_REFRESH_CRON", "0 */6 * * *"),
		LockScanCron:     getEnv("LOCK_SCAN_CRON", "*/10 * * * *"),
		ArchiveCron:      getEnv("ARCHIVE_CRON", "0 3 * * *"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ExecutorPolicy maps the request settings onto an executor policy.
func (c *Config) ExecutorPolicy() executor.Policy {
	return executor.Policy{
		Timeout:    c.RequestTimeout,
		MaxRetries: c.MaxRetries,
		Backoff:    c.RetryBackoff,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
