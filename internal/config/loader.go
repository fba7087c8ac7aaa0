// Package config loads runtime configuration from the environment the
// same way the teacher project does it: godotenv for local .env files,
// then manual os.Getenv/strconv parsing with hard defaults. Unknown or
// unparsable values fall back to the default and log once.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized option from spec §6.
type Config struct {
	Port int

	UpstreamFeedURLs []string
	FeedAPIKey       string

	RedisURL string
	MySQLDSN string

	TelegramBotToken string
	TelegramChatID   int64

	MaxBroadcastTPS    int
	TickHistoryLimit   int
	ExecutionLatencyMs time.Duration
	SLTPGraceMs        time.Duration
	PriceStaleMs       time.Duration
	DuplicateOrderMs   time.Duration
	EnablePartialFills bool
	PartialFillRatio   float64

	USDINRDefault float64
	Dev           bool
}

// Load reads .env (if present) then the process environment.
func Load() *Config {
	if err := godotenvLoad(); err != nil {
		log.Println("config: .env not found, relying on process environment")
	}

	cfg := &Config{
		Port:               getInt("PORT", 4000),
		UpstreamFeedURLs:    getList("UPSTREAM_FEED_URLS", nil),
		FeedAPIKey:          os.Getenv("FEED_API_KEY"),
		RedisURL:            getString("REDIS_URL", "redis://localhost:6379/0"),
		MySQLDSN:            getString("MYSQL_DSN", "tradingcore:tradingcore@tcp(127.0.0.1:3306)/tradingcore?charset=utf8mb4&parseTime=True&loc=Local"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      int64(getInt("TELEGRAM_CHAT_ID", 0)),
		MaxBroadcastTPS:     getInt("MAX_BROADCAST_TPS", 20),
		TickHistoryLimit:    getInt("TICK_HISTORY_LIMIT", 1000),
		ExecutionLatencyMs:  time.Duration(getInt("EXECUTION_LATENCY_MS", 150)) * time.Millisecond,
		SLTPGraceMs:         time.Duration(getInt("SLTP_GRACE_MS", 1000)) * time.Millisecond,
		PriceStaleMs:        time.Duration(getInt("PRICE_STALE_MS", 5000)) * time.Millisecond,
		DuplicateOrderMs:    time.Duration(getInt("DUPLICATE_ORDER_MS", 500)) * time.Millisecond,
		EnablePartialFills:  getBool("ENABLE_PARTIAL_FILLS", false),
		PartialFillRatio:    getFloat("PARTIAL_FILL_RATIO", 0.5),
		USDINRDefault:       getFloat("USDINR_DEFAULT", 83.0),
		Dev:                 getBool("DEV", false),
	}

	if !cfg.Dev && cfg.FeedAPIKey == "" {
		log.Println("config: FEED_API_KEY is required outside DEV mode; websocket auth is disabled and every client is accepted")
	}

	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q invalid, using default %d", key, v, def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: %s=%q invalid, using default %.4f", key, v, def)
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: %s=%q invalid, using default %v", key, v, def)
		return def
	}
	return b
}
