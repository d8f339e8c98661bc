package config

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"kiteticker/pkg/kiteticker"
)

// Config holds the ticker daemon configuration loaded from environment variables.
type Config struct {
	// Kite Connect credentials
	KiteAPIKey      string
	KiteAccessToken string
	KiteAPISecret   string // optional, enables postback checksum verification
	KiteTickerURL   string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Subscription, e.g. "408065:full,256265,884737:ltp"
	SubscribeTokens string

	// Alerts (optional)
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		KiteAPIKey:      mustEnv("KITE_API_KEY"),
		KiteAccessToken: mustEnv("KITE_ACCESS_TOKEN"),
		KiteAPISecret:   getEnv("KITE_API_SECRET", ""),
		KiteTickerURL:   getEnv("KITE_TICKER_URL", kiteticker.DefaultURL),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/subscriptions.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		// Default: NIFTY 50 index and RELIANCE
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "256265,738561"),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// FeedConfig configures the mock feed server.
type FeedConfig struct {
	Addr     string
	Interval time.Duration
	Tokens   string // tokens the feed knows about; others are ignored
	LogLevel string
}

// LoadFeed reads the mock feed configuration.
func LoadFeed() *FeedConfig {
	interval, err := time.ParseDuration(getEnv("FEED_INTERVAL", "1s"))
	if err != nil || interval <= 0 {
		log.Printf("[config] invalid FEED_INTERVAL, using 1s")
		interval = time.Second
	}
	return &FeedConfig{
		Addr:     getEnv("FEED_ADDR", ":9001"),
		Interval: interval,
		Tokens:   getEnv("FEED_TOKENS", "256265,260105,408065,738561,884737"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParseSubscriptions parses SubscribeTokens into token -> mode. Entries
// without a mode use the default; malformed entries are skipped.
func (c *Config) ParseSubscriptions() map[uint32]kiteticker.Mode {
	return parseTokenModes(c.SubscribeTokens)
}

// ParseTokens parses the feed's token list in ascending order.
func (c *FeedConfig) ParseTokens() []uint32 {
	m := parseTokenModes(c.Tokens)
	out := make([]uint32, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func parseTokenModes(s string) map[uint32]kiteticker.Mode {
	out := make(map[uint32]kiteticker.Mode)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tokStr, modeStr, hasMode := strings.Cut(p, ":")
		tok, err := strconv.ParseUint(strings.TrimSpace(tokStr), 10, 32)
		if err != nil || tok == 0 {
			log.Printf("[config] skipping invalid token: %q", p)
			continue
		}
		mode := kiteticker.DefaultMode
		if hasMode {
			m, err := kiteticker.ParseMode(strings.TrimSpace(modeStr))
			if err != nil {
				log.Printf("[config] skipping invalid mode: %q", p)
				continue
			}
			mode = m
		}
		out[uint32(tok)] = mode
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
