package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kiteticker/pkg/kiteticker"
)

func TestParseSubscriptions(t *testing.T) {
	c := &Config{SubscribeTokens: " 408065:full, 256265 ,884737:LTP,abc,12:deep,,0"}
	want := map[uint32]kiteticker.Mode{
		408065: kiteticker.ModeFull,
		256265: kiteticker.ModeQuote,
		884737: kiteticker.ModeLTP,
	}
	if diff := cmp.Diff(want, c.ParseSubscriptions()); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("KITE_API_KEY", "key")
	t.Setenv("KITE_ACCESS_TOKEN", "token")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KITE_TICKER_URL", "")

	c := Load()
	if c.KiteAPIKey != "key" || c.KiteAccessToken != "token" {
		t.Errorf("credentials = %q/%q", c.KiteAPIKey, c.KiteAccessToken)
	}
	if c.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr default = %q", c.RedisAddr)
	}
	if c.KiteTickerURL != kiteticker.DefaultURL {
		t.Errorf("KiteTickerURL default = %q", c.KiteTickerURL)
	}
}

func TestLoadFeed(t *testing.T) {
	t.Setenv("FEED_INTERVAL", "250ms")
	t.Setenv("FEED_TOKENS", "5,3,3:full")

	c := LoadFeed()
	if c.Interval != 250*time.Millisecond {
		t.Errorf("interval = %v", c.Interval)
	}
	if diff := cmp.Diff([]uint32{3, 5}, c.ParseTokens()); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}

	t.Setenv("FEED_INTERVAL", "soon")
	if c := LoadFeed(); c.Interval != time.Second {
		t.Errorf("invalid interval fell back to %v", c.Interval)
	}
}
