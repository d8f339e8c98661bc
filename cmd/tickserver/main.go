// cmd/tickserver serves a simulated Kite streaming endpoint for running
// tickerd without broker credentials. Clients send the usual JSON control
// commands and receive binary tick frames in their subscribed modes.
//
// Config (env vars):
//
//	FEED_ADDR      listen address (default: ":9001")
//	FEED_TOKENS    comma-separated instrument tokens (default: "256265,260105,408065,738561,884737")
//	FEED_INTERVAL  broadcast interval (default: "1s")
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"kiteticker/config"
	"kiteticker/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Println("[tickserver] no .env file, using environment variables")
	}
	cfg := config.LoadFeed()
	lg := logger.Init("tickserver", logger.ParseLevel(cfg.LogLevel))

	tokens := cfg.ParseTokens()
	if len(tokens) == 0 {
		log.Fatalf("[tickserver] no instruments configured via FEED_TOKENS")
	}
	lg.Info("feed configured", "tokens", tokens, "interval", cfg.Interval.String())

	f := newFeed(tokens)
	go f.run(cfg.Interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/", wsHandler(f))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	lg.Info("listening", "addr", cfg.Addr, "url", "ws://localhost"+cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}
