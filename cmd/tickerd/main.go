package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"kiteticker/config"
	"kiteticker/internal/logger"
	"kiteticker/internal/marketdata/bus"
	"kiteticker/internal/marketdata/ws"
	"kiteticker/internal/markethours"
	"kiteticker/internal/metrics"
	"kiteticker/internal/notification"
	redisstore "kiteticker/internal/store/redis"
	sqlitestore "kiteticker/internal/store/sqlite"
	"kiteticker/pkg/kiteticker"
)

var watchedExchanges = []kiteticker.Exchange{
	kiteticker.NSE, kiteticker.NFO, kiteticker.CDS, kiteticker.BSE, kiteticker.BFO,
	kiteticker.BCD, kiteticker.MCX, kiteticker.MCXSX, kiteticker.INDICES,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Println("[tickerd] no .env file, using environment variables")
	}

	cfg := config.Load()
	lg := logger.Init("tickerd", logger.ParseLevel(cfg.LogLevel))
	lg.Info("starting", "url", cfg.KiteTickerURL, "checksums", cfg.KiteAPISecret != "")

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Subscription store ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lg.Warn("could not create store directory", "dir", dir, "error", err)
		}
	}
	store, err := sqlitestore.New(sqlitestore.StoreConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tickerd] sqlite init failed: %v", err)
	}
	defer store.Close()
	store.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
		health.SetSavedAt(time.Now())
	}
	health.SetSQLiteOK(true)

	saved, err := store.Load(ctx)
	if err != nil {
		lg.Warn("could not load saved subscriptions", "error", err)
		health.SetSQLiteOK(false)
	}
	if ts, err := store.LastUpdated(ctx); err != nil {
		lg.Warn("could not read store timestamp", "error", err)
	} else if ts > 0 {
		health.SetSavedAt(time.Unix(ts, 0))
	}

	// ---- Redis publisher behind a circuit breaker ----
	redisPub, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[tickerd] redis init failed: %v", err)
	}
	defer redisPub.Close()
	redisPub.OnPublish = func(d time.Duration) { prom.RedisPublishDur.Observe(d.Seconds()) }
	health.SetRedisConnected(true)

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		lg.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		prom.RedisCircuitBreakerState.Set(float64(to))
	}
	prometheus.MustRegister(metrics.NewBreakerTrips(cb.Trips))
	publisher := redisstore.NewBufferedPublisher(ctx, redisPub, cb, 10000)
	publisher.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
	publisher.OnFlush = func(n int) { prom.RedisFlushedWrites.Add(float64(n)) }
	publisher.OnTickDrop = func(n int) { prom.FanoutDropsTotal.WithLabelValues("redis_breaker").Add(float64(n)) }

	health.StartLivenessChecker(ctx, redisPub.Client(), store.DB(), 10*time.Second)

	// ---- Fan-out of decoded tick batches ----
	tickCh := make(chan []kiteticker.Tick, 1000)
	fanout := bus.New(1000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	redisTicks := fanout.Subscribe()
	go fanout.Run(ctx, tickCh)
	go publisher.Run(ctx, redisTicks)

	// ---- Market session gauges ----
	go markethours.Poll(ctx, watchedExchanges, time.Minute, func(ex kiteticker.Exchange, open bool) {
		v := 0.0
		if open {
			v = 1
		}
		prom.MarketState.WithLabelValues(ex.String()).Set(v)
		if ex == kiteticker.NSE {
			health.SetMarketOpen(open)
		}
	})
	lg.Info(markethours.StatusString(kiteticker.NSE, time.Now()))

	// ---- Streaming session ----
	ingest := ws.New(ws.Config{
		Credentials: kiteticker.Credentials{
			APIKey:      cfg.KiteAPIKey,
			AccessToken: cfg.KiteAccessToken,
		},
		URL:       cfg.KiteTickerURL,
		APISecret: cfg.KiteAPISecret,
		Logger:    lg,
	}, publisher)
	ingest.Metrics = prom
	ingest.Health = health
	alerts := notifiers(cfg)
	ingest.Alerts = alerts

	snapCh := make(chan map[uint32]kiteticker.Mode, 1)
	storeDone := make(chan struct{})
	go func() {
		defer close(storeDone)
		store.Run(ctx, snapCh)
	}()
	ingest.Snapshots = snapCh
	ingest.Seed(cfg.ParseSubscriptions(), saved)
	lg.Info("subscriptions loaded", "tokens", ingest.Registry().Len(), "saved", len(saved))

	// ---- Control channel ----
	control := redisstore.NewReaderFromClient(redisPub.Client(), "")
	controlCh := make(chan kiteticker.Request, 16)
	go func() {
		if err := control.Run(ctx, controlCh); err != nil {
			lg.Error("control channel stopped", "error", err)
		}
	}()
	go ingest.RunControl(ctx, controlCh)

	ingestErr := make(chan error, 1)
	go func() { ingestErr <- ingest.Start(ctx, tickCh) }()

	// ---- Wait for shutdown signal or the end of the session ----
	exitCode := 0
	select {
	case <-sigCh:
		lg.Info("shutdown signal received, cleaning up")
		cancel()
		<-ingestErr
	case err := <-ingestErr:
		// Restarting is left to the supervisor; the access token may have
		// expired.
		lg.Error("session ended, shutting down", "error", err)
		exitCode = 1
		alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
		msg := "stream ended"
		if err != nil {
			msg = err.Error()
		}
		if err := alerts.Send(alertCtx, notification.Alert{Level: notification.AlertCritical, Title: "Session lost", Message: msg}); err != nil {
			lg.Warn("alert delivery failed", "title", "Session lost", "error", err)
		}
		alertCancel()
		cancel()
	}
	<-storeDone
	publisher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	slog.Info("shutdown complete")
	if exitCode != 0 {
		store.Close()
		redisPub.Close()
		os.Exit(exitCode)
	}
}

// notifiers builds the alert fan-out from config. Alerts are always logged.
func notifiers(cfg *config.Config) notification.Multi {
	m := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		m = append(m, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return m
}
