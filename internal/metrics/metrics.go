package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kiteticker/pkg/kiteticker"
)

// Metrics holds all Prometheus metrics for the ticker daemon.
type Metrics struct {
	FramesTotal      *prometheus.CounterVec // labels: kind=binary|text|close
	FrameBytes       prometheus.Histogram
	TicksTotal       *prometheus.CounterVec // labels: mode, exchange
	HeartbeatsTotal  prometheus.Counter
	MessagesTotal    *prometheus.CounterVec // labels: type=order|error|message|closing
	DecodeErrors     *prometheus.CounterVec // labels: kind=framing|length
	UnparsedText     prometheus.Counter
	SubscribedTokens prometheus.Gauge
	RequestsSent     *prometheus.CounterVec // labels: action
	ChecksumFailures prometheus.Counter
	TicksPerFrame    prometheus.Histogram
	SessionsTotal    *prometheus.CounterVec // labels: result=connected|failed|ended
	RedisPublishDur  prometheus.Histogram
	SQLiteCommitDur  prometheus.Histogram
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	LastTickLag      prometheus.Gauge

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter

	// Market session state
	MarketState *prometheus.GaugeVec // labels: exchange; 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_frames_total",
			Help: "Frames read from the streaming connection",
		}, []string{"kind"}),
		FrameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiteticker_frame_bytes",
			Help:    "Payload size of frames read",
			Buckets: prometheus.ExponentialBuckets(2, 4, 8),
		}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_ticks_total",
			Help: "Ticks decoded, by mode and exchange",
		}, []string{"mode", "exchange"}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiteticker_heartbeats_total",
			Help: "Binary frames that carried no ticks",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_messages_total",
			Help: "Non-tick messages received, by type",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_decode_errors_total",
			Help: "Discarded frames (framing) and skipped sub-packets (length)",
		}, []string{"kind"}),
		UnparsedText: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiteticker_unparsed_text_frames_total",
			Help: "Text frames dropped because they are not a valid envelope",
		}),
		SubscribedTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiteticker_subscribed_tokens",
			Help: "Instruments currently subscribed",
		}),
		RequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_requests_sent_total",
			Help: "Control commands written, by action",
		}, []string{"action"}),
		ChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiteticker_postback_checksum_failures_total",
			Help: "Order postbacks whose checksum did not verify",
		}),
		TicksPerFrame: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiteticker_ticks_per_frame",
			Help:    "Ticks carried by one binary frame",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_sessions_total",
			Help: "Streaming sessions, by result",
		}, []string{"result"}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiteticker_redis_publish_duration_seconds",
			Help:    "Redis pipelined publish latency per batch",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiteticker_sqlite_commit_duration_seconds",
			Help:    "Subscription store commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiteticker_fanout_drops_total",
			Help: "Tick batches dropped by the FanOut bus per subscriber",
		}, []string{"subscriber"}),
		LastTickLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiteticker_last_tick_lag_seconds",
			Help: "Wall clock minus exchange timestamp of the latest full tick",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiteticker_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiteticker_redis_buffered_writes_total",
			Help: "Events buffered locally while the Redis circuit breaker is open",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiteticker_redis_flushed_writes_total",
			Help: "Buffered events published after the Redis circuit breaker closed",
		}),

		MarketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kiteticker_market_state",
			Help: "Exchange session state (0=closed, 1=open)",
		}, []string{"exchange"}),
	}

	reg.MustRegister(
		m.FramesTotal,
		m.FrameBytes,
		m.TicksTotal,
		m.HeartbeatsTotal,
		m.MessagesTotal,
		m.DecodeErrors,
		m.UnparsedText,
		m.SubscribedTokens,
		m.RequestsSent,
		m.ChecksumFailures,
		m.TicksPerFrame,
		m.SessionsTotal,
		m.RedisPublishDur,
		m.SQLiteCommitDur,
		m.FanoutDropsTotal,
		m.LastTickLag,
		m.RedisCircuitBreakerState,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
		m.MarketState,
	)

	return m
}

// NewBreakerTrips exposes a circuit breaker's trip count, read at scrape
// time from trips.
func NewBreakerTrips(trips func() int) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "kiteticker_redis_circuit_breaker_trips_total",
		Help: "Times the Redis circuit breaker tripped open",
	}, func() float64 { return float64(trips()) })
}

// ObserveFrame counts one inbound frame.
func (m *Metrics) ObserveFrame(kind kiteticker.FrameKind, size int) {
	m.FramesTotal.WithLabelValues(kind.String()).Inc()
	m.FrameBytes.Observe(float64(size))
}

// ObserveTicks counts a decoded batch. Empty batches are heartbeats.
func (m *Metrics) ObserveTicks(ticks []kiteticker.Tick) {
	if len(ticks) == 0 {
		m.HeartbeatsTotal.Inc()
		return
	}
	m.TicksPerFrame.Observe(float64(len(ticks)))
	for _, t := range ticks {
		m.TicksTotal.WithLabelValues(t.Mode.String(), t.Exchange.String()).Inc()
		if t.ExchangeTime != nil {
			m.LastTickLag.Set(time.Since(*t.ExchangeTime).Seconds())
		}
	}
}

// ObserveMessage counts non-tick messages by type.
func (m *Metrics) ObserveMessage(msg kiteticker.Message) {
	switch msg.(type) {
	case kiteticker.OrderMessage:
		m.MessagesTotal.WithLabelValues("order").Inc()
	case kiteticker.ErrorMessage:
		m.MessagesTotal.WithLabelValues("error").Inc()
	case kiteticker.TextMessage:
		m.MessagesTotal.WithLabelValues("message").Inc()
	case kiteticker.ClosingMessage:
		m.MessagesTotal.WithLabelValues("closing").Inc()
	}
}

// ObserveDecodeError classifies a per-frame or per-packet decode failure.
func (m *Metrics) ObserveDecodeError(err error) {
	kind := "length"
	var fe *kiteticker.FramingError
	if errors.As(err, &fe) {
		kind = "framing"
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// ObserveRequest counts a control command written to the stream.
func (m *Metrics) ObserveRequest(r kiteticker.Request) {
	m.RequestsSent.WithLabelValues(string(r.Action)).Inc()
}

// HealthStatus represents the daemon health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected      bool      `json:"ws_connected"`
	LastTickTime     time.Time `json:"last_tick_time"`
	RedisConnected   bool      `json:"redis_connected"`
	SQLiteOK         bool      `json:"sqlite_ok"`
	SubscribedTokens int       `json:"subscribed_tokens"`
	MarketOpen       bool      `json:"market_open"`
	SavedAt          time.Time `json:"subscriptions_saved_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSubscribedTokens(n int) {
	h.mu.Lock()
	h.SubscribedTokens = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

// SetSavedAt records when the subscription store last committed.
func (h *HealthStatus) SetSavedAt(t time.Time) {
	h.mu.Lock()
	h.SavedAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the subscription store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The stream and Redis are
// required; a broken subscription store only degrades restarts.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.WSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
	}
	if !h.WSConnected || !h.RedisConnected {
		httpCode = http.StatusServiceUnavailable
	}
	if !h.WSConnected && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	savedAt := ""
	if !h.SavedAt.IsZero() {
		savedAt = h.SavedAt.Format(time.RFC3339)
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		WSConnected      bool    `json:"ws_connected"`
		LastTickTime     string  `json:"last_tick_time"`
		TickAge          string  `json:"tick_age"`
		SubscribedTokens int     `json:"subscribed_tokens"`
		MarketOpen       bool    `json:"market_open"`
		SavedAt          string  `json:"subscriptions_saved_at,omitempty"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:      h.WSConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		SubscribedTokens: h.SubscribedTokens,
		MarketOpen:       h.MarketOpen,
		SavedAt:          savedAt,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
