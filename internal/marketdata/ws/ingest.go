// Package ws runs the Kite streaming session for the daemon. It dials,
// replays the subscription registry, then hands decoded tick batches and
// broker events to the rest of the pipeline. A session that ends is not
// redialled; the daemon exits and its supervisor restarts it.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kiteticker/internal/logger"
	"kiteticker/internal/metrics"
	"kiteticker/internal/model"
	"kiteticker/internal/notification"
	"kiteticker/internal/store/redis"
	"kiteticker/pkg/kiteticker"
)

const alertTimeout = 10 * time.Second

// Config holds configuration for the streaming session.
type Config struct {
	Credentials kiteticker.Credentials

	// URL of the streaming endpoint. Defaults to kiteticker.DefaultURL.
	URL string

	// APISecret verifies order postback checksums when set. Postbacks
	// failing verification are dropped.
	APISecret string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = kiteticker.DefaultURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingest owns the subscription registry and runs the streaming session.
type Ingest struct {
	cfg      Config
	registry *kiteticker.Registry
	events   model.EventPublisher

	// Optional collaborators.
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Alerts  notification.Notifier

	// Snapshots receives the registry contents after every change, for
	// persistence. Sends block, so the consumer must be running before
	// Seed or Apply is called.
	Snapshots chan<- map[uint32]kiteticker.Mode

	mu  sync.Mutex
	sub *kiteticker.Subscriber
}

// New creates an Ingest publishing broker events to events.
func New(cfg Config, events model.EventPublisher) *Ingest {
	cfg.defaults()
	return &Ingest{
		cfg:      cfg,
		registry: kiteticker.NewRegistry(),
		events:   events,
	}
}

// Registry exposes the subscription state.
func (ing *Ingest) Registry() *kiteticker.Registry { return ing.registry }

// Seed loads the initial subscriptions before Start: configured tokens
// first, then saved entries, so a saved mode wins over the configured one.
func (ing *Ingest) Seed(configured, saved map[uint32]kiteticker.Mode) {
	byMode := make(map[kiteticker.Mode][]uint32)
	for tok, m := range configured {
		byMode[m] = append(byMode[m], tok)
	}
	for m, toks := range byMode {
		ing.registry.Subscribe(toks, m)
	}
	ing.registry.Restore(saved)
	ing.changed()
}

// Apply runs a control request against the registry. While a session is
// live the derived commands are sent at once; before Start they are
// replayed on connect.
func (ing *Ingest) Apply(req kiteticker.Request) error {
	ing.mu.Lock()
	sub := ing.sub
	ing.mu.Unlock()

	var err error
	if sub != nil {
		switch req.Action {
		case kiteticker.ActionSubscribe:
			err = sub.Subscribe(req.Tokens, req.Mode)
		case kiteticker.ActionMode:
			err = sub.SetMode(req.Tokens, req.Mode)
		case kiteticker.ActionUnsubscribe:
			err = sub.Unsubscribe(req.Tokens)
		default:
			return fmt.Errorf("ws ingest: unknown action %q", req.Action)
		}
		var te *kiteticker.TransportError
		if err == nil || !errors.As(err, &te) {
			ing.changed()
			return err
		}
		// The session is going away; keep the registry current anyway so
		// the saved subscriptions reflect the request.
		ing.cfg.Logger.Warn("control request not sent", "action", string(req.Action), "error", err)
	}

	switch req.Action {
	case kiteticker.ActionSubscribe:
		ing.registry.Subscribe(req.Tokens, req.Mode)
	case kiteticker.ActionMode:
		ing.registry.SetMode(req.Tokens, req.Mode)
	case kiteticker.ActionUnsubscribe:
		ing.registry.Unsubscribe(req.Tokens)
	default:
		return fmt.Errorf("ws ingest: unknown action %q", req.Action)
	}
	ing.changed()
	return nil
}

// RunControl applies requests from in until ctx is cancelled or in closes.
func (ing *Ingest) RunControl(ctx context.Context, in <-chan kiteticker.Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-in:
			if !ok {
				return
			}
			if err := ing.Apply(req); err != nil {
				ing.cfg.Logger.Error("control request failed", "action", string(req.Action), "error", err)
			}
		}
	}
}

// Start runs one session, sending tick batches to tickCh. It returns nil
// when ctx is cancelled, io.EOF when the server ended the stream, and the
// dial or transport error otherwise.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- []kiteticker.Tick) error {
	sctx := logger.WithSessionID(ctx, logger.NewSessionID(ing.cfg.Credentials.APIKey, time.Now()))
	log := ing.cfg.Logger.With(logger.LogWithSession(sctx)...)

	t, err := kiteticker.Connect(sctx, ing.cfg.Credentials,
		kiteticker.WithURL(ing.cfg.URL),
		kiteticker.WithLogger(log),
	)
	if err != nil {
		ing.observeSession("failed")
		return err
	}
	ing.observeSession("connected")
	defer ing.observeSession("ended")

	sub := t.NewSubscriber(ing.registry)
	ing.hook(sub)

	ing.setSession(sub)
	defer ing.setSession(nil)

	// Async context watcher: closes the session when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		t.Close()
	}()

	if err := sub.Resync(); err != nil {
		return err
	}
	log.Info("session started", "url", ing.cfg.URL, "tokens", ing.registry.Len())

	for {
		msg, err := sub.NextMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("session ended", "error", err)
			return err
		}
		ing.handle(sctx, log, msg, tickCh)
	}
}

func (ing *Ingest) handle(ctx context.Context, log *slog.Logger, msg kiteticker.Message, tickCh chan<- []kiteticker.Tick) {
	if tm, ok := msg.(kiteticker.TicksMessage); ok {
		if ing.Health != nil {
			ing.Health.SetLastTickTime(time.Now())
		}
		if len(tm.Ticks) == 0 {
			return
		}
		select {
		case tickCh <- tm.Ticks:
		default:
			log.Warn("tick channel full, dropping batch", "ticks", len(tm.Ticks))
		}
		return
	}

	if ing.Metrics != nil {
		ing.Metrics.ObserveMessage(msg)
	}

	switch m := msg.(type) {
	case kiteticker.OrderMessage:
		o, err := m.Order()
		if err != nil {
			log.Warn("undecodable order postback", "error", err)
			if ing.cfg.APISecret != "" {
				return
			}
			break
		}
		if ing.cfg.APISecret != "" && !kiteticker.VerifyChecksum(o, ing.cfg.APISecret) {
			if ing.Metrics != nil {
				ing.Metrics.ChecksumFailures.Inc()
			}
			log.Warn("order postback checksum mismatch", "order_id", o.OrderID)
			ing.alert(notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Postback checksum mismatch",
				Message: "order " + o.OrderID + " dropped",
				Order:   o,
			})
			return
		}
		if a, ok := notification.OrderAlert(o); ok {
			ing.alert(a)
		}
	case kiteticker.ErrorMessage:
		log.Error("broker error", "message", m.Text)
		ing.alert(notification.Alert{Level: notification.AlertWarning, Title: "Broker error", Message: m.Text})
	case kiteticker.ClosingMessage:
		log.Info("server closing session", "code", m.Code, "reason", m.Reason)
	}

	channel, payload, ok := redis.EventFor(msg)
	if !ok || ing.events == nil {
		return
	}
	if err := ing.events.PublishEvent(ctx, channel, payload); err != nil {
		log.Error("publish event failed", "channel", channel, "error", err)
	}
}

// alert sends a in the background; the read loop never waits on an
// external endpoint.
func (ing *Ingest) alert(a notification.Alert) {
	if ing.Alerts == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := ing.Alerts.Send(ctx, a); err != nil {
			ing.cfg.Logger.Warn("alert delivery failed", "title", a.Title, "error", err)
		}
	}()
}

func (ing *Ingest) hook(sub *kiteticker.Subscriber) {
	m := ing.Metrics
	if m == nil {
		return
	}
	sub.OnFrame = m.ObserveFrame
	sub.OnTicks = m.ObserveTicks
	sub.OnDecodeError = m.ObserveDecodeError
	sub.OnUnparsed = func([]byte, error) { m.UnparsedText.Inc() }
	sub.OnSend = m.ObserveRequest
}

func (ing *Ingest) setSession(sub *kiteticker.Subscriber) {
	ing.mu.Lock()
	ing.sub = sub
	ing.mu.Unlock()
	if ing.Health != nil {
		ing.Health.SetWSConnected(sub != nil)
	}
}

func (ing *Ingest) observeSession(result string) {
	if ing.Metrics != nil {
		ing.Metrics.SessionsTotal.WithLabelValues(result).Inc()
	}
}

// changed publishes the registry state to metrics, health and Snapshots.
func (ing *Ingest) changed() {
	n := ing.registry.Len()
	if ing.Metrics != nil {
		ing.Metrics.SubscribedTokens.Set(float64(n))
	}
	if ing.Health != nil {
		ing.Health.SetSubscribedTokens(n)
	}
	if ing.Snapshots != nil {
		ing.Snapshots <- ing.registry.Entries()
	}
}
