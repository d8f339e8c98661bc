package model

import (
	"context"

	"kiteticker/pkg/kiteticker"
)

// ── Daemon Port Interfaces ──
// These interfaces decouple the ticker session from concrete publishing and
// storage implementations (Redis, SQLite).

// TickPublisher fans decoded tick batches out to downstream consumers.
type TickPublisher interface {
	// PublishTicks publishes one decoded frame's ticks.
	PublishTicks(ctx context.Context, ticks []kiteticker.Tick) error
}

// EventPublisher publishes non-tick broker messages (order postbacks,
// errors, alerts, close notices) to a named channel.
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel string, payload []byte) error
}

// Publisher is implemented by transports that carry both ticks and events.
type Publisher interface {
	TickPublisher
	EventPublisher
}

// SubscriptionStore remembers the token -> mode map across restarts.
// It never stores ticks.
type SubscriptionStore interface {
	// Load returns the saved subscriptions; empty when nothing was saved.
	Load(ctx context.Context) (map[uint32]kiteticker.Mode, error)

	// Save replaces the saved subscriptions with entries.
	Save(ctx context.Context, entries map[uint32]kiteticker.Mode) error

	// Close releases underlying resources.
	Close() error
}
