package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kiteticker/pkg/kiteticker"
)

// Pub/Sub channels for broker events. Ticks go to TickChannel(t).
const (
	ChannelOrder   = "pub:order"
	ChannelError   = "pub:error"
	ChannelMessage = "pub:message"
	ChannelClose   = "pub:close"
)

// WriterConfig configures the Redis publisher.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher publishes decoded ticks and broker events over Redis Pub/Sub.
type Publisher struct {
	client *goredis.Client

	// OnPublish is called with the latency of every pipelined tick batch.
	OnPublish func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Redis Publisher and pings the server.
func New(cfg WriterConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// TickChannel is the Pub/Sub channel of an instrument:
// "pub:tick:{EXCHANGE}:{token}".
func TickChannel(t kiteticker.Tick) string {
	return "pub:tick:" + t.Exchange.String() + ":" + strconv.FormatUint(uint64(t.InstrumentToken), 10)
}

// Run reads tick batches from in and publishes them.
// Blocks until ctx is cancelled or in is closed.
func (p *Publisher) Run(ctx context.Context, in <-chan []kiteticker.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case ticks, ok := <-in:
			if !ok {
				return
			}
			if err := p.PublishTicks(ctx, ticks); err != nil {
				log.Printf("[redis] tick batch pipeline error (%d ticks): %v", len(ticks), err)
			}
		}
	}
}

// PublishTicks publishes one frame's ticks in a single pipeline, one
// PUBLISH per tick on its instrument channel.
func (p *Publisher) PublishTicks(ctx context.Context, ticks []kiteticker.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	start := time.Now()
	pipe := p.client.Pipeline()
	for i := range ticks {
		data, err := json.Marshal(&ticks[i])
		if err != nil {
			return fmt.Errorf("marshal tick %d: %w", ticks[i].InstrumentToken, err)
		}
		pipe.Publish(ctx, TickChannel(ticks[i]), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
	return nil
}

// PublishEvent publishes a broker event payload on channel.
func (p *Publisher) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// EventFor maps a non-tick message to its channel and JSON payload. Order
// postbacks are published verbatim. ok is false for tick batches.
func EventFor(msg kiteticker.Message) (channel string, payload []byte, ok bool) {
	var err error
	switch m := msg.(type) {
	case kiteticker.OrderMessage:
		return ChannelOrder, m.Data, true
	case kiteticker.ErrorMessage:
		channel = ChannelError
		payload, err = json.Marshal(struct {
			Message string `json:"message"`
		}{m.Text})
	case kiteticker.TextMessage:
		channel = ChannelMessage
		payload, err = json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}{m.Type, m.Data})
	case kiteticker.ClosingMessage:
		channel = ChannelClose
		payload, err = json.Marshal(struct {
			Code   int    `json:"code"`
			Reason string `json:"reason"`
		}{m.Code, m.Reason})
	default:
		return "", nil, false
	}
	if err != nil {
		log.Printf("[redis] marshal %s event: %v", channel, err)
		return "", nil, false
	}
	return channel, payload, true
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
