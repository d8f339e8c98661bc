package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"kiteticker/pkg/kiteticker"

	goredis "github.com/go-redis/redis/v8"
)

// ChannelControl carries subscription commands for the daemon, in the same
// JSON shape the streaming endpoint accepts:
//
//	{"a":"subscribe","v":[408065]}
//	{"a":"mode","v":["full",[408065]]}
const ChannelControl = "ctl:subscriptions"

// ControlReader listens for subscription commands on a Pub/Sub channel.
type ControlReader struct {
	client  *goredis.Client
	channel string

	// OnInvalid is called for payloads that are not a valid request.
	OnInvalid func(payload string, err error)
}

// NewReaderFromClient wraps an existing client, e.g. the publisher's.
func NewReaderFromClient(client *goredis.Client, channel string) *ControlReader {
	if channel == "" {
		channel = ChannelControl
	}
	return &ControlReader{client: client, channel: channel}
}

// Run subscribes to the control channel and sends every valid request to
// out. Blocks until ctx is cancelled or the subscription fails.
func (r *ControlReader) Run(ctx context.Context, out chan<- kiteticker.Request) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so no command is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	log.Printf("[redis-reader] listening on %s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			req, err := ParseControl(msg.Payload)
			if err != nil {
				if r.OnInvalid != nil {
					r.OnInvalid(msg.Payload, err)
				} else {
					log.Printf("[redis-reader] invalid command %q: %v", msg.Payload, err)
				}
				continue
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ParseControl decodes one control payload.
func ParseControl(payload string) (kiteticker.Request, error) {
	var req kiteticker.Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return kiteticker.Request{}, err
	}
	return req, nil
}
