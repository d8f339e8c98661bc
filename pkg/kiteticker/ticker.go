package kiteticker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the Kite Connect streaming endpoint.
const DefaultURL = "wss://ws.kite.trade"

const writeWait = 5 * time.Second

// Conn is the bidirectional frame stream a Ticker runs on. *websocket.Conn
// satisfies it; ping and pong frames are answered inside ReadMessage.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Credentials authenticate a streaming session.
type Credentials struct {
	APIKey      string
	AccessToken string
}

type options struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger
}

// Option configures Connect and NewTicker.
type Option func(*options)

// WithURL overrides the streaming endpoint.
func WithURL(u string) Option { return func(o *options) { o.url = u } }

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithHeader adds handshake headers.
func WithHeader(h http.Header) Option { return func(o *options) { o.header = h } }

// WithLogger sets the logger used by the session.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	o := options{
		url:    DefaultURL,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Ticker is a connected streaming session.
type Ticker struct {
	conn   Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool
}

// Connect dials the streaming endpoint with the given credentials.
func Connect(ctx context.Context, creds Credentials, opts ...Option) (*Ticker, error) {
	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil, errors.New("kiteticker: api key and access token are required")
	}
	o := buildOptions(opts)

	u, err := url.Parse(o.url)
	if err != nil {
		return nil, fmt.Errorf("kiteticker: parse url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", creds.APIKey)
	q.Set("access_token", creds.AccessToken)
	u.RawQuery = q.Encode()

	conn, resp, err := o.dialer.DialContext(ctx, u.String(), o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("kiteticker: dial (status %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("kiteticker: dial: %w", err)
	}
	o.logger.Info("ticker connected", "host", u.Host)

	return &Ticker{conn: conn, logger: o.logger}, nil
}

// NewTicker wraps an already established connection.
func NewTicker(conn Conn, opts ...Option) *Ticker {
	o := buildOptions(opts)
	return &Ticker{conn: conn, logger: o.logger}
}

// Subscribe subscribes tokens in mode and returns the subscriber that owns
// the session's subscription state and inbound stream.
func (t *Ticker) Subscribe(tokens []uint32, mode Mode) (*Subscriber, error) {
	s := &Subscriber{
		ticker:   t,
		registry: NewRegistry(),
		logger:   t.logger,
	}
	if err := s.Subscribe(tokens, mode); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSubscriber returns a subscriber over registry without sending anything.
// Call Resync to bring the server in line with it.
func (t *Ticker) NewSubscriber(registry *Registry) *Subscriber {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Subscriber{ticker: t, registry: registry, logger: t.logger}
}

// Close sends a normal closure and closes the connection.
func (t *Ticker) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	t.setWriteDeadline()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := t.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.logger.Debug("close frame not sent", "err", err)
	}
	return t.conn.Close()
}

// setWriteDeadline bounds the next write when the connection supports it.
func (t *Ticker) setWriteDeadline() {
	if dl, ok := t.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		dl.SetWriteDeadline(time.Now().Add(writeWait))
	}
}

// sendLocked writes requests as text frames. The caller holds writeMu.
func (t *Ticker) sendLocked(reqs []Request, sent func(Request)) error {
	for _, r := range reqs {
		if r.Empty() {
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		t.setWriteDeadline()
		if err := t.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return &TransportError{Op: "write", Err: err}
		}
		t.logger.Debug("sent request", "action", r.Action, "tokens", len(r.Tokens))
		if sent != nil {
			sent(r)
		}
	}
	return nil
}

// Subscriber owns the subscription state of a session and reads its
// inbound messages. Subscription methods may be called concurrently with
// each other and with NextMessage; NextMessage itself must have a single
// caller.
type Subscriber struct {
	ticker   *Ticker
	registry *Registry
	router   Router
	logger   *slog.Logger

	// OnFrame is called for every frame read, before routing.
	OnFrame func(kind FrameKind, size int)
	// OnTicks is called with every decoded batch.
	OnTicks func(ticks []Tick)
	// OnDecodeError is called for every sub-packet that failed to decode
	// and for every discarded frame.
	OnDecodeError func(err error)
	// OnUnparsed is called for text frames that are not a valid envelope.
	OnUnparsed func(raw []byte, err error)
	// OnSend is called after each control command is written.
	OnSend func(r Request)

	readErr error
}

// Subscribe adds tokens in mode (DefaultMode when zero).
func (s *Subscriber) Subscribe(tokens []uint32, mode Mode) error {
	return s.apply(func(r *Registry) []Request { return r.Subscribe(tokens, mode) })
}

// SetMode changes the mode of subscribed tokens; empty tokens means all.
func (s *Subscriber) SetMode(tokens []uint32, mode Mode) error {
	return s.apply(func(r *Registry) []Request { return r.SetMode(tokens, mode) })
}

// Unsubscribe drops subscribed tokens; empty tokens means all.
func (s *Subscriber) Unsubscribe(tokens []uint32) error {
	return s.apply(func(r *Registry) []Request { return r.Unsubscribe(tokens) })
}

// Send writes previously derived requests, e.g. the output of
// Registry.Restore.
func (s *Subscriber) Send(reqs []Request) error {
	return s.apply(func(*Registry) []Request { return reqs })
}

// Resync replays the registry's current contents. The snapshot is taken
// under the write lock, so a concurrent Subscribe or Unsubscribe is either
// included in it or written after it.
func (s *Subscriber) Resync() error {
	return s.apply(func(r *Registry) []Request { return r.Requests() })
}

// apply runs a registry operation and sends its requests under the write
// lock, so commands reach the wire in the order the registry applied them.
func (s *Subscriber) apply(op func(*Registry) []Request) error {
	s.ticker.writeMu.Lock()
	defer s.ticker.writeMu.Unlock()
	if s.ticker.closed {
		return &TransportError{Op: "write", Err: net.ErrClosed}
	}
	return s.ticker.sendLocked(op(s.registry), s.OnSend)
}

// SubscribedTokens returns the subscribed tokens in ascending order.
func (s *Subscriber) SubscribedTokens() []uint32 {
	return s.registry.Tokens()
}

// Registry exposes the subscription state.
func (s *Subscriber) Registry() *Registry {
	return s.registry
}

// NextMessage blocks for the next domain message. Frames that carry nothing
// (malformed text, truncated binary) are skipped. It returns io.EOF once the
// peer has closed the stream, and a *TransportError when reading fails;
// both are final.
func (s *Subscriber) NextMessage() (Message, error) {
	for {
		if s.readErr != nil {
			return nil, s.readErr
		}

		frame, err := s.readFrame()
		if err != nil {
			s.readErr = err
			return nil, err
		}
		if s.OnFrame != nil {
			s.OnFrame(frame.Kind, len(frame.Payload))
		}

		s.router.Logger = s.logger
		s.router.OnDecodeError = s.OnDecodeError
		s.router.OnUnparsed = s.OnUnparsed
		msg, err := s.router.Route(frame)
		if err != nil {
			if s.OnDecodeError != nil {
				s.OnDecodeError(err)
			}
			continue
		}

		if frame.Kind == FrameClose {
			s.readErr = io.EOF
			if msg == nil {
				return nil, io.EOF
			}
			return msg, nil
		}
		if msg == nil {
			continue
		}
		if tm, ok := msg.(TicksMessage); ok && s.OnTicks != nil {
			s.OnTicks(tm.Ticks)
		}
		return msg, nil
	}
}

// readFrame reads one frame, turning close errors into close frames.
func (s *Subscriber) readFrame() (Frame, error) {
	mt, data, err := s.ticker.conn.ReadMessage()
	if err != nil {
		// 1006 is synthesized locally when the connection drops without a
		// close frame.
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
			return CloseFrame(ce.Code, ce.Text), nil
		}
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, &TransportError{Op: "read", Err: err}
	}

	switch mt {
	case websocket.BinaryMessage:
		return BinaryFrame(data), nil
	case websocket.TextMessage:
		return TextFrame(data), nil
	}
	return Frame{}, &TransportError{Op: "read", Err: fmt.Errorf("unexpected message type %d", mt)}
}

// Close closes the underlying session.
func (s *Subscriber) Close() error {
	return s.ticker.Close()
}
