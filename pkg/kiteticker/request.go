package kiteticker

import (
	"encoding/json"
	"fmt"
)

// Action is the verb of an outgoing control command.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionMode        Action = "mode"
)

// Request is an outgoing control command. On the wire:
//
//	{"a":"subscribe","v":[408065,884737]}
//	{"a":"unsubscribe","v":[408065]}
//	{"a":"mode","v":["full",[408065]]}
type Request struct {
	Action Action
	Mode   Mode // set for ActionMode only
	Tokens []uint32
}

// SubscribeRequest subscribes tokens.
func SubscribeRequest(tokens []uint32) Request {
	return Request{Action: ActionSubscribe, Tokens: tokens}
}

// UnsubscribeRequest unsubscribes tokens.
func UnsubscribeRequest(tokens []uint32) Request {
	return Request{Action: ActionUnsubscribe, Tokens: tokens}
}

// ModeRequest switches tokens to mode.
func ModeRequest(mode Mode, tokens []uint32) Request {
	return Request{Action: ActionMode, Mode: mode.orDefault(), Tokens: tokens}
}

// Empty reports whether the request names no tokens.
func (r Request) Empty() bool { return len(r.Tokens) == 0 }

type wireRequest struct {
	A Action          `json:"a"`
	V json.RawMessage `json:"v"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	tokens := r.Tokens
	if tokens == nil {
		tokens = []uint32{}
	}

	var v any = tokens
	switch r.Action {
	case ActionSubscribe, ActionUnsubscribe:
	case ActionMode:
		v = []any{r.Mode.orDefault(), tokens}
	default:
		return nil, fmt.Errorf("kiteticker: unknown request action %q", r.Action)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRequest{A: r.Action, V: raw})
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var w wireRequest
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	switch w.A {
	case ActionSubscribe, ActionUnsubscribe:
		var tokens []uint32
		if err := json.Unmarshal(w.V, &tokens); err != nil {
			return fmt.Errorf("kiteticker: %s tokens: %w", w.A, err)
		}
		*r = Request{Action: w.A, Tokens: tokens}
	case ActionMode:
		var pair []json.RawMessage
		if err := json.Unmarshal(w.V, &pair); err != nil {
			return fmt.Errorf("kiteticker: mode value: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("kiteticker: mode value wants [mode, tokens], got %d elements", len(pair))
		}
		var mode Mode
		if err := json.Unmarshal(pair[0], &mode); err != nil {
			return fmt.Errorf("kiteticker: mode: %w", err)
		}
		var tokens []uint32
		if err := json.Unmarshal(pair[1], &tokens); err != nil {
			return fmt.Errorf("kiteticker: mode tokens: %w", err)
		}
		*r = Request{Action: ActionMode, Mode: mode, Tokens: tokens}
	default:
		return fmt.Errorf("kiteticker: unknown request action %q", w.A)
	}
	return nil
}

func (r Request) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("invalid request: %v", err)
	}
	return string(b)
}
