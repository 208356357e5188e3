package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame actions sent to the upstream streaming socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Inbound envelope types. Only TypeMarketData drives fan-out; the rest
// are connection housekeeping and are logged or observed.
const (
	TypeConnected  = "connected"
	TypeSubscribed = "subscribed"
	TypeMarketData = "market_data"
	TypeError      = "error"
	TypePong       = "pong"
	TypePing       = "ping"
)

// Frame is an outbound subscribe/unsubscribe command.
type Frame struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols"`
	Channels []string `json:"channels,omitempty"`
}

// Subscribe builds a subscribe frame.
func Subscribe(symbols, channels []string) Frame {
	return Frame{Action: ActionSubscribe, Symbols: symbols, Channels: channels}
}

// Unsubscribe builds an unsubscribe frame.
func Unsubscribe(symbols, channels []string) Frame {
	return Frame{Action: ActionUnsubscribe, Symbols: symbols, Channels: channels}
}

// Encode marshals the frame for the wire.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Action, err)
	}
	return data, nil
}

// Envelope is the inbound message wrapper from the upstream socket.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ParseEnvelope decodes an inbound wire message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return env, nil
}

// symbolItem matches the symbol field of a market_data payload item.
// Upstream emits either "symbol" or the short form "sym".
type symbolItem struct {
	Symbol string `json:"symbol"`
	Sym    string `json:"sym"`
}

func (s symbolItem) value() string {
	if s.Symbol != "" {
		return s.Symbol
	}
	return s.Sym
}

// Symbols extracts the ticker symbols referenced by a market_data
// payload. The payload is either a single object or a batched array;
// both shapes are handled. Items without a symbol are skipped.
func Symbols(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}

	// Batched payload.
	var items []symbolItem
	if err := json.Unmarshal(data, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, it := range items {
			if v := it.value(); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	var single symbolItem
	if err := json.Unmarshal(data, &single); err != nil {
		return nil
	}
	if v := single.value(); v != "" {
		return []string{v}
	}
	return nil
}
