package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownStream is returned in strict mode when a subscribe names a
// stream outside the known set.
var ErrUnknownStream = errors.New("unknown stream")

// Stream is a user-facing data stream category. Windows subscribe to
// streams; the wire speaks channels.
type Stream string

const (
	StreamTrades  Stream = "trades"
	StreamQuotes  Stream = "quotes"
	StreamBars    Stream = "bars"
	StreamUpdates Stream = "updates"
)

// streamChannels maps each stream onto its upstream wire channels.
var streamChannels = map[Stream][]string{
	StreamTrades:  {"T"},
	StreamQuotes:  {"Q"},
	StreamBars:    {"A", "AM"},
	StreamUpdates: {"T", "Q", "A"},
}

// Known reports whether s is one of the four supported streams.
func Known(s Stream) bool {
	_, ok := streamChannels[s]
	return ok
}

// Channels resolves a stream to its wire channels.
//
// In strict mode an unknown stream is rejected with ErrUnknownStream.
// With strict disabled the historical behavior is preserved: unmapped
// streams fall back to the trades channel. Callers are expected to log
// the fallback.
func Channels(s Stream, strict bool) ([]string, error) {
	chans, ok := streamChannels[s]
	if ok {
		// Copy so callers cannot mutate the mapping table.
		out := make([]string, len(chans))
		copy(out, chans)
		return out, nil
	}
	if strict {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, s)
	}
	return []string{"T"}, nil
}
