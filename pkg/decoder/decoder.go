// Package decoder produces encoded audio for a single item.
//
// Every decode is owned by exactly one caller, which reads the stream until
// it ends, optionally terminates it early, and always closes it.
package decoder

import (
	"context"
	"errors"
	"io"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

// ErrStart marks a decode that could not be started at all.
var ErrStart = errors.New("decode start failed")

// Stream is the audio output of one decode.
type Stream interface {
	io.Reader
	// Terminate stops the decode immediately. Pending and future reads fail.
	Terminate() error
	// Close releases every resource held by the decode and reports how it
	// ended. A terminated decode closes without error.
	Close() error
}

// Decoder starts a Stream for an item.
type Decoder interface {
	Decode(ctx context.Context, item resolver.Item) (Stream, error)
}

// Router decodes direct items over HTTP and everything else with Command.
type Router struct {
	Command Decoder
	HTTP    Decoder
}

func (r *Router) Decode(ctx context.Context, item resolver.Item) (Stream, error) {
	if item.Direct && r.HTTP != nil {
		return r.HTTP.Decode(ctx, item)
	}
	return r.Command.Decode(ctx, item)
}
