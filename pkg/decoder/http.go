package decoder

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/zachfi/tuberadio/pkg/resolver"
	"github.com/zachfi/tuberadio/pkg/shoutcast"
)

// HTTP decodes direct items by fetching them. ICY metadata is stripped, so
// the stream carries audio only.
type HTTP struct {
	client *http.Client
}

func NewHTTP(client *http.Client) *HTTP {
	return &HTTP{client: client}
}

func (h *HTTP) Decode(ctx context.Context, item resolver.Item) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	s, err := shoutcast.Open(ctx, h.client, item.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	return &httpStream{Stream: s, cancel: cancel}, nil
}

type httpStream struct {
	*shoutcast.Stream
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (s *httpStream) Terminate() error {
	s.cancel()
	return nil
}

func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.Stream.Close()
	})
	return s.closeErr
}
