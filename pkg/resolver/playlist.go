package resolver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zachfi/tuberadio/pkg/shoutcast"
)

// Playlist resolves .pls and .m3u URLs into direct items.
type Playlist struct {
	client *http.Client
}

func NewPlaylist(client *http.Client) *Playlist {
	return &Playlist{client: client}
}

func (p *Playlist) Resolve(ctx context.Context, source string) ([]Item, error) {
	entries, err := shoutcast.FetchPlaylist(ctx, p.client, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolve, source, err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{ID: e.URL, Title: e.Title, Direct: true})
	}
	return items, nil
}
