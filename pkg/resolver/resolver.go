// Package resolver turns a channel's source reference into the ordered list
// of items it plays.
package resolver

import (
	"context"
	"errors"

	"github.com/zachfi/tuberadio/pkg/shoutcast"
)

// ErrResolve wraps every failure to produce an item list. Failures are
// transient from the caller's point of view.
var ErrResolve = errors.New("resolve failed")

// Item is one playable unit of a source.
type Item struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	// Direct items are audio URLs that can be fetched without an external
	// decoder.
	Direct bool `yaml:"direct,omitempty" json:"direct,omitempty"`
}

// Label is the human readable name of the item.
func (i Item) Label() string {
	if i.Title != "" {
		return i.Title
	}
	return i.ID
}

// Resolver returns the ordered items of source.
type Resolver interface {
	Resolve(ctx context.Context, source string) ([]Item, error)
}

// Router sends playlist URLs to Playlist and everything else to Command.
type Router struct {
	Command  Resolver
	Playlist Resolver
}

func (r *Router) Resolve(ctx context.Context, source string) ([]Item, error) {
	if r.Playlist != nil && shoutcast.IsPlaylistURL(source) {
		return r.Playlist.Resolve(ctx, source)
	}
	return r.Command.Resolve(ctx, source)
}
