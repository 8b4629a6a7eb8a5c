package radio

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

type Mode string

const (
	Sequential Mode = "sequential"
	Shuffle    Mode = "shuffle"
)

// ParseMode accepts the playback modes by name. An empty mode is sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Shuffle:
		return Shuffle, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidChannel, s)
}

// playlist selects the next item of a channel. It belongs to the producer
// loop and is not safe for concurrent use.
type playlist struct {
	mode   Mode
	rnd    *rand.Rand
	items  []resolver.Item
	cursor int
	failed map[string]struct{}
	played map[string]struct{}
}

func newPlaylist(mode Mode, rnd *rand.Rand) *playlist {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &playlist{
		mode:   mode,
		rnd:    rnd,
		failed: map[string]struct{}{},
		played: map[string]struct{}{},
	}
}

// reset replaces the items and forgets failures and plays.
func (p *playlist) reset(items []resolver.Item) {
	p.items = slices.Clone(items)
	p.cursor = 0
	p.failed = map[string]struct{}{}
	p.played = map[string]struct{}{}

	if p.mode == Shuffle {
		p.rnd.Shuffle(len(p.items), func(i, j int) {
			p.items[i], p.items[j] = p.items[j], p.items[i]
		})
	}
}

func (p *playlist) len() int {
	return len(p.items)
}

func (p *playlist) failedCount() int {
	return len(p.failed)
}

func (p *playlist) markFailed(id string) {
	p.failed[id] = struct{}{}
}

func (p *playlist) next() (resolver.Item, bool) {
	if p.mode == Shuffle {
		return p.nextShuffle()
	}
	return p.nextSequential()
}

func (p *playlist) nextSequential() (resolver.Item, bool) {
	n := len(p.items)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		item := p.items[idx]
		if _, failed := p.failed[item.ID]; failed {
			continue
		}
		p.cursor = (idx + 1) % n
		return item, true
	}
	return resolver.Item{}, false
}

func (p *playlist) nextShuffle() (resolver.Item, bool) {
	candidates := p.unplayed()
	if len(candidates) == 0 {
		p.played = map[string]struct{}{}
		candidates = p.unplayed()
	}
	if len(candidates) == 0 {
		return resolver.Item{}, false
	}

	item := candidates[p.rnd.IntN(len(candidates))]
	p.played[item.ID] = struct{}{}
	return item, true
}

func (p *playlist) unplayed() []resolver.Item {
	var out []resolver.Item
	for _, item := range p.items {
		if _, failed := p.failed[item.ID]; failed {
			continue
		}
		if _, played := p.played[item.ID]; played {
			continue
		}
		out = append(out, item)
	}
	return out
}
