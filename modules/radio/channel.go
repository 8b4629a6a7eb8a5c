package radio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/tuberadio/pkg/decoder"
	"github.com/zachfi/tuberadio/pkg/resolver"
)

// Resolver returns the items of a channel's source. key is the channel name;
// force skips any cached resolution.
type Resolver interface {
	Resolve(ctx context.Context, key, source string, force bool) (resolver.Entry, error)
}

// Channel is one station: its producer service, its queue and the signals
// listeners can send it.
type Channel struct {
	services.Service

	name   string
	source string
	mode   Mode
	cfg    *Config
	logger *slog.Logger

	resolver Resolver
	decoder  decoder.Decoder
	queue    *Queue

	// owned by the producer goroutine
	playlist     *playlist
	idle         *backoff.Backoff
	resolveAfter time.Time

	refresh atomic.Bool
	wake    chan struct{}

	mu           sync.Mutex
	skip         bool
	cancelItem   context.CancelFunc
	current      resolver.Item
	startedAt    time.Time
	lastResolved time.Time

	items  atomic.Int64
	failed atomic.Int64

	metricsMu sync.Mutex
	removed   bool
}

func newChannel(name, source string, mode Mode, cfg *Config, logger *slog.Logger, r Resolver, d decoder.Decoder) *Channel {
	c := &Channel{
		name:     name,
		source:   source,
		mode:     mode,
		cfg:      cfg,
		logger:   logger.With("channel", name),
		resolver: r,
		decoder:  d,
		queue:    NewQueue(cfg.QueueCapacity),
		playlist: newPlaylist(mode, nil),
		wake:     make(chan struct{}, 1),
	}

	c.Service = services.NewBasicService(nil, c.running, c.stopping)

	return c
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) Source() string {
	return c.source
}

func (c *Channel) Mode() Mode {
	return c.mode
}

func (c *Channel) Queue() *Queue {
	return c.queue
}

// Skip abandons the current item and discards everything buffered. The item
// context is cancelled before the queue is cleared, so no chunk of the
// skipped item can be pushed afterwards.
func (c *Channel) Skip() {
	c.mu.Lock()
	c.skip = true
	cancel := c.cancelItem
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	n := c.queue.Clear()
	c.observe(func() {
		metricSkips.WithLabelValues(c.name).Inc()
		metricDroppedChunks.WithLabelValues(c.name).Add(float64(n))
		metricQueueLength.WithLabelValues(c.name).Set(0)
	})
	c.logger.Info("skip requested", "discarded", n)
}

// Reload makes the producer resolve the source again, bypassing the cache.
func (c *Channel) Reload() {
	c.refresh.Store(true)
	c.poke()
	c.logger.Info("reload requested")
}

// NowPlaying returns the current item, or false between items.
func (c *Channel) NowPlaying() (resolver.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current.ID != ""
}

func (c *Channel) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sleep waits for d, a poke or the end of ctx.
func (c *Channel) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	case <-c.wake:
	}
}

func (c *Channel) skipped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skip
}

type NowPlaying struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Since time.Time `json:"since"`
}

type Status struct {
	Name         string      `json:"name"`
	Source       string      `json:"source"`
	Mode         Mode        `json:"mode"`
	State        string      `json:"state"`
	NowPlaying   *NowPlaying `json:"now_playing,omitempty"`
	Items        int64       `json:"items"`
	Failed       int64       `json:"failed"`
	Queued       int         `json:"queued"`
	Capacity     int         `json:"capacity"`
	Listeners    int         `json:"listeners"`
	Dropped      uint64      `json:"dropped"`
	LastResolved *time.Time  `json:"last_resolved,omitempty"`
}

func (c *Channel) Status() Status {
	s := Status{
		Name:      c.name,
		Source:    c.source,
		Mode:      c.mode,
		State:     c.State().String(),
		Items:     c.items.Load(),
		Failed:    c.failed.Load(),
		Queued:    c.queue.Len(),
		Capacity:  c.queue.Cap(),
		Listeners: c.queue.Readers(),
		Dropped:   c.queue.Dropped(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.ID != "" {
		s.NowPlaying = &NowPlaying{ID: c.current.ID, Title: c.current.Label(), Since: c.startedAt}
	}
	if !c.lastResolved.IsZero() {
		t := c.lastResolved
		s.LastResolved = &t
	}
	return s
}
