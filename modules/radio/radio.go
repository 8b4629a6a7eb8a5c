// Package radio runs the channels of the station: a registry of channels,
// one producer service per channel and the HTTP endpoints listeners use.
package radio

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/zachfi/tuberadio/pkg/decoder"
	"github.com/zachfi/tuberadio/pkg/resolver"
	"github.com/zachfi/tuberadio/pkg/shoutcast"
	"github.com/zachfi/tuberadio/pkg/state"
)

var module = "radio"

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Store persists registered channels.
type Store interface {
	Channels() map[string]state.Channel
	PutChannel(name string, c state.Channel) error
	DeleteChannel(name string) error
}

type Radio struct {
	services.Service

	cfg    *Config
	logger *slog.Logger

	store    Store
	resolver Resolver
	decoder  decoder.Decoder

	channels *xsync.MapOf[string, *Channel]
	// mu serialises Register and Unregister so a name is never started twice.
	mu sync.Mutex
}

type Option func(*Radio)

func WithResolver(r Resolver) Option {
	return func(rd *Radio) {
		rd.resolver = r
	}
}

func WithDecoder(d decoder.Decoder) Option {
	return func(rd *Radio) {
		rd.decoder = d
	}
}

func WithStore(s Store) Option {
	return func(rd *Radio) {
		rd.store = s
	}
}

// New creates the registry. Without options it opens the configured state
// file and uses the command resolver and decoder.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Radio, error) {
	cfg.applyDefaults()

	r := &Radio{
		cfg:      &cfg,
		logger:   logger.With("module", module),
		channels: xsync.NewMapOf[string, *Channel](),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.store == nil {
		s, err := state.Open(cfg.StateFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open state")
		}
		r.store = s
	}

	if r.resolver == nil {
		var cacheStore resolver.Store
		if s, ok := r.store.(resolver.Store); ok {
			cacheStore = s
		}
		r.resolver = resolver.NewCache(&resolver.Router{
			Command:  resolver.NewCommand(cfg.Resolver),
			Playlist: resolver.NewPlaylist(shoutcast.DefaultClient),
		}, cacheStore, cfg.RefreshInterval, r.logger)
	}

	if r.decoder == nil {
		r.decoder = &decoder.Router{
			Command: decoder.NewCommand(cfg.Decoder),
			HTTP:    decoder.NewHTTP(shoutcast.DefaultClient),
		}
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Radio) Config() Config {
	return *r.cfg
}

// Register creates a channel, starts its producer and persists it.
func (r *Radio) Register(ctx context.Context, name, source, mode string) (*Channel, error) {
	return r.register(ctx, name, source, mode, true)
}

func (r *Radio) register(ctx context.Context, name, source, mode string, persist bool) (*Channel, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: name %q must be 1-64 letters, digits, '.', '_' or '-'", ErrInvalidChannel, name)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidChannel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() > services.Running {
		return nil, ErrStopped
	}
	if _, ok := r.channels.Load(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}

	c := newChannel(name, source, m, r.cfg, r.logger, r.resolver, r.decoder)
	// The producer outlives the request that registered it; ctx only bounds the wait.
	if err := c.StartAsync(context.WithoutCancel(ctx)); err != nil {
		return nil, errors.Wrap(err, "failed to start channel")
	}
	if err := c.AwaitRunning(ctx); err != nil {
		c.StopAsync()
		return nil, errors.Wrap(err, "failed to start channel")
	}
	r.channels.Store(name, c)

	if persist {
		if err := r.store.PutChannel(name, state.Channel{Source: source, Mode: string(m)}); err != nil {
			r.logger.Error("failed to persist channel", "channel", name, "err", err)
		}
	}

	r.logger.Info("channel registered", "channel", name, "source", source, "mode", m)
	return c, nil
}

// Unregister stops a channel and forgets it.
func (r *Radio) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := services.StopAndAwaitTerminated(ctx, c); err != nil {
		r.logger.Warn("channel did not stop cleanly", "channel", name, "err", err)
	}

	if err := r.store.DeleteChannel(name); err != nil {
		r.logger.Error("failed to remove persisted channel", "channel", name, "err", err)
	}
	if f, ok := r.resolver.(interface{ Forget(string) }); ok {
		f.Forget(name)
	}
	c.deleteMetrics()

	r.logger.Info("channel removed", "channel", name)
	return nil
}

func (r *Radio) Get(name string) (*Channel, error) {
	c, ok := r.channels.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// List returns the status of every channel, sorted by name.
func (r *Radio) List() []Status {
	var out []Status
	r.channels.Range(func(_ string, c *Channel) bool {
		out = append(out, c.Status())
		return true
	})
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func (r *Radio) starting(ctx context.Context) error {
	persisted := r.store.Channels()
	names := make([]string, 0, len(persisted))
	for name := range persisted {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ch := persisted[name]
		if _, err := r.register(ctx, name, ch.Source, ch.Mode, false); err != nil {
			r.logger.Error("skipping persisted channel", "channel", name, "err", err)
		}
	}

	for _, ch := range r.cfg.Channels {
		if _, ok := r.channels.Load(ch.Name); ok {
			continue
		}
		if _, err := r.register(ctx, ch.Name, ch.Source, ch.Mode, false); err != nil {
			return errors.Wrapf(err, "invalid channel %q in config", ch.Name)
		}
	}

	r.logger.Info("radio started", "channels", r.channels.Size())
	return nil
}

func (r *Radio) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *Radio) stopping(_ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chans []services.Service
	r.channels.Range(func(name string, c *Channel) bool {
		chans = append(chans, c)
		r.channels.Delete(name)
		return true
	})

	for _, c := range chans {
		c.StopAsync()
	}
	for _, c := range chans {
		_ = c.AwaitTerminated(context.Background())
	}

	r.logger.Info("radio stopped", "channels", len(chans))
	return nil
}
