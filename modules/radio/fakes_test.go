package radio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/grafana/dskit/services"

	"github.com/zachfi/tuberadio/pkg/decoder"
	"github.com/zachfi/tuberadio/pkg/resolver"
)

const (
	finite  = ""        // one chunk, then EOF
	forever = "forever" // chunks until terminated
	noStart = "nostart" // decode fails to start
	crash   = "crash"   // read error before any output
	silent  = "silent"  // clean EOF without output
	panics  = "panic"   // decoder panics
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := Config{
		QueueCapacity:     4,
		ChunkSize:         8,
		InitialChunks:     1,
		InitialTimeout:    time.Second,
		RefreshInterval:   time.Hour,
		ErrorBackoff:      10 * time.Millisecond,
		ResolveBackoff:    10 * time.Millisecond,
		ResolveBackoffMax: 50 * time.Millisecond,
		IcyMetaInt:        16,
	}
	cfg.applyDefaults()
	return cfg
}

type fakeResolver struct {
	mu     sync.Mutex
	items  []resolver.Item
	err    error
	calls  int
	forced int
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string, force bool) (resolver.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if force {
		f.forced++
	}
	if f.err != nil {
		return resolver.Entry{}, f.err
	}
	return resolver.Entry{Items: append([]resolver.Item(nil), f.items...), ResolvedAt: time.Now()}, nil
}

func (f *fakeResolver) set(items []resolver.Item, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDecoder struct {
	mu      sync.Mutex
	modes   map[string]string
	started []string
	live    int
	maxLive int
	streams map[string]*fakeStream
}

func newFakeDecoder(modes map[string]string) *fakeDecoder {
	if modes == nil {
		modes = map[string]string{}
	}
	return &fakeDecoder{modes: modes, streams: map[string]*fakeStream{}}
}

func (d *fakeDecoder) Decode(_ context.Context, item resolver.Item) (decoder.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = append(d.started, item.ID)
	mode := d.modes[item.ID]
	switch mode {
	case noStart:
		return nil, fmt.Errorf("%w: %s", decoder.ErrStart, item.ID)
	case panics:
		panic("decoder exploded")
	}

	d.live++
	d.maxLive = max(d.maxLive, d.live)

	s := &fakeStream{
		d:       d,
		mode:    mode,
		payload: bytes.Repeat([]byte(item.ID), 8)[:8],
		done:    make(chan struct{}),
	}
	d.streams[item.ID] = s
	return s, nil
}

func (d *fakeDecoder) starts(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.started {
		if s == id {
			n++
		}
	}
	return n
}

func (d *fakeDecoder) stream(id string) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[id]
}

func (d *fakeDecoder) peakLive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

type fakeStream struct {
	d       *fakeDecoder
	mode    string
	payload []byte
	reads   int

	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func (s *fakeStream) Read(b []byte) (int, error) {
	select {
	case <-s.done:
		return 0, errors.New("terminated")
	default:
	}

	switch s.mode {
	case crash:
		return 0, errors.New("exit status 1")
	case silent:
		return 0, io.EOF
	case forever:
		time.Sleep(time.Millisecond)
		return copy(b, s.payload), nil
	}

	if s.reads > 0 {
		return 0, io.EOF
	}
	s.reads++
	return copy(b, s.payload), nil
}

func (s *fakeStream) Terminate() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) terminated() <-chan struct{} {
	return s.done
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.d.mu.Lock()
		s.d.live--
		s.d.mu.Unlock()
	})
	return nil
}

func newTestChannel(t *testing.T, mode Mode, r Resolver, d decoder.Decoder) *Channel {
	t.Helper()
	cfg := testConfig()
	return newChannel("test", "source", mode, &cfg, testLogger(), r, d)
}

func startService(t *testing.T, s services.Service) {
	t.Helper()
	// The service context must outlive this helper.
	if err := s.StartAsync(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.AwaitRunning(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = services.StopAndAwaitTerminated(ctx, s)
	})
}

// readItems returns the item of each of the next n chunks.
func readItems(t *testing.T, r *Reader, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		out = append(out, mustNext(t, r).Item)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// drainInBackground keeps r reading so the producer never blocks on a full
// queue.
func drainInBackground(t *testing.T, r *Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			if _, err := r.Next(ctx); err != nil {
				return
			}
		}
	}()
}
