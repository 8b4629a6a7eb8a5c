package radio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/grafana/dskit/services"

	"github.com/zachfi/tuberadio/pkg/state"
)

func newTestRadio(t *testing.T, cfg Config, store Store, res Resolver, dec *fakeDecoder) *Radio {
	t.Helper()
	if store == nil {
		s, err := state.Open("")
		if err != nil {
			t.Fatalf("open state: %v", err)
		}
		store = s
	}
	r, err := New(cfg, testLogger(), WithStore(store), WithResolver(res), WithDecoder(dec))
	if err != nil {
		t.Fatalf("new radio: %v", err)
	}
	startService(t, r)
	return r
}

func TestRegisterDuplicateLeavesChannelUntouched(t *testing.T) {
	store, _ := state.Open("")
	r := newTestRadio(t, testConfig(), store, &fakeResolver{items: items("a")}, newFakeDecoder(nil))
	ctx := context.Background()

	first, err := r.Register(ctx, "one", "first-source", "shuffle")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.Register(ctx, "one", "second-source", "sequential"); !errors.Is(err, ErrDuplicateChannel) {
		t.Fatalf("expected ErrDuplicateChannel, got %v", err)
	}

	got, err := r.Get("one")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != first || got.Source() != "first-source" || got.Mode() != Shuffle {
		t.Fatalf("existing channel changed: %+v", got.Status())
	}
	if persisted := store.Channels()["one"]; persisted.Source != "first-source" {
		t.Fatalf("persisted channel changed: %+v", persisted)
	}
}

func TestRegisterRejectsInvalidChannels(t *testing.T) {
	r := newTestRadio(t, testConfig(), nil, &fakeResolver{}, newFakeDecoder(nil))
	ctx := context.Background()

	cases := []struct{ name, source, mode string }{
		{"", "src", ""},
		{"../etc", "src", ""},
		{"has space", "src", ""},
		{"ok", "", ""},
		{"ok", "src", "loop"},
	}
	for _, tc := range cases {
		if _, err := r.Register(ctx, tc.name, tc.source, tc.mode); !errors.Is(err, ErrInvalidChannel) {
			t.Fatalf("%+v: expected ErrInvalidChannel, got %v", tc, err)
		}
	}
	if len(r.List()) != 0 {
		t.Fatalf("no channel should be registered, got %d", len(r.List()))
	}
}

func TestUnregister(t *testing.T) {
	store, _ := state.Open("")
	dec := newFakeDecoder(map[string]string{"a": forever})
	r := newTestRadio(t, testConfig(), store, &fakeResolver{items: items("a")}, dec)
	ctx := context.Background()

	c, err := r.Register(ctx, "one", "src", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	eventually(t, "decode started", func() bool { return dec.stream("a") != nil })

	if err := r.Unregister(ctx, "one"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := r.Get("one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after unregister, got %v", err)
	}
	if err := c.AwaitTerminated(ctx); err != nil {
		t.Fatalf("channel did not terminate: %v", err)
	}
	if _, ok := store.Channels()["one"]; ok {
		t.Fatal("channel still persisted")
	}
	if err := r.Unregister(ctx, "one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartingLoadsPersistedAndStaticChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	store, err := state.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.PutChannel("saved", state.Channel{Source: "saved-src", Mode: "shuffle"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutChannel("bad name", state.Channel{Source: "x"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	cfg := testConfig()
	cfg.Channels = []ChannelConfig{
		{Name: "static", Source: "static-src"},
		{Name: "saved", Source: "ignored"},
	}
	r := newTestRadio(t, cfg, store, &fakeResolver{items: items("a")}, newFakeDecoder(nil))

	list := r.List()
	if len(list) != 2 || list[0].Name != "saved" || list[1].Name != "static" {
		t.Fatalf("unexpected channels: %+v", list)
	}
	if list[0].Source != "saved-src" || list[0].Mode != Shuffle {
		t.Fatalf("persisted channel should win over config: %+v", list[0])
	}
	if _, ok := store.Channels()["static"]; ok {
		t.Fatal("static channels are not persisted")
	}
}

func TestStoppingStopsChannels(t *testing.T) {
	store, _ := state.Open("")
	r, err := New(testConfig(), testLogger(), WithStore(store), WithResolver(&fakeResolver{items: items("a")}), WithDecoder(newFakeDecoder(nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	startService(t, r)
	ctx := context.Background()

	c, err := r.Register(ctx, "one", "src", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r.StopAsync()
	if err := c.AwaitTerminated(ctx); err != nil {
		t.Fatalf("channel did not stop with the radio: %v", err)
	}
	if err := r.AwaitTerminated(ctx); err != nil {
		t.Fatalf("radio: %v", err)
	}
	if _, ok := store.Channels()["one"]; !ok {
		t.Fatal("shutdown must keep persisted channels")
	}
	if _, err := r.Register(ctx, "two", "src", ""); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after shutdown, got %v", err)
	}
}

func TestRegisteredChannelOutlivesRequestContext(t *testing.T) {
	dec := newFakeDecoder(map[string]string{"a": forever})
	r := newTestRadio(t, testConfig(), nil, &fakeResolver{items: items("a")}, dec)

	ctx, cancel := context.WithCancel(context.Background())
	c, err := r.Register(ctx, "one", "src", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	if st := c.State(); st != services.Running {
		t.Fatalf("expected channel to keep running, got %s", st)
	}
	reader := c.Queue().Subscribe()
	defer reader.Close()
	if got := readItems(t, reader, 2); got[0] != "a" || got[1] != "a" {
		t.Fatalf("unexpected items %v", got)
	}
}
