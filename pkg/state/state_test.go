package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

func TestStorePersistsChannelsAndCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.PutChannel("lofi", Channel{Source: "PLlofi", Mode: "shuffle"}); err != nil {
		t.Fatalf("put channel: %v", err)
	}
	resolvedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := resolver.Entry{Source: "PLlofi", Items: []resolver.Item{{ID: "a", Title: "A"}}, ResolvedAt: resolvedAt}
	if err := s.SaveCache("lofi", entry); err != nil {
		t.Fatalf("save cache: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	channels := reopened.Channels()
	if got := channels["lofi"]; got.Source != "PLlofi" || got.Mode != "shuffle" {
		t.Fatalf("unexpected channel %#v", got)
	}
	cached, ok := reopened.LoadCache("lofi")
	if !ok {
		t.Fatal("expected cache entry")
	}
	if !cached.ResolvedAt.Equal(resolvedAt) || len(cached.Items) != 1 || cached.Items[0].Title != "A" {
		t.Fatalf("unexpected cache entry %#v", cached)
	}

	if err := reopened.DeleteChannel("lofi"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again, err := Open(path)
	if err != nil {
		t.Fatalf("open after delete: %v", err)
	}
	if len(again.Channels()) != 0 {
		t.Fatal("expected channel to be deleted")
	}
	if _, ok := again.LoadCache("lofi"); ok {
		t.Fatal("expected cache entry to be deleted with its channel")
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("expected no temp files, found %v", leftovers)
	}
}

func TestOpenRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("channels: [not, a, map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.PutChannel("a", Channel{Source: "x", Mode: "sequential"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	copied := s.Channels()
	delete(copied, "a")
	if len(s.Channels()) != 1 {
		t.Fatal("expected Channels to return a copy")
	}
}
