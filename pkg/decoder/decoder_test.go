package decoder

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

func TestProcessReadsUntilExit(t *testing.T) {
	p, err := Start(context.Background(), "/bin/sh", "-c", "printf hello")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestProcessCloseReportsExitWithStderr(t *testing.T) {
	p, err := Start(context.Background(), "/bin/sh", "-c", "echo 'no such video' >&2; exit 3")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := io.ReadAll(p); err != nil {
		t.Fatalf("read: %v", err)
	}
	err = p.Close()
	if err == nil {
		t.Fatal("expected exit error")
	}
	if !strings.Contains(err.Error(), "no such video") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestProcessStartFailure(t *testing.T) {
	_, err := Start(context.Background(), "/nonexistent/decoder")
	if !errors.Is(err, ErrStart) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
}

func TestProcessTerminateUnblocksRead(t *testing.T) {
	p, err := Start(context.Background(), "/bin/sh", "-c", "while :; do printf x; sleep 0.01; done")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := p.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, p)
		done <- err
	}()

	if err := p.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after terminate")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("expected terminated process to close cleanly, got %v", err)
	}
}

func TestProcessContextCancelKillsPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, "/bin/sh", "-c", "sleep 30 | cat")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	start := time.Now()
	cancel()
	_, _ = io.Copy(io.Discard, p)
	_ = p.Close()

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("expected pipeline to die promptly, took %s", elapsed)
	}
}

func TestCommandPassesItemAsArgument(t *testing.T) {
	c := NewCommand(CommandConfig{Command: `printf '%s' "$1"`})
	s, err := c.Decode(context.Background(), resolver.Item{ID: "dQw4w9WgXcQ"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer s.Close()

	out, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRouterUsesHTTPForDirectItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "mp3-bytes")
	}))
	defer srv.Close()

	r := &Router{
		Command: NewCommand(CommandConfig{Command: "printf command"}),
		HTTP:    NewHTTP(srv.Client()),
	}

	s, err := r.Decode(context.Background(), resolver.Item{ID: srv.URL + "/a.mp3", Direct: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, _ := io.ReadAll(s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(out) != "mp3-bytes" {
		t.Fatalf("unexpected output %q", out)
	}

	s, err = r.Decode(context.Background(), resolver.Item{ID: "abc"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, _ = io.ReadAll(s)
	s.Close()
	if string(out) != "command" {
		t.Fatalf("expected command decoder, got %q", out)
	}
}

func TestHTTPStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTP(srv.Client()).Decode(context.Background(), resolver.Item{ID: srv.URL, Direct: true})
	if !errors.Is(err, ErrStart) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
}

func TestLineTailKeepsLastLines(t *testing.T) {
	tail := newLineTail(2)
	tail.Write([]byte("one\ntwo\nthree\npart"))
	if got := tail.String(); got != "two; three; part" {
		t.Fatalf("unexpected tail %q", got)
	}
}
