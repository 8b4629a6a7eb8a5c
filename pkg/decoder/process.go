package decoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	waitDelay  = 5 * time.Second
	stderrTail = 8
)

// Process is an external process whose stdout is the audio stream.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *lineTail

	terminated atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// Start runs name in its own process group. Cancelling ctx kills the group.
func Start(ctx context.Context, name string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	stderr := newLineTail(stderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, name, err)
	}

	return &Process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Pid is the process ID of the group leader.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Terminate() error {
	p.terminated.Store(true)
	return killProcessGroup(p.cmd)
}

// Close stops reading, which ends a process still writing with SIGPIPE, and
// reaps it. It is safe to call more than once.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdout.Close()
		err := p.cmd.Wait()
		if err == nil || p.terminated.Load() {
			return
		}
		if msg := p.stderr.String(); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		p.closeErr = err
	})
	return p.closeErr
}

// lineTail keeps the last lines written to it.
type lineTail struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial strings.Builder
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range b {
		if c != '\n' {
			if t.partial.Len() < 512 {
				t.partial.WriteByte(c)
			}
			continue
		}
		t.push(t.partial.String())
		t.partial.Reset()
	}
	return len(b), nil
}

func (t *lineTail) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.lines) == t.max {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if rest := strings.TrimSpace(t.partial.String()); rest != "" {
		lines = append(lines[:len(lines):len(lines)], rest)
	}
	return strings.Join(lines, "; ")
}
