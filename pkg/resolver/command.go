package resolver

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultShell   = "/bin/sh"
	defaultCommand = `yt-dlp --ignore-config --flat-playlist --print "%(id)s	%(title)s" -- "$1"`
	defaultTimeout = 2 * time.Minute
)

type CommandConfig struct {
	Shell   string        `yaml:"shell,omitempty"`
	Command string        `yaml:"command,omitempty"` // run with the source reference as $1, prints "id<TAB>title" lines
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (cfg *CommandConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Shell, util.PrefixConfig(prefix, "shell"), defaultShell, "Shell used to run the resolver command.")
	f.StringVar(&cfg.Command, util.PrefixConfig(prefix, "command"), defaultCommand,
		"Command that lists the items of a source reference, given as $1. Each output line is an item ID, optionally followed by a tab and its title.")
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), defaultTimeout, "Maximum time a single resolution may take.")
}

// Runner abstracts command execution for testability.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type Option func(*Command)

// WithRunner injects a custom runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(c *Command) {
		if r != nil {
			c.runner = r
		}
	}
}

// Command resolves sources by running an external command.
type Command struct {
	cfg    CommandConfig
	runner Runner
}

func NewCommand(cfg CommandConfig, opts ...Option) *Command {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	c := &Command{cfg: cfg, runner: execRunner{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Command) Resolve(ctx context.Context, source string) ([]Item, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	out, err := c.runner.Output(ctx, c.cfg.Shell, "-c", c.cfg.Command, "tuberadio", source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolve, source, err)
	}

	items := ParseItems(out)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s: no items", ErrResolve, source)
	}
	return items, nil
}

// ParseItems reads one item per line. Blank lines, duplicate IDs and
// placeholder IDs are dropped.
func ParseItems(out []byte) []Item {
	var items []Item
	seen := map[string]struct{}{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		id, title, _ := strings.Cut(scanner.Text(), "\t")
		id = strings.TrimSpace(id)
		title = strings.TrimSpace(title)
		if id == "" || id == "NA" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if title == "NA" {
			title = ""
		}
		items = append(items, Item{ID: id, Title: title})
	}
	return items
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
