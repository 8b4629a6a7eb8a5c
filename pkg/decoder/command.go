package decoder

import (
	"context"
	"flag"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

const (
	defaultShell   = "/bin/sh"
	defaultCommand = `yt-dlp --ignore-config --quiet --no-warnings -f bestaudio -o - -- "$1" | ffmpeg -hide_banner -loglevel error -i pipe:0 -vn -f mp3 -b:a 128k pipe:1`
)

type CommandConfig struct {
	Shell   string `yaml:"shell,omitempty"`
	Command string `yaml:"command,omitempty"` // run with the item ID as $1, writes encoded audio to stdout
}

func (cfg *CommandConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Shell, util.PrefixConfig(prefix, "shell"), defaultShell, "Shell used to run the decoder command.")
	f.StringVar(&cfg.Command, util.PrefixConfig(prefix, "command"), defaultCommand,
		"Command that writes the encoded audio of an item, given as $1, to stdout.")
}

// Command decodes an item by running one external process per item.
type Command struct {
	cfg CommandConfig
}

func NewCommand(cfg CommandConfig) *Command {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	return &Command{cfg: cfg}
}

func (c *Command) Decode(ctx context.Context, item resolver.Item) (Stream, error) {
	return Start(ctx, c.cfg.Shell, "-c", c.cfg.Command, "tuberadio", item.ID)
}
