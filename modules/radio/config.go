package radio

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/tuberadio/pkg/decoder"
	"github.com/zachfi/tuberadio/pkg/resolver"
)

// Queue sizing guidance (queue-capacity, chunk-size):
// - A chunk is at most chunk-size bytes; 64 x 16KiB holds roughly a minute of 128kbit/s MP3.
// - initial-chunks should stay well below queue-capacity so a listener can start before the producer pauses.
const (
	defaultQueueCapacity     = 64
	defaultChunkSize         = 16 * 1024
	defaultInitialChunks     = 8
	defaultInitialTimeout    = 8 * time.Second
	defaultRefreshInterval   = 30 * time.Minute
	defaultErrorBackoff      = 2 * time.Second
	defaultResolveBackoff    = 5 * time.Second
	defaultResolveBackoffMax = 2 * time.Minute
	defaultIcyMetaInt        = 16000
)

// ChannelConfig declares a channel that exists whenever the server runs.
type ChannelConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Mode   string `yaml:"mode,omitempty"`
}

type Config struct {
	StateFile         string        `yaml:"state-file,omitempty"`
	QueueCapacity     int           `yaml:"queue-capacity,omitempty"`
	ChunkSize         int           `yaml:"chunk-size,omitempty"`
	InitialChunks     int           `yaml:"initial-chunks,omitempty"`
	InitialTimeout    time.Duration `yaml:"initial-timeout,omitempty"`
	RefreshInterval   time.Duration `yaml:"refresh-interval,omitempty"`
	ErrorBackoff      time.Duration `yaml:"error-backoff,omitempty"`   // pause after an unexpected producer error
	ResolveBackoff    time.Duration `yaml:"resolve-backoff,omitempty"` // initial delay while a channel has nothing to play
	ResolveBackoffMax time.Duration `yaml:"resolve-backoff-max,omitempty"`
	FrameSync         bool          `yaml:"frame-sync,omitempty"`
	IcyMetaInt        int           `yaml:"icy-metaint,omitempty"`

	Channels []ChannelConfig       `yaml:"channels,omitempty"`
	Resolver resolver.CommandConfig `yaml:"resolver,omitempty"`
	Decoder  decoder.CommandConfig  `yaml:"decoder,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.StateFile, util.PrefixConfig(prefix, "state-file"), "tuberadio.yaml", "File holding registered channels and cached item lists. Empty keeps state in memory.")
	f.IntVar(&cfg.QueueCapacity, util.PrefixConfig(prefix, "queue-capacity"), defaultQueueCapacity, "Maximum number of chunks buffered per channel.")
	f.IntVar(&cfg.ChunkSize, util.PrefixConfig(prefix, "chunk-size"), defaultChunkSize, "Maximum size in bytes of a single chunk read from the decoder.")
	f.IntVar(&cfg.InitialChunks, util.PrefixConfig(prefix, "initial-chunks"), defaultInitialChunks, "Chunks a new listener waits for before audio starts.")
	f.DurationVar(&cfg.InitialTimeout, util.PrefixConfig(prefix, "initial-timeout"), defaultInitialTimeout, "Longest a new listener waits for initial-chunks.")
	f.DurationVar(&cfg.RefreshInterval, util.PrefixConfig(prefix, "refresh-interval"), defaultRefreshInterval, "How often a channel's items are resolved again, and how long cached items stay fresh.")
	f.DurationVar(&cfg.ErrorBackoff, util.PrefixConfig(prefix, "error-backoff"), defaultErrorBackoff, "Pause after an unexpected producer error.")
	f.DurationVar(&cfg.ResolveBackoff, util.PrefixConfig(prefix, "resolve-backoff"), defaultResolveBackoff,
		"Initial delay before retrying when a channel has nothing to play. Exponential backoff is used up to resolve-backoff-max.")
	f.DurationVar(&cfg.ResolveBackoffMax, util.PrefixConfig(prefix, "resolve-backoff-max"), defaultResolveBackoffMax, "Maximum delay between retries of an idle channel.")
	f.BoolVar(&cfg.FrameSync, util.PrefixConfig(prefix, "frame-sync"), true, "Start every item at its first MP3 frame sync.")
	f.IntVar(&cfg.IcyMetaInt, util.PrefixConfig(prefix, "icy-metaint"), defaultIcyMetaInt, "Audio bytes between ICY metadata blocks for listeners that request them. Zero disables ICY metadata.")

	cfg.Resolver.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "resolver"), f)
	cfg.Decoder.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "decoder"), f)
}

func (cfg *Config) applyDefaults() {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.InitialChunks > cfg.QueueCapacity {
		cfg.InitialChunks = cfg.QueueCapacity
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.ResolveBackoff <= 0 {
		cfg.ResolveBackoff = defaultResolveBackoff
	}
	if cfg.ResolveBackoffMax < cfg.ResolveBackoff {
		cfg.ResolveBackoffMax = cfg.ResolveBackoff
	}
}
