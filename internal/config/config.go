// ABOUTME: Node configuration loaded from file, environment and flags
// ABOUTME: Defaults, validation and YAML dump of the effective settings
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/broadcast"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SOUNDCAST_NAME
const EnvPrefix = "SOUNDCAST"

// Target is one static UDP endpoint
type Target struct {
	Addr   string  `mapstructure:"addr" yaml:"addr"`
	Volume float32 `mapstructure:"volume" yaml:"volume"`
}

// Format is the output audio format
type Format struct {
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`
	BitDepth   int `mapstructure:"bit_depth" yaml:"bit_depth"`
}

// Config holds all node configuration
type Config struct {
	// Identity
	Name string `mapstructure:"name" yaml:"name"`

	// UDP broadcast
	Listen            string        `mapstructure:"listen" yaml:"listen"`
	Targets           []Target      `mapstructure:"targets" yaml:"targets"`
	TargetsFile       string        `mapstructure:"targets_file" yaml:"targets_file"`
	Liveness          int           `mapstructure:"liveness" yaml:"liveness"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	SendInterval      time.Duration `mapstructure:"send_interval" yaml:"send_interval"`

	// Audio
	Format      Format   `mapstructure:"format" yaml:"format"`
	Codec       string   `mapstructure:"codec" yaml:"codec"`
	Compress    bool     `mapstructure:"compress" yaml:"compress"`
	BlockFrames int      `mapstructure:"block_frames" yaml:"block_frames"`
	Sources     []string `mapstructure:"sources" yaml:"sources"`

	// TCP
	TCPListen            string        `mapstructure:"tcp_listen" yaml:"tcp_listen"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	TCPHeartbeatInterval time.Duration `mapstructure:"tcp_heartbeat_interval" yaml:"tcp_heartbeat_interval"`

	// Features
	MDNS          bool   `mapstructure:"mdns" yaml:"mdns"`
	MonitorListen string `mapstructure:"monitor_listen" yaml:"monitor_listen"`
	TUI           bool   `mapstructure:"tui" yaml:"tui"`

	// Logging
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	Debug   bool   `mapstructure:"debug" yaml:"debug"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "soundcast"
	}

	return &Config{
		Name:              hostname,
		Listen:            ":5000",
		Liveness:          10,
		HeartbeatInterval: broadcast.DefaultHeartbeatInterval,
		SendInterval:      broadcast.DefaultSendInterval,
		Format: Format{
			SampleRate: audio.VoiceSampleRate,
			Channels:   audio.VoiceChannels,
			BitDepth:   audio.VoiceBitDepth,
		},
		Codec:                "pcm",
		Compress:             true,
		BlockFrames:          mixer.DefaultBlockFrames,
		TCPListen:            ":5001",
		IdleTimeout:          5 * time.Minute,
		TCPHeartbeatInterval: 30 * time.Second,
		MDNS:                 true,
		LogFile:              "soundcast.log",
	}
}

// setDefaults registers every key so environment variables can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("name", cfg.Name)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("targets", []map[string]any{})
	v.SetDefault("targets_file", cfg.TargetsFile)
	v.SetDefault("liveness", cfg.Liveness)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("send_interval", cfg.SendInterval)
	v.SetDefault("format.sample_rate", cfg.Format.SampleRate)
	v.SetDefault("format.channels", cfg.Format.Channels)
	v.SetDefault("format.bit_depth", cfg.Format.BitDepth)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("compress", cfg.Compress)
	v.SetDefault("block_frames", cfg.BlockFrames)
	v.SetDefault("sources", cfg.Sources)
	v.SetDefault("tcp_listen", cfg.TCPListen)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("tcp_heartbeat_interval", cfg.TCPHeartbeatInterval)
	v.SetDefault("mdns", cfg.MDNS)
	v.SetDefault("monitor_listen", cfg.MonitorListen)
	v.SetDefault("tui", cfg.TUI)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("debug", cfg.Debug)
}

// Load reads configuration from the given file (or soundcast.yaml in the usual
// places when path is empty), the environment and any flags bound to v
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("soundcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/soundcast")
		}
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}

// AudioFormat returns the configured output format
func (c *Config) AudioFormat() audio.Format {
	return audio.Format{
		Codec:      c.Codec,
		SampleRate: c.Format.SampleRate,
		Channels:   c.Format.Channels,
		BitDepth:   c.Format.BitDepth,
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs error

	if c.Name == "" {
		errs = multierr.Append(errs, errors.New("name is required"))
	}
	if err := c.AudioFormat().Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("format: %w", err))
	}
	switch c.Codec {
	case "pcm", "opus":
	default:
		errs = multierr.Append(errs, fmt.Errorf("codec must be pcm or opus, got %q", c.Codec))
	}
	if c.BlockFrames <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("block_frames must be positive, got %d", c.BlockFrames))
	}
	if c.Liveness <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("liveness must be positive, got %d", c.Liveness))
	}
	for key, d := range map[string]time.Duration{
		"heartbeat_interval":     c.HeartbeatInterval,
		"send_interval":          c.SendInterval,
		"idle_timeout":           c.IdleTimeout,
		"tcp_heartbeat_interval": c.TCPHeartbeatInterval,
	} {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	for _, t := range c.Targets {
		if _, err := broadcast.ParseTarget(t.Addr, t.volume()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (t Target) volume() float32 {
	if t.Volume == 0 {
		return 1
	}
	return t.Volume
}

// ResolveTargets returns the configured targets plus those in TargetsFile
func (c *Config) ResolveTargets() ([]broadcast.Target, error) {
	var (
		targets []broadcast.Target
		errs    error
	)
	for _, t := range c.Targets {
		target, err := broadcast.ParseTarget(t.Addr, t.volume())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		targets = append(targets, target)
	}

	if c.TargetsFile != "" {
		fromFile, err := broadcast.LoadTargets(c.TargetsFile)
		errs = multierr.Append(errs, err)
		targets = append(targets, fromFile...)
	}
	return targets, errs
}

// Marshal dumps the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
