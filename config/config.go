// Package config loads glasslink settings from YAML with environment
// overrides for the data directory and log level.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/glasses"
	"github.com/user/glasslink/layout"
	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
)

// Environment overrides
const (
	EnvDataDir  = "GLASSLINK_DIR"
	EnvLogLevel = "GLASSLINK_LOG_LEVEL"
)

// Config is the glasslink.yaml document
type Config struct {
	DataDir   string                 `yaml:"data_dir,omitempty"`
	LogLevel  string                 `yaml:"log_level"`
	Device    DeviceConfig           `yaml:"device"`
	Link      LinkConfig             `yaml:"link"`
	Heartbeat HeartbeatConfig        `yaml:"heartbeat"`
	Display   DisplayConfig          `yaml:"display"`
	Whitelist []codec.WhitelistEntry `yaml:"whitelist"`
	Relay     RelayConfig            `yaml:"relay"`
}

// DeviceConfig selects which glasses to connect to
type DeviceConfig struct {
	NamePrefix string `yaml:"name_prefix"`
	Address    string `yaml:"address,omitempty"`
	Protocol   string `yaml:"protocol"` // g1 or nex
}

// LinkConfig tunes the send queue and reconnection
type LinkConfig struct {
	MaxWrite      int           `yaml:"max_write"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	ChunkGap      time.Duration `yaml:"chunk_gap"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	ScanTimeout   time.Duration `yaml:"scan_timeout,omitempty"`
}

// HeartbeatConfig tunes the keepalive
type HeartbeatConfig struct {
	Interval     time.Duration `yaml:"interval"`
	BatteryEvery int           `yaml:"battery_every"`
	BatteryDelay time.Duration `yaml:"battery_delay"`
	MaxMissed    int           `yaml:"max_missed"`
}

// DisplayConfig describes the display geometry and text pacing
type DisplayConfig struct {
	Width          int           `yaml:"width"`
	MarginSpaces   int           `yaml:"margin_spaces"`
	LinesPerPage   int           `yaml:"lines_per_page"`
	Lookback       int           `yaml:"lookback"`
	TextChunkDelay time.Duration `yaml:"text_chunk_delay"`
	GlyphFile      string        `yaml:"glyph_file,omitempty"`
}

// RelayConfig controls the WebSocket event relay
type RelayConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the settings used when no file is present
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			NamePrefix: "Even G1",
			Protocol:   string(link.FlavourG1),
		},
		Link: LinkConfig{
			MaxWrite:      codec.DefaultMaxWrite,
			AckTimeout:    time.Second,
			ChunkGap:      5 * time.Millisecond,
			SettleDelay:   350 * time.Millisecond,
			ReconnectBase: 3 * time.Second,
			ReconnectMax:  60 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval:     15 * time.Second,
			BatteryEvery: 10,
			BatteryDelay: 500 * time.Millisecond,
			MaxMissed:    3,
		},
		Display: DisplayConfig{
			Width:          layout.DefaultDisplayWidth,
			MarginSpaces:   layout.DefaultMarginSpaces,
			LinesPerPage:   layout.DefaultLinesPerPage,
			Lookback:       layout.DefaultLookback,
			TextChunkDelay: 300 * time.Millisecond,
		},
		Whitelist: append([]codec.WhitelistEntry{}, glasses.DefaultWhitelist...),
		Relay:     RelayConfig{Listen: "127.0.0.1:8765"},
	}
}

// DataDir returns the directory for config and journals. GLASSLINK_DIR
// overrides the default of ~/.glasslink.
func DataDir() string {
	if envDir := os.Getenv(EnvDataDir); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".glasslink"
	}
	return filepath.Join(home, ".glasslink")
}

// DefaultPath is the config file inside the data directory
func DefaultPath() string {
	return filepath.Join(DataDir(), "glasslink.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("config", "%s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if cfg.DataDir == "" || os.Getenv(EnvDataDir) != "" {
		cfg.DataDir = DataDir()
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.DebugJSON("config", "loaded", cfg)
	return cfg, nil
}

// Save writes the config as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch link.Flavour(c.Device.Protocol) {
	case link.FlavourG1, link.FlavourNex:
	default:
		problems = append(problems, fmt.Sprintf("device.protocol %q is not g1 or nex", c.Device.Protocol))
	}
	check(c.Link.MaxWrite >= 20 && c.Link.MaxWrite <= 512, "link.max_write %d outside 20-512", c.Link.MaxWrite)
	check(c.Link.AckTimeout > 0, "link.ack_timeout must be positive")
	check(c.Link.ChunkGap >= 0, "link.chunk_gap must not be negative")
	check(c.Link.SettleDelay >= 0, "link.settle_delay must not be negative")
	check(c.Link.ReconnectBase > 0, "link.reconnect_base must be positive")
	check(c.Link.ReconnectMax >= c.Link.ReconnectBase, "link.reconnect_max must be at least reconnect_base")
	check(c.Heartbeat.Interval > 0, "heartbeat.interval must be positive")
	check(c.Heartbeat.BatteryEvery > 0, "heartbeat.battery_every must be positive")
	check(c.Heartbeat.MaxMissed > 0, "heartbeat.max_missed must be positive")
	check(c.Display.Width > 0, "display.width must be positive")
	check(c.Display.MarginSpaces >= 0, "display.margin_spaces must not be negative")
	check(c.Display.LinesPerPage > 0, "display.lines_per_page must be positive")
	check(c.Display.TextChunkDelay >= 0, "display.text_chunk_delay must not be negative")

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel)
}

// Selector returns the device selector
func (c *Config) Selector() transport.Selector {
	return transport.Selector{Address: c.Device.Address, NamePrefix: c.Device.NamePrefix}
}

// GlassesOptions builds the facade options. A configured glyph file is
// loaded here.
func (c *Config) GlassesOptions() (glasses.Options, error) {
	var oracle layout.WidthOracle = layout.DefaultGlyphs()
	if c.Display.GlyphFile != "" {
		f, err := os.Open(c.Display.GlyphFile)
		if err != nil {
			return glasses.Options{}, fmt.Errorf("open glyph file: %w", err)
		}
		defer f.Close()
		table, err := layout.LoadGlyphTable(f)
		if err != nil {
			return glasses.Options{}, err
		}
		oracle = table
	}

	return glasses.Options{
		Link: link.Options{
			Queue: link.QueueOptions{
				AckTimeout: c.Link.AckTimeout,
				ChunkGap:   c.Link.ChunkGap,
			},
			Heartbeat: link.HeartbeatOptions{
				Interval:     c.Heartbeat.Interval,
				BatteryEvery: c.Heartbeat.BatteryEvery,
				BatteryDelay: c.Heartbeat.BatteryDelay,
				MaxMissed:    c.Heartbeat.MaxMissed,
				Flavour:      link.Flavour(c.Device.Protocol),
			},
			SettleDelay:   c.Link.SettleDelay,
			ReconnectBase: c.Link.ReconnectBase,
			ReconnectMax:  c.Link.ReconnectMax,
			ScanTimeout:   c.Link.ScanTimeout,
		},
		MaxWrite: c.Link.MaxWrite,
		Layout: layout.Layout{
			Oracle:       oracle,
			DisplayWidth: c.Display.Width,
			MarginSpaces: c.Display.MarginSpaces,
			LinesPerPage: c.Display.LinesPerPage,
			Lookback:     c.Display.Lookback,
		},
		TextChunkDelay: c.Display.TextChunkDelay,
		Whitelist:      c.Whitelist,
	}, nil
}
