package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Link.AckTimeout != time.Second || cfg.Link.SettleDelay != 350*time.Millisecond {
		t.Errorf("Unexpected link defaults %+v", cfg.Link)
	}
	if cfg.Heartbeat.BatteryEvery != 10 || cfg.Heartbeat.MaxMissed != 3 {
		t.Errorf("Unexpected heartbeat defaults %+v", cfg.Heartbeat)
	}
	if len(cfg.Whitelist) != 1 || cfg.Whitelist[0].ID != "com.augment.os" {
		t.Errorf("Unexpected whitelist %+v", cfg.Whitelist)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Device.NamePrefix != "Even G1" || cfg.Link.MaxWrite != 180 {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	path := filepath.Join(dir, "glasslink.yaml")
	doc := `
log_level: debug
device:
  name_prefix: "Mentra"
  protocol: nex
link:
  max_write: 120
  ack_timeout: 750ms
heartbeat:
  interval: 5s
display:
  lines_per_page: 4
whitelist:
  - {id: com.chat, name: Chat}
  - {id: com.mail, name: Mail}
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Device.NamePrefix != "Mentra" || cfg.Device.Protocol != "nex" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if cfg.Link.MaxWrite != 120 || cfg.Link.AckTimeout != 750*time.Millisecond {
		t.Errorf("Link = %+v", cfg.Link)
	}
	if cfg.Link.SettleDelay != 350*time.Millisecond {
		t.Errorf("Unset field lost its default: %v", cfg.Link.SettleDelay)
	}
	if cfg.Heartbeat.Interval != 5*time.Second || cfg.Display.LinesPerPage != 4 {
		t.Errorf("Heartbeat/Display = %+v %+v", cfg.Heartbeat, cfg.Display)
	}
	if len(cfg.Whitelist) != 2 || cfg.Whitelist[1].Name != "Mail" {
		t.Errorf("Whitelist = %+v", cfg.Whitelist)
	}
	if cfg.Level() != logger.DEBUG {
		t.Errorf("Level = %v", cfg.Level())
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}

	opts, err := cfg.GlassesOptions()
	if err != nil {
		t.Fatalf("GlassesOptions failed: %v", err)
	}
	if opts.Link.Heartbeat.Flavour != link.FlavourNex || opts.MaxWrite != 120 || opts.Layout.LinesPerPage != 4 {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestLoad_EnvLogLevel(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvLogLevel, "trace")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Level() != logger.TRACE {
		t.Errorf("Level = %v", cfg.Level())
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"protocol", "device: {protocol: bogus}", "device.protocol"},
		{"max write", "link: {max_write: 8}", "link.max_write"},
		{"backoff", "link: {reconnect_base: 10s, reconnect_max: 1s}", "reconnect_max"},
		{"lines", "display: {lines_per_page: 0}", "lines_per_page"},
		{"syntax", "link: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	path := filepath.Join(dir, "nested", "glasslink.yaml")

	cfg := Default()
	cfg.Heartbeat.Interval = 7 * time.Second
	cfg.Device.Address = "AA:BB:CC:DD:EE:FF"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Heartbeat.Interval != 7*time.Second || loaded.Selector().Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Loaded %+v", loaded)
	}
}

func TestGlassesOptions_GlyphFile(t *testing.T) {
	dir := t.TempDir()
	glyphs := filepath.Join(dir, "glyphs.yaml")
	doc := "default_width: 4\nglyphs:\n  - {char: \" \", width: 1}\n"
	if err := os.WriteFile(glyphs, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := Default()
	cfg.Display.GlyphFile = glyphs
	opts, err := cfg.GlassesOptions()
	if err != nil {
		t.Fatalf("GlassesOptions failed: %v", err)
	}
	// (1 + spacing 1) * scale 2
	if w := opts.Layout.Oracle.Width(" "); w != 4 {
		t.Errorf("Space width = %d", w)
	}

	cfg.Display.GlyphFile = filepath.Join(dir, "missing.yaml")
	if _, err := cfg.GlassesOptions(); err == nil {
		t.Error("Expected error for missing glyph file")
	}
}
