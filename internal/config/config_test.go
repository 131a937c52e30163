package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/amplihq/usagelens/internal/window"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Port != 8994 {
		t.Errorf("Port = %d, want 8994", cfg.Port)
	}
	if cfg.Granularity != window.Weekly {
		t.Errorf("Granularity = %s, want weekly", cfg.Granularity)
	}
	if cfg.TrendWindows != 8 || cfg.MinSampleSize != 10 {
		t.Errorf("TrendWindows = %d, MinSampleSize = %d, want 8 and 10",
			cfg.TrendWindows, cfg.MinSampleSize)
	}
	if cfg.ImproveThreshold != 5.0 || cfg.DeclineThreshold != -5.0 {
		t.Errorf("thresholds = %v/%v, want +5/-5",
			cfg.ImproveThreshold, cfg.DeclineThreshold)
	}
	if filepath.Base(cfg.DBPath) != "metrics.db" {
		t.Errorf("DBPath = %q, want .../metrics.db", cfg.DBPath)
	}
}

func TestLoadMinimalReadsConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("USAGELENS_DATA_DIR", dataDir)

	content := `{
		"granularity": "daily",
		"improve_threshold": 10,
		"decline_threshold": -10,
		"trend_windows": 4,
		"min_sample_size": 3,
		"tip_agent": "claude"
	}`
	if err := os.WriteFile(
		filepath.Join(dataDir, "config.json"), []byte(content), 0o600,
	); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.Granularity != window.Daily {
		t.Errorf("Granularity = %s, want daily", cfg.Granularity)
	}
	if cfg.ImproveThreshold != 10 || cfg.DeclineThreshold != -10 {
		t.Errorf("thresholds = %v/%v, want +10/-10",
			cfg.ImproveThreshold, cfg.DeclineThreshold)
	}
	if cfg.TrendWindows != 4 || cfg.MinSampleSize != 3 {
		t.Errorf("TrendWindows = %d, MinSampleSize = %d, want 4 and 3",
			cfg.TrendWindows, cfg.MinSampleSize)
	}
	if cfg.TipAgent != "claude" {
		t.Errorf("TipAgent = %q, want claude", cfg.TipAgent)
	}
	if cfg.DBPath != filepath.Join(dataDir, "metrics.db") {
		t.Errorf("DBPath = %q, want under %s", cfg.DBPath, dataDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("USAGELENS_DATA_DIR", dataDir)
	t.Setenv("USAGELENS_TIP_AGENT", "codex")
	// Explicitly setting the default value still beats the file.
	t.Setenv("USAGELENS_GRANULARITY", "weekly")

	content := `{"tip_agent": "claude", "granularity": "daily"}`
	if err := os.WriteFile(
		filepath.Join(dataDir, "config.json"), []byte(content), 0o600,
	); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.TipAgent != "codex" {
		t.Errorf("TipAgent = %q, want env value codex", cfg.TipAgent)
	}
	if cfg.Granularity != window.Weekly {
		t.Errorf("Granularity = %s, want env value weekly", cfg.Granularity)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("USAGELENS_DATA_DIR", t.TempDir())
	t.Setenv("USAGELENS_GRANULARITY", "hourly")

	if _, err := LoadMinimal(); err == nil {
		t.Error("expected error for unknown granularity")
	}
}

func TestFlagsOverride(t *testing.T) {
	t.Setenv("USAGELENS_DATA_DIR", t.TempDir())

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse([]string{"-port", "9001", "-granularity", "monthly"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if cfg.Granularity != window.Monthly {
		t.Errorf("Granularity = %s, want monthly", cfg.Granularity)
	}
	// Unset flags keep their lower-layer values.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default", cfg.Host)
	}
}
