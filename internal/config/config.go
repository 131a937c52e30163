package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/amplihq/usagelens/internal/window"
)

// Config holds all application configuration.
type Config struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DataDir string `json:"data_dir"`
	DBPath  string `json:"-"`

	// Granularity is the window bucketing unit: daily, weekly,
	// or monthly.
	Granularity window.Granularity `json:"granularity"`

	// ImproveThreshold and DeclineThreshold are the signed
	// percent changes past which a metric counts as improving
	// or declining.
	ImproveThreshold float64 `json:"improve_threshold"`
	DeclineThreshold float64 `json:"decline_threshold"`

	// TrendWindows is the trailing window count fed to the
	// trend-strength correlation.
	TrendWindows int `json:"trend_windows"`

	// MinSampleSize is the session floor below which tip rules
	// stay silent.
	MinSampleSize int `json:"min_sample_size"`

	// RulesPath points at an optional YAML rule file extending
	// or replacing the built-in tip rules.
	RulesPath string `json:"rules_path,omitempty"`

	// TipAgent selects the agent CLI for model-generated tips
	// (claude, codex, gemini); empty means rules only.
	// TipCommand overrides the agent with a custom command line.
	TipAgent   string `json:"tip_agent,omitempty"`
	TipCommand string `json:"tip_command,omitempty"`

	// ReconcileSchedule is the cron spec for the window
	// reconciliation sweep; empty disables it.
	ReconcileSchedule string `json:"reconcile_schedule,omitempty"`

	WriteTimeout time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".usagelens")
	return Config{
		Host:              "127.0.0.1",
		Port:              8994,
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "metrics.db"),
		Granularity:       window.Weekly,
		ImproveThreshold:  5.0,
		DeclineThreshold:  -5.0,
		TrendWindows:      8,
		MinSampleSize:     10,
		ReconcileSchedule: "@hourly",
		WriteTimeout:      30 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, env, and config file,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir resolves first since it decides where the
	// config file lives.
	if v := os.Getenv("USAGELENS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	cfg.DBPath = filepath.Join(cfg.DataDir, "metrics.db")

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Granularity       string   `json:"granularity"`
		ImproveThreshold  *float64 `json:"improve_threshold"`
		DeclineThreshold  *float64 `json:"decline_threshold"`
		TrendWindows      *int     `json:"trend_windows"`
		MinSampleSize     *int     `json:"min_sample_size"`
		RulesPath         string   `json:"rules_path"`
		TipAgent          string   `json:"tip_agent"`
		TipCommand        string   `json:"tip_command"`
		ReconcileSchedule *string  `json:"reconcile_schedule"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Granularity != "" {
		c.Granularity = window.Granularity(file.Granularity)
	}
	if file.ImproveThreshold != nil {
		c.ImproveThreshold = *file.ImproveThreshold
	}
	if file.DeclineThreshold != nil {
		c.DeclineThreshold = *file.DeclineThreshold
	}
	if file.TrendWindows != nil {
		c.TrendWindows = *file.TrendWindows
	}
	if file.MinSampleSize != nil {
		c.MinSampleSize = *file.MinSampleSize
	}
	if file.RulesPath != "" {
		c.RulesPath = file.RulesPath
	}
	if file.TipAgent != "" {
		c.TipAgent = file.TipAgent
	}
	if file.TipCommand != "" {
		c.TipCommand = file.TipCommand
	}
	if file.ReconcileSchedule != nil {
		c.ReconcileSchedule = *file.ReconcileSchedule
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("USAGELENS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("USAGELENS_GRANULARITY"); v != "" {
		c.Granularity = window.Granularity(v)
	}
	if v := os.Getenv("USAGELENS_RULES_PATH"); v != "" {
		c.RulesPath = v
	}
	if v := os.Getenv("USAGELENS_TIP_AGENT"); v != "" {
		c.TipAgent = v
	}
	if v := os.Getenv("USAGELENS_TIP_COMMAND"); v != "" {
		c.TipCommand = v
	}
}

func (c *Config) validate() error {
	if !c.Granularity.Valid() {
		return fmt.Errorf("invalid granularity %q", c.Granularity)
	}
	if c.TrendWindows < 1 {
		return fmt.Errorf("trend_windows must be positive, got %d", c.TrendWindows)
	}
	if c.MinSampleSize < 0 {
		return fmt.Errorf("min_sample_size must not be negative, got %d", c.MinSampleSize)
	}
	if c.ImproveThreshold < 0 {
		return fmt.Errorf("improve_threshold must not be negative, got %v", c.ImproveThreshold)
	}
	if c.DeclineThreshold > 0 {
		return fmt.Errorf("decline_threshold must not be positive, got %v", c.DeclineThreshold)
	}
	return nil
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8994, "Port to listen on")
	fs.String(
		"granularity", string(window.Weekly),
		"Window granularity (daily, weekly, monthly)",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "granularity":
			cfg.Granularity = window.Granularity(f.Value.String())
		}
	})
}
