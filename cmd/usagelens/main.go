package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/amplihq/usagelens/internal/config"
	"github.com/amplihq/usagelens/internal/ingest"
	"github.com/amplihq/usagelens/internal/insights"
	"github.com/amplihq/usagelens/internal/server"
	"github.com/amplihq/usagelens/internal/store"
	"github.com/amplihq/usagelens/internal/tips"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "ingest":
			runIngest(os.Args[2:])
			return
		case "insights":
			runInsights(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("usagelens %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`usagelens %s - incremental metrics for AI-assisted work sessions

Ingests normalized session records into SQLite, maintains per-window
aggregates, and answers growth and insights queries over a local API.

Usage:
  usagelens [flags]           Start the server (default command)
  usagelens serve [flags]     Start the server (explicit)
  usagelens ingest [flags]    Ingest session JSONL from a file or stdin
  usagelens insights [flags]  Print the insights report
  usagelens version           Show version information
  usagelens help              Show this help

Server flags:
  -host string         Host to bind to (default "127.0.0.1")
  -port int            Port to listen on (default 8994)
  -granularity string  Window granularity: daily, weekly, monthly

Ingest flags:
  -file string         JSONL file to read ("-" or empty for stdin)
  -correct             Treat records as corrections of known sessions

Insights flags:
  -subject string      Subject to report on (default "local")
  -range string        Time range: week, month, 90days, all
  -tools               Show the tool usage breakdown instead
  -growth              Show the growth summary instead

Environment variables:
  USAGELENS_DATA_DIR     Data directory (database, config)
  USAGELENS_GRANULARITY  Window granularity
  USAGELENS_RULES_PATH   YAML tip rule file
  USAGELENS_TIP_AGENT    Agent CLI for model-generated tips

Data is stored in ~/.usagelens/ by default.
`, version)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("usagelens", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: usagelens [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	st := mustOpenStore(cfg)
	defer st.Close()

	pipe := ingest.New(st, cfg.Granularity)
	engine := buildInsightsEngine(cfg, st)

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, st, pipe, engine,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	fmt.Printf("usagelens %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func mustLoadConfig() config.Config {
	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return cfg
}

func mustOpenStore(cfg config.Config) *store.Store {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return st
}

// buildGenerator assembles the tip generator: built-in or loaded
// rules, wrapped by the model-backed generator when an agent is
// configured.
func buildGenerator(cfg config.Config) (tips.Generator, error) {
	rules := tips.DefaultRules
	if cfg.RulesPath != "" {
		loaded, err := tips.LoadRules(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("loading tip rules: %w", err)
		}
		rules = loaded
	}
	engine := tips.NewEngine(rules, cfg.MinSampleSize)
	if cfg.TipAgent == "" && cfg.TipCommand == "" {
		return engine, nil
	}
	return tips.NewModelGenerator(cfg.TipAgent, cfg.TipCommand, engine), nil
}

func buildInsightsEngine(cfg config.Config, st *store.Store) *insights.Engine {
	gen, err := buildGenerator(cfg)
	if err != nil {
		log.Fatalf("building tip generator: %v", err)
	}
	return insights.New(st, cfg.Granularity,
		insights.WithGenerator(gen),
		insights.WithGrowthConfig(growthConfig(cfg)),
		insights.WithTrendWindows(cfg.TrendWindows),
	)
}
