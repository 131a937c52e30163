package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/amplihq/usagelens/internal/config"
	"github.com/amplihq/usagelens/internal/growth"
	"github.com/amplihq/usagelens/internal/insights"
)

func growthConfig(cfg config.Config) growth.Config {
	gc := growth.DefaultConfig()
	gc.ImproveThreshold = cfg.ImproveThreshold
	gc.DeclineThreshold = cfg.DeclineThreshold
	return gc
}

// runInsights prints the conversational report, or the tool-usage
// or growth breakdowns.
func runInsights(args []string) {
	fs := flag.NewFlagSet("insights", flag.ExitOnError)
	subject := fs.String("subject", "local", "Subject to report on")
	rangeStr := fs.String("range", "week", "Time range: week, month, 90days, all")
	toolsOnly := fs.Bool("tools", false, "Show the tool usage breakdown instead")
	growthOnly := fs.Bool("growth", false, "Show the growth summary instead")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg := mustLoadConfig()
	st := mustOpenStore(cfg)
	defer st.Close()

	engine := buildInsightsEngine(cfg, st)
	ctx := context.Background()

	switch {
	case *toolsOnly:
		usage, err := engine.GetToolUsage(ctx, *subject)
		if errors.Is(err, insights.ErrInsufficientData) {
			fmt.Println("No tool calls recorded yet.")
			return
		}
		if err != nil {
			log.Fatalf("querying tool usage: %v", err)
		}
		fmt.Print(insights.FormatToolUsage(usage))

	case *growthOnly:
		summary, err := engine.GetGrowth(ctx, *subject)
		if errors.Is(err, insights.ErrInsufficientData) {
			fmt.Println("No sessions recorded yet.")
			return
		}
		if err != nil {
			log.Fatalf("querying growth: %v", err)
		}
		fmt.Print(insights.FormatGrowth(summary))

	default:
		timeRange, err := insights.ParseRange(*rangeStr)
		if err != nil {
			log.Fatalf("%v", err)
		}
		report, err := engine.GetInsights(ctx, *subject, timeRange)
		if err != nil {
			log.Fatalf("querying insights: %v", err)
		}
		fmt.Print(insights.FormatReport(report))
	}
}
