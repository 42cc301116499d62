package main

import (
	"context"
	"flag"
	"log"
	"time"

	"netsentry/internal/aggregator"
	"netsentry/internal/config"
	"netsentry/internal/storage"
)

// ns-rollup is the one-shot entry point for an external scheduler: it runs
// the requested rollups against the configured store and exits. Every
// rollup is idempotent, so overlapping or redundant invocations are safe.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	scope := flag.String("scope", "all", "Which rollups to run: daily, monthly, yearly, devices, or all.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	agg := aggregator.New(store)

	run := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			log.Printf("%s rollup failed: %v", name, err)
		} else {
			log.Printf("%s rollup complete", name)
		}
	}

	switch *scope {
	case "daily":
		run("daily", agg.RunDailyRollup)
	case "monthly":
		run("monthly", agg.RunMonthlyRollup)
	case "yearly":
		run("yearly", agg.RunYearlyRollup)
	case "devices":
		run("devices", agg.RunDeviceRollups)
	case "all":
		run("daily", agg.RunDailyRollup)
		run("monthly", agg.RunMonthlyRollup)
		run("yearly", agg.RunYearlyRollup)
		run("devices", agg.RunDeviceRollups)
	default:
		log.Fatalf("Unknown scope %q", *scope)
	}
}
