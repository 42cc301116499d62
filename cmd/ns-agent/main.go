package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netsentry/internal/aggregator"
	"netsentry/internal/alerter"
	"netsentry/internal/api"
	"netsentry/internal/archive"
	"netsentry/internal/config"
	"netsentry/internal/engine/collector"
	"netsentry/internal/events"
	"netsentry/internal/geo"
	"netsentry/internal/notification"
	"netsentry/internal/predictor"
	"netsentry/internal/storage"

	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Capture interface, overrides the config value.")
	flag.Parse()

	log.Println("Starting ns-agent...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Printf("Store opened (driver: %s)", cfg.Storage.Driver)

	opts := collector.Options{
		PacketLogSize:      cfg.Collector.PacketLogSize,
		BandwidthHistory:   cfg.Collector.BandwidthHistory,
		BandwidthInterval:  config.Duration(cfg.Collector.BandwidthInterval, 2*time.Second),
		FlushInterval:      config.Duration(cfg.Collector.FlushInterval, 30*time.Second),
		SessionTimeout:     config.Duration(cfg.Collector.SessionTimeout, 30*time.Second),
		MaxExternalEntries: cfg.Collector.MaxExternalEntries,
		Interface:          cfg.Capture.Interface,
		OrgID:              cfg.Collector.OrgID,
		Store:              store,
	}

	if cfg.GeoIP.DatabasePath != "" {
		enricher, err := geo.New(cfg.GeoIP.DatabasePath, config.Duration(cfg.GeoIP.CacheTTL, time.Hour))
		if err != nil {
			log.Printf("GeoIP disabled: %v", err)
		} else {
			defer enricher.Close()
			opts.Geo = enricher
		}
	}

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.NewPublisher(cfg.Events.NATSURL)
		if err != nil {
			log.Printf("Event bus disabled: %v", err)
		} else {
			defer publisher.Close()
			opts.Events = publisher
		}
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewWriter(cfg.Archive)
		if err != nil {
			log.Printf("Packet archive disabled: %v", err)
		} else {
			defer archiver.Close()
			opts.Archive = archiver
		}
	}

	opts.NewSource = func(name string) (collector.Source, error) {
		src, err := collector.NewLiveSource(name, cfg.Capture.SnapshotLen,
			cfg.Capture.Promiscuous, config.Duration(cfg.Capture.PollTimeout, 500*time.Millisecond))
		if err != nil {
			log.Printf("Live capture unavailable (%v), falling back to synthetic generator", err)
			return collector.NewGenerator(cfg.Capture.FallbackRate), nil
		}
		log.Printf("Live capture started on %s", name)
		return src, nil
	}

	coll := collector.New(opts)
	if err := coll.Start(); err != nil {
		log.Fatalf("Failed to start collector: %v", err)
	}
	defer coll.Stop()

	agg := aggregator.New(store)
	pred := predictor.New(store, cfg.Alerter.ZThreshold)

	if cfg.Alerter.Enabled {
		var notifier alerter.Notifier
		if cfg.SMTP.Host != "" {
			notifier = notification.NewEmailNotifier(cfg.SMTP)
		}
		al, err := alerter.New(cfg.Alerter, store, pred, notifier, publisher)
		if err != nil {
			log.Fatalf("Failed to create alerter: %v", err)
		}
		go al.Start()
		defer al.Stop()
		log.Println("Alerter enabled and initialized.")
	}

	if cfg.Scheduler.Enabled {
		c := cron.New()
		schedule := func(spec string, name string, run func(context.Context) error) {
			_, err := c.AddFunc(spec, func() {
				jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := run(jobCtx); err != nil {
					log.Printf("%s failed: %v", name, err)
				}
			})
			if err != nil {
				log.Fatalf("Invalid cron spec %q for %s: %v", spec, name, err)
			}
		}
		schedule(cfg.Scheduler.DailyRollup, "daily rollup", agg.RunDailyRollup)
		schedule(cfg.Scheduler.MonthlyRollup, "monthly rollup", agg.RunMonthlyRollup)
		schedule(cfg.Scheduler.YearlyRollup, "yearly rollup", agg.RunYearlyRollup)
		schedule(cfg.Scheduler.DailyRollup, "device rollups", agg.RunDeviceRollups)
		c.Start()
		defer c.Stop()
		log.Println("Embedded scheduler started.")
	}

	server := api.NewServer(cfg.API.ListenAddr, coll, agg, pred)
	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	log.Println("Shutdown complete.")
}
