package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	sentinel "github.com/sentinelhq/sentinel"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := sentinel.LoadConfig(*configPath)
	logger := sentinel.NewLogger(cfg.Log)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics := sentinel.NewMetrics()

	var store sentinel.EventStore
	if cfg.Database != "" {
		store, err = sentinel.NewSQLiteEventStore(cfg.Database, cfg.MaxEvents)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open event store")
		}
	} else {
		store = sentinel.NewMemoryEventStore(cfg.MaxEvents)
	}
	defer store.Close()

	var (
		source sentinel.RawEventSource
		pusher sentinel.EventPusher
		bus    sentinel.BusPublisher
	)
	if cfg.NATS.URL != "" {
		natsSource, err := sentinel.NewNATSSource(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to raw event bus")
		}
		defer natsSource.Close()

		natsBus, err := sentinel.NewNATSBus(cfg.NATS.URL, cfg.NATS.Subject+".processed")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect event bus publisher")
		}
		defer natsBus.Close()

		source, bus = natsSource, natsBus
	} else {
		ch := sentinel.NewChannelSource(0)
		source, pusher = ch, ch
		bus = sentinel.NewLogBusPublisher(logger)
	}

	detector := sentinel.NewBruteForceDetector(cfg.FailedLoginThreshold, cfg.BruteForceWindowDuration(), nil)
	monitor := sentinel.NewEventMonitor(cfg.SuspiciousServices, nil, logger)
	enricher := sentinel.NewGeoEnricher([]sentinel.ProviderBudget{
		{Provider: sentinel.NewIPAPIProvider(""), PerMinute: sentinel.DefaultPrimaryBudget},
		{Provider: sentinel.NewIPInfoProvider("", cfg.GeoAPIKey), PerMinute: sentinel.DefaultSecondaryBudget},
	}, cfg.GeoCacheTTLDuration(), nil, logger, metrics)

	alerts := sentinel.NewNotificationRegistry(logger)
	for _, channel := range cfg.Notify.Channels {
		switch channel {
		case "log":
			alerts.Register(sentinel.NewLogSender(logger))
		case "webhook":
			alerts.Register(sentinel.NewWebhookSender(cfg.Notify.WebhookURL))
		case "slack":
			alerts.Register(sentinel.NewSlackSender(cfg.Notify.SlackWebhookURL))
		case "email":
			alerts.Register(sentinel.NewEmailSender(cfg.Notify.SMTP))
		default:
			logger.Warn().Str("channel", channel).Msg("unknown notification channel, skipping")
		}
	}

	coord := sentinel.NewCoordinator(sentinel.CoordinatorOptions{
		Interval:       cfg.ScanIntervalDuration(),
		AlertThreshold: cfg.AlertThreshold(),
		Logger:         logger,
		Metrics:        metrics,
		Source:         source,
		Monitor:        monitor,
		Detector:       detector,
		Enricher:       enricher,
		History:        sentinel.NewEventHistory(cfg.MaxEvents),
		Store:          store,
		Bus:            bus,
		Alerts:         alerts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go coord.Run(ctx)

	go func() {
		err := sentinel.WatchConfig(ctx, *configPath, logger, func(fresh sentinel.Config) {
			detector.SetLimits(fresh.FailedLoginThreshold, fresh.BruteForceWindowDuration())
		})
		if err != nil {
			logger.Warn().Err(err).Msg("config hot reload unavailable")
		}
	}()

	server := sentinel.NewServer(coord, store, pusher, metrics, logger)
	go func() {
		if err := server.Listen(cfg.Listen); err != nil {
			logger.Error().Err(err).Msg("http server exited")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}
