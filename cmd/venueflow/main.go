package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"venueflow/accountsync"
	"venueflow/config"
	"venueflow/execution"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/secrets"
	"venueflow/storage"
	"venueflow/stream"
	"venueflow/venues"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if cfg.Logging.CloudwatchRegion != "" {
		logger.InitCloudWatch(cfg.Logging.CloudwatchRegion, cfg.Logging.CloudwatchNamespace)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Venueflow.Name,
		"version":     cfg.Venueflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting venueflow")

	// The encryption key is mandatory: credentials never live in config
	// as plaintext and a missing key is a startup failure.
	keyring, err := secrets.FromEnv(cfg.Security.EncryptionKeyEnv)
	if err != nil {
		log.WithError(err).Error("Failed to load credential encryption key")
		os.Exit(1)
	}
	credSource := execution.NewKeyringCredentials(cfg, keyring)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := venues.NewRegistry()
	for _, name := range enabledVenues(cfg) {
		adapter, err := execution.NewAdapter(name, cfg, log)
		if err != nil {
			log.WithError(err).Error("Failed to construct venue adapter")
			os.Exit(1)
		}
		creds, err := credSource.Credentials(name, false)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": string(name)}).Error("Failed to resolve venue credentials")
			os.Exit(1)
		}
		if err := adapter.Connect(ctx, creds); err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": string(name)}).Error("Failed to connect venue")
			os.Exit(1)
		}
		registry.Register(adapter)
		log.WithFields(logger.Fields{
			"venue":   string(name),
			"sandbox": adapter.Sandbox(),
		}).Info("venue connected")
	}

	orderStore := storage.NewMemoryOrderStore()
	snapshotStore := storage.NewMemorySnapshotStore(256)

	var archiver *storage.SnapshotArchiver
	if cfg.Storage.S3.Enabled {
		archiver, err = storage.NewSnapshotArchiver(cfg.Storage.S3, log)
		if err != nil {
			log.WithError(err).Error("Failed to create snapshot archiver")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("Failed to start snapshot archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archiver")
	}

	// Keep the local order store fresh from the user data streams so
	// order state survives between polls.
	for _, name := range registry.Names() {
		adapter, err := registry.Get(name)
		if err != nil {
			continue
		}
		adapter.Events().Subscribe(stream.EventOrderUpdate, func(ev stream.Event) {
			if order, ok := ev.Payload.(models.Order); ok {
				if err := orderStore.Put(ctx, order); err != nil {
					log.WithError(err).Warn("failed to store order update")
				}
			}
		})
		if err := adapter.SubscribeUserData(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": string(name)}).Warn("Failed to subscribe user data stream")
		}
	}

	var syncArchiver accountsync.Archiver
	if archiver != nil {
		syncArchiver = archiver
	}
	syncer := accountsync.NewSyncer(registry, snapshotStore, syncArchiver, cfg.Sync, log)
	if err := syncer.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start account synchronization")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		syncer.Stop()
		if archiver != nil {
			archiver.Stop()
		}
		registry.CloseAll()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("venueflow stopped")
}

func enabledVenues(cfg *config.Config) []venues.Name {
	var names []venues.Name
	if cfg.Venues.Binance.Enabled {
		names = append(names, venues.Binance)
	}
	if cfg.Venues.BinanceFutures.Enabled {
		names = append(names, venues.BinanceFutures)
	}
	if cfg.Venues.Bybit.Enabled {
		names = append(names, venues.Bybit)
	}
	if cfg.Venues.Kucoin.Enabled {
		names = append(names, venues.Kucoin)
	}
	return names
}
