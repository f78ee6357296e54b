package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tradesim/config"
	"tradesim/internal/engine"
	"tradesim/internal/market"
	"tradesim/internal/seed"
	"tradesim/logger"
	"tradesim/pkg/notify"
	"tradesim/pkg/pricesource"
	"tradesim/pkg/storage"
	"tradesim/pkg/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: postgres snapshot store when enabled, in-memory otherwise
	var store storage.Store
	if cfg.Postgres.Enabled {
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			log.Fatal("failed to connect to DB", zap.Error(err))
		}
		defer client.Close()
		store = client
	} else {
		store = storage.NewMemoryStore()
		log.Warn("postgres disabled, state will not survive restarts")
	}

	// Baseline price source
	var source pricesource.Source
	switch cfg.PriceSource.Kind {
	case "ws":
		ws := pricesource.NewWSSource(cfg.PriceSource.WSURL, cfg.Simulator.Symbols, log)
		if err := ws.Connect(); err != nil {
			log.Fatal("failed to connect price stream", zap.Error(err))
		}
		go ws.Listen(ctx)
		source = ws
	case "static":
		source = pricesource.NewStaticSource(cfg.Simulator.BasePrices)
	default:
		source = pricesource.NewRESTSource(
			cfg.PriceSource.BaseURL,
			cfg.PriceSource.CoinIDs,
			cfg.PriceSource.Timeout,
			cfg.PriceSource.RateRPS,
		)
	}

	// Notification sink
	var notifier notify.Notifier
	switch cfg.Notify.Kind {
	case "kafka":
		if len(cfg.Notify.Brokers) > 0 {
			notify.EnsureTopic(ctx, cfg.Notify.Brokers[0], cfg.Notify.Topic)
		}
		kn := notify.NewKafkaNotifier(cfg.Notify.Brokers, cfg.Notify.Topic, log)
		defer kn.Close()
		notifier = kn
	case "noop":
		notifier = notify.Noop{}
	default:
		notifier = notify.NewLogNotifier(log)
	}

	if cfg.Seed.Enabled {
		account := seed.Account{
			ID:              cfg.Seed.AccountID,
			Name:            cfg.Seed.Name,
			Email:           cfg.Seed.Email,
			Balance:         cfg.Seed.Balance,
			PracticeBalance: cfg.Engine.DefaultBalance,
		}
		if err := seed.New(store).Seed(ctx, account); err != nil {
			log.Warn("demo seed failed", zap.Error(err))
		} else {
			log.Info("demo account seeded", zap.String("account_id", account.ID))
		}
	}

	sim := market.NewSimulator(cfg.Simulator, source, log,
		market.WithFetchTimeout(cfg.PriceSource.Timeout))

	eng := engine.New(cfg.Engine, sim, store, log, engine.WithNotifier(notifier))
	if err := eng.RestoreState(ctx); err != nil {
		log.Warn("could not restore engine state", zap.Error(err))
	}

	go sim.Run(ctx)
	go eng.Run(ctx)

	log.Info("trading simulator running",
		zap.Strings("symbols", cfg.Simulator.Symbols),
		zap.Float64("balance", eng.Balance()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal")
	// Stop blocks until the engine has flushed its final snapshot.
	eng.Stop()
	cancel()
}
