package main

import (
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/blockdraft/blockdraft/internal/catalog"
	"github.com/blockdraft/blockdraft/internal/draft"
	"github.com/blockdraft/blockdraft/internal/draft/gateway"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/repository"
	"github.com/blockdraft/blockdraft/internal/draft/scheduler"
	"github.com/blockdraft/blockdraft/internal/identity"
)

type Services struct {
	Gateway   *gateway.Service
	Conns     *gateway.ConnectionManager
	Scheduler *scheduler.Scheduler
	Outbox    *outbox.Worker
	publisher outbox.EventPublisher
}

func setupServices(db *sql.DB, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	cat, err := loadCatalog(config)
	if err != nil {
		return nil, err
	}

	repo := repository.NewRepository(db)
	draftApp := draft.NewApp(repo, cat, clock, config.TurnTimeout())

	identityApp := identity.NewApp(identity.NewRepository(db), clock)

	conns := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	sched := scheduler.New(draftApp, nil, clock)
	gatewayService := gateway.NewService(draftApp, identityApp, conns, sched)
	sched.SetNotifier(gatewayService)

	publisher, err := setupPublisher()
	if err != nil {
		return nil, err
	}
	worker := outbox.NewWorker(outbox.NewRepository(db), publisher, outboxConfig(config), slog.Default())

	return &Services{
		Gateway:   gatewayService,
		Conns:     conns,
		Scheduler: sched,
		Outbox:    worker,
		publisher: publisher,
	}, nil
}

func loadCatalog(config *Config) (*catalog.Catalog, error) {
	path := getEnv("CATALOG_PATH", config.Draft.CatalogPath)
	if path == "" {
		log.Info().Msg("no catalog configured, using built-in categories")
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("categories", len(cat.Categories)).Msg("loaded catalog")
	return cat, nil
}

func setupPublisher() (outbox.EventPublisher, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		log.Warn().Msg("NATS_URL not set, outbox events go to the log only")
		return outbox.NewLogPublisher(slog.Default()), nil
	}
	return outbox.NewNATSPublisher(url, "draft.events", slog.Default())
}

func outboxConfig(config *Config) outbox.Config {
	cfg := outbox.DefaultConfig()
	if config.Outbox.PollIntervalSec > 0 {
		cfg.PollInterval = time.Duration(config.Outbox.PollIntervalSec) * time.Second
	}
	if config.Outbox.BatchSize > 0 {
		cfg.BatchSize = config.Outbox.BatchSize
	}
	return cfg
}
