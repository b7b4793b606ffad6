package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/trogers1052/nepse-sentiment/internal/cache"
	"github.com/trogers1052/nepse-sentiment/internal/config"
	"github.com/trogers1052/nepse-sentiment/internal/database"
	"github.com/trogers1052/nepse-sentiment/internal/kafka"
	"github.com/trogers1052/nepse-sentiment/internal/logger"
	"github.com/trogers1052/nepse-sentiment/internal/retry"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

// app is the wired set of dependencies shared by the commands
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *database.DB
	engine   *sentiment.Engine
	cache    *cache.MarketCache
	producer *kafka.Producer
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, logger.New(cfg.Log), nil
}

// newApp connects to Postgres and, when enabled, Redis and Kafka, then
// builds the engine with every available change event subscriber
func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}

	var publishers []sentiment.Publisher
	if cfg.Redis.Enabled {
		c, err := cache.NewMarketCache(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = c
		publishers = append(publishers, c)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("market cache enabled")
	}
	if cfg.Kafka.Enabled {
		a.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ChangesTopic)
		publishers = append(publishers, a.producer)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.ChangesTopic).Msg("change events enabled")
	}

	a.engine = sentiment.New(db,
		sentiment.WithSectors(cfg.Sentiment.Sectors),
		sentiment.WithTotalStockPolicy(cfg.Sentiment.TotalStockPolicy),
		sentiment.WithLogger(log),
		sentiment.WithPublishers(publishers...),
		sentiment.WithTransientCheck(database.IsTransient),
	)
	return a, nil
}

func (a *app) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = a.cfg.Sentiment.RetryAttempts
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying after transient failure")
	}
	return p
}

// Close releases every connection the app opened
func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close kafka producer")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	}
}
