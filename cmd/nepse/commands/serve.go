package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trogers1052/nepse-sentiment/internal/api"
	"github.com/trogers1052/nepse-sentiment/internal/kafka"
	"github.com/trogers1052/nepse-sentiment/internal/scheduler"
)

var serveMigrate bool

// serveCmd runs the HTTP API, the entry consumer and the reconciliation job
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the HTTP API. When enabled in configuration it also consumes sector
entry events from Kafka and runs the periodic recompute of every stored date.

Endpoints:
  GET    /health
  GET    /api/v1/sectors
  GET    /api/v1/sectors/{sector}/observations
  GET    /api/v1/sectors/{sector}/observations/{date}
  PUT    /api/v1/sectors/{sector}/observations/{date}
  DELETE /api/v1/sectors/{sector}/observations/{date}
  GET    /api/v1/snapshot/{date}
  GET    /api/v1/market
  GET    /api/v1/market/{date}
  DELETE /api/v1/market/{date}
  PUT    /api/v1/market/{date}/total-stock
  POST   /api/v1/market/{date}/recompute
  POST   /api/v1/market/recompute`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if serveMigrate {
		if err := a.db.Migrate(a.cfg.MigrationsPath); err != nil {
			return err
		}
		log.Info().Str("path", a.cfg.MigrationsPath).Msg("migrations applied")
	}

	var marketCache api.MarketCache
	if a.cache != nil {
		marketCache = a.cache
	}
	handler := api.NewHandler(a.engine, marketCache, a.db, a.retryPolicy(), log)
	server := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	consumerDone := make(chan struct{})
	if a.cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.EntriesTopic, a.cfg.Kafka.GroupID,
			a.engine.Ledger, a.retryPolicy(), log)
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	} else {
		close(consumerDone)
	}

	if spec := a.cfg.Sentiment.RecomputeSchedule; spec != "" {
		sched := scheduler.New(a.engine.Aggregator, log)
		if err := sched.Schedule(spec); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("policy", string(a.engine.Policy())).
			Int("sectors", len(a.engine.Sectors())).
			Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// the consumer commits its last offsets while closing
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("kafka consumer did not stop before the shutdown timeout")
	}

	log.Info().Msg("server stopped")
	return nil
}
