package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/ticketing/config"
	"example.com/backstage/services/ticketing/internal/cache"
	"example.com/backstage/services/ticketing/internal/clock"
	"example.com/backstage/services/ticketing/internal/gateway"
	"example.com/backstage/services/ticketing/internal/search"
	"example.com/backstage/services/ticketing/internal/services"
	"example.com/backstage/services/ticketing/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that resolves stale pending payments against the gateway and reports records needing reconciliation`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	store, err := initStore(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit indexing")
	}

	// Initialize the gateway client and settlement service
	gatewayClient := gateway.NewHTTPClient(cfg.Gateway)
	clk := clock.NewSystem()

	ledgerService := services.NewLedgerService(store)
	reservationService := services.NewReservationService(store, clk)
	settlementService := services.NewSettlementService(store, ledgerService, reservationService, gatewayClient, elasticClient, redisCache, clk, tracer)

	// Poll the gateway for payments stuck in pending. This is the
	// fallback for webhook deliveries that never arrived.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Worker.StalePendingInterval).
			Dur("age", cfg.Worker.StalePendingAge).
			Msg("Starting stale pending payment resolver")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.StalePendingInterval),
			gocron.NewTask(func() {
				if err := settlementService.ProcessStalePending(ctx, cfg.Worker.StalePendingAge, cfg.Worker.BatchSize); err != nil {
					log.Error().Err(err).Msg("Failed to resolve stale pending payments")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	// Periodically surface payment records flagged for manual
	// reconciliation.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Worker.ReconciliationInterval).
			Msg("Starting reconciliation reporter")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReconciliationInterval),
			gocron.NewTask(func() {
				if err := settlementService.ReportUnreconciled(ctx, cfg.Worker.BatchSize); err != nil {
					log.Error().Err(err).Msg("Failed to report unreconciled payments")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
