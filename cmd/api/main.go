package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/config"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/job"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/storage/memory"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/storage/postgres"
	transporthttp "github.com/OdivalPereira/rifa-f-cil-sub000/internal/transport/http"
	"github.com/OdivalPereira/rifa-f-cil-sub000/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting raffle api", slog.String("env", cfg.Env), slog.String("storage", cfg.StorageDriver))
	log.Debug("debug messages are enabled")
	for _, warning := range cfg.Warnings {
		log.Warn(warning)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	repos, err := setupStorage(startupCtx, cfg, log)
	cancel()
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}
	defer repos.close()

	clk := clock.NewSystem()
	alloc := app.NewAllocator(repos.pool, app.WithAllocatorRandom(app.NewCryptoSeededRandom()))
	ledgerOpts := []app.LedgerOption{
		app.WithReservationTTL(cfg.ReservationTTL),
		app.WithSweepBatch(cfg.SweepBatchSize),
		app.WithLedgerLogger(log),
	}

	// Spin prizes are granted through a ledger without approval spins so a prize never
	// credits further spins.
	bonusLedger := app.NewLedger(repos.ledger, alloc, clk, ledgerOpts...)
	rewards := app.NewRewardEngine(repos.rewards, bonusLedger, clk, cfg.Rewards.Main, cfg.Rewards.Retry,
		app.WithRewardRandom(app.NewCryptoSeededRandom()),
		app.WithMaxMultiplierGrant(cfg.MaxMultiplierGrant),
		app.WithRewardLogger(log),
	)
	if cfg.SpinsPerApproval > 0 {
		ledgerOpts = append(ledgerOpts, app.WithApprovalSpins(rewards, cfg.SpinsPerApproval))
	}
	ledger := app.NewLedger(repos.ledger, alloc, clk, ledgerOpts...)

	sweepJob := job.NewExpirySweepJob(ledger, log)
	scheduler, err := job.Schedule(cfg.SweepSchedule, sweepJob)
	if err != nil {
		log.Error("failed to schedule expiry sweep", sl.Err(err))
		os.Exit(1)
	}
	scheduler.Start()
	log.Info("expiry sweep scheduled", slog.String("schedule", cfg.SweepSchedule))

	router := transporthttp.NewRouter(log, transporthttp.Services{
		Admin:    app.NewAdminService(repos.admin, clk),
		Ledger:   ledger,
		Payments: app.NewPaymentService(repos.payments),
		Spins:    rewards,
		Draws:    app.NewDrawService(repos.draws, clk, app.NewCryptoSeededRandom()),
	}, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	log.Info("server started", slog.String("address", srv.Addr))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", sl.Err(err))
		}
	case <-stopCtx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	<-scheduler.Stop().Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server shutdown failed", sl.Err(err))
	}

	stats := sweepJob.Stats()
	log.Info("server stopped",
		slog.Int64("sweep_runs", stats.Runs),
		slog.Int64("sweep_expired", stats.Expired),
	)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

type repositories struct {
	pool     app.PoolReader
	ledger   app.LedgerRepository
	rewards  app.RewardRepository
	admin    app.AdminRepository
	draws    app.DrawRepository
	payments app.PaymentRepository
	close    func()
}

func setupStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (repositories, error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		return repositories{
			pool:     store,
			ledger:   store,
			rewards:  store,
			admin:    store,
			draws:    store,
			payments: store,
			close:    func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return repositories{}, err
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return repositories{}, err
	}
	for _, name := range applied {
		log.Info("migration applied", slog.String("name", name))
	}

	raffles := postgres.NewRaffleRepository(pool)
	purchases := postgres.NewLedgerRepository(pool)
	return repositories{
		pool:     raffles,
		ledger:   purchases,
		rewards:  postgres.NewSpinRepository(pool),
		admin:    raffles,
		draws:    raffles,
		payments: purchases,
		close:    pool.Close,
	}, nil
}
