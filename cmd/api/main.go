package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hellofresh/health-go/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"obgateway/internal/clock"
	"obgateway/internal/config"
	"obgateway/internal/domain/job"
	"obgateway/internal/domain/money"
	httpx "obgateway/internal/http"
	"obgateway/internal/http/handlers"
	"obgateway/internal/provider"
	"obgateway/internal/provider/openbanking"
	"obgateway/internal/provider/sandbox"
	"obgateway/internal/services/accounts"
	"obgateway/internal/services/authflow"
	consentsvc "obgateway/internal/services/consent"
	fundssvc "obgateway/internal/services/funds"
	"obgateway/internal/services/jobs"
	partnershipsvc "obgateway/internal/services/partnership"
	paymentsvc "obgateway/internal/services/payment"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/memory"
	"obgateway/internal/store/postgres"
	"obgateway/internal/store/redisstore"
	"obgateway/internal/store/repositories"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.App)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Real()

	var checks []health.Config

	// Store
	var store repositories.Store
	switch cfg.Store.Driver {
	case "postgres":
		pool := postgres.MustOpen(ctx, cfg.Store.DSN)
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		store = postgres.NewStore(pool)
		checks = append(checks, pgCheck(pool))
	default:
		log.Warn().Msg("using the in-memory store; state is lost on restart")
		store = memory.New()
	}

	// Locks and account cache
	var (
		locker repositories.Locker
		cache  repositories.AccountCache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		locker = redisstore.NewLocker(rdb, cfg.Redis.LockTTL)
		cache = redisstore.NewAccountCache(rdb)
		checks = append(checks, health.Config{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Check:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		locker = memory.NewLocker()
		cache = memory.NewAccountCache(clk)
	}

	// ASPSP adapters
	registry := provider.NewRegistry(provider.ProviderType(cfg.ASPSP.Provider))
	registry.RegisterProvider(provider.ProviderSandbox, sandbox.New(sandbox.Options{
		Balance:     money.Amount{Amount: cfg.ASPSP.SandboxBalance, Currency: "GBP"},
		SettleAfter: 30 * time.Second,
	}, clk))
	if cfg.ASPSP.BaseURL != "" {
		registry.RegisterProvider(provider.ProviderOpenBanking, openbanking.New(openbanking.Config{
			BaseURL:      cfg.ASPSP.BaseURL,
			AuthURL:      cfg.ASPSP.AuthURL,
			TokenURL:     cfg.ASPSP.TokenURL,
			ClientID:     cfg.ASPSP.ClientID,
			ClientSecret: cfg.ASPSP.ClientSecret,
			Timeout:      cfg.Timeouts.Upstream,
		}))
	}

	v := vault.New(cfg.Sec.AESKey)

	consents := consentsvc.NewService(store, locker, clk)
	flow := authflow.NewService(store, locker, registry, v, clk, cfg.Timeouts.Auth)
	payments := paymentsvc.NewService(store, locker, registry, v, clk, cfg.Timeouts.Upstream)
	funds := fundssvc.NewService(store, registry, v, clk, cfg.Timeouts.Upstream)
	accts := accounts.NewService(store, cache, registry, v, clk, cfg.Timeouts.Upstream, cfg.Redis.AccountCacheTTL)
	partnerships := partnershipsvc.NewService(store, registry, clk)

	// Start job scheduler
	scheduler := jobs.NewService(store, locker, clk, cfg.Jobs.PollInterval, 0)
	scheduler.Register(job.RefreshAccounts, jobs.RefreshAccountsRunner(accts))
	scheduler.Register(job.RefreshPayments, jobs.RefreshPaymentsRunner(payments))
	if expr := cfg.Jobs.RefreshPaymentsSchedule; expr != "" {
		sc, err := scheduler.EnsureSchedule(ctx, string(job.RefreshPayments), expr, "payment status refresh")
		if err != nil {
			log.Fatal().Err(err).Msg("seed payment refresh schedule")
		}
		log.Info().Str("schedule_id", sc.ScheduleID).Str("expression", sc.ScheduleExpression).Msg("payment refresh scheduled")
	}
	go scheduler.Run(ctx)

	hc, err := health.New(health.WithComponent(health.Component{Name: "obgateway"}), health.WithChecks(checks...))
	if err != nil {
		log.Fatal().Err(err).Msg("health checks")
	}

	r := httpx.NewRouter(httpx.RouterDependencies{
		Consents:     consents,
		AuthFlow:     flow,
		Payments:     payments,
		Funds:        funds,
		Accounts:     accts,
		Jobs:         scheduler,
		Partnerships: partnerships,
		Pager: handlers.Pager{
			Clock:       clk,
			BaseURL:     cfg.App.BaseURL,
			DefaultSize: cfg.Paging.DefaultSize,
			MaxSize:     cfg.Paging.MaxSize,
		},
		APITokenSHA256: cfg.Sec.APITokenSHA256,
		AdminToken:     cfg.Sec.AdminToken,
		Health:         hc,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("env", cfg.App.Env).Msgf("obgateway listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	scheduler.Wait()
	log.Info().Msg("server stopped")
}

func setupLogging(app config.AppCfg) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl, err := zerolog.ParseLevel(app.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if app.Sandbox() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func pgCheck(pool *pgxpool.Pool) health.Config {
	return health.Config{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Check:   pool.Ping,
	}
}
