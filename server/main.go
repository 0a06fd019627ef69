package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tourneyrating/server/config"
	"tourneyrating/server/contest"
	"tourneyrating/server/control"
	"tourneyrating/server/domain"
	"tourneyrating/server/lock"
	"tourneyrating/server/ratingstore"
	"tourneyrating/server/recompute"
	"tourneyrating/server/scheduler"
	"tourneyrating/server/telemetry/log"
)

// stopFlag mirrors the teacher's own shutdown signal: a single
// process-wide flag set once a shutdown is underway. Nothing in this
// package reads it; shutdown itself is driven by cancelling ctx.
var stopFlag atomic.Bool

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// log isn't configured yet; this is the one place a bare
		// os.Exit after a raw print is appropriate.
		println("config: " + err.Error())
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		println("log: " + err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	params := cfg.Params()

	store, err := ratingstore.Open(ctx, cfg.DatabaseURL, cfg.StoreEpsilon, cfg.StoreTimeout)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "open rating store")
		return
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := ratingstore.Migrate(ctx, store); err != nil {
			log.Fatal(map[string]any{"error": err.Error()}, "migrate rating store")
			return
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	locker := lock.NewRedis(redisClient)

	reader := contest.NewPostgresReader(store.Pool(), store, params)

	scopes := []domain.Scope{domain.Global()}
	gameIDs, err := reader.ListGameIDs(ctx)
	if err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "list game ids; running global scope only")
	} else {
		for _, id := range gameIDs {
			scopes = append(scopes, domain.Game(id))
		}
	}
	domain.SortScopes(scopes)

	recomputer := recompute.New(reader, store, params, recompute.Config{
		BatchSize:        cfg.RecomputeBatchSize,
		RetryBaseDelay:   time.Duration(cfg.StoreRetryBaseMS) * time.Millisecond,
		RetryFactor:      2,
		RetryMaxAttempts: cfg.StoreRetryMax,
	})

	runFn := func(ctx context.Context, scope domain.Scope, period domain.Month) (recompute.Summary, error) {
		return recomputer.Run(ctx, scope, period)
	}

	sched := scheduler.New(scheduler.RealClock{}, scheduler.Config{
		CheckInterval: cfg.SchedulerCheckInterval,
		RunHour:       cfg.SchedulerRunHour,
		RunDay:        cfg.RunDayOfMonth,
		LockTTL:       cfg.LockTTL,
	}, locker, scopes, runFn)

	go sched.Start(ctx)

	router := control.Router(sched, nil)
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info(map[string]any{"port": cfg.Port}, "control surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(map[string]any{"error": err.Error()}, "http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	stopFlag.Store(true)
	log.Info(nil, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(map[string]any{"error": err.Error()}, "graceful shutdown failed")
	}
}

func watchSignals(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	stopFlag.Store(true)
	cancel()
}
