package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agora/governance/internal/app"
	"agora/governance/internal/clock"
	"agora/governance/internal/config"
	"agora/governance/internal/governance"
	"agora/governance/internal/lock"
	"agora/governance/internal/notify"
	"agora/governance/internal/search"
	"agora/governance/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	graph, err := app.LoadGraph(cfg)
	if err != nil {
		log.Fatalf("permission graph: %v", err)
	}

	checks := map[string]app.Pinger{"database": dataStore}

	var notifier governance.Notifier = notify.Log{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafka(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.RoundsTopic}, clock.System{})
		if err != nil {
			log.Fatalf("kafka notifier: %v", err)
		}
		defer producer.Close()
		log.Printf("Publishing round events to %s", cfg.RoundsTopic)
		notifier = producer
	}

	var meiliClient *search.Meili
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient)
	} else {
		searchService = search.NewService(nil)
	}

	var locker lock.Locker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisLocker.Close()
		checks["redis"] = redisLocker
		locker = redisLocker
	} else {
		log.Printf("Using a process-local round lock")
		locker = lock.NewLocalLocker(clock.System{})
	}

	engine := governance.New(dataStore, graph, governance.Options{
		Notifier:       notifier,
		Indexer:        searchService,
		CompletionHour: cfg.RoundCompletionHour,
		Location:       cfg.Location(),
		PatchRetries:   cfg.PatchRetries,
	})

	go reloadOnHangup(ctx, cfg, engine)

	scheduler := app.NewScheduler(engine, locker, cfg.TickInterval, cfg.RoundLockTTL)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	ops := app.NewOpsServer(engine, searchService, checks)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ops.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Governor listening on %s (graph %s)", cfg.Addr, graph.Version())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		log.Printf("shutdown: round scheduler did not stop in time")
	}
}

// reloadOnHangup swaps in a freshly loaded permission graph on SIGHUP. A
// graph that fails to load leaves the current one in place.
func reloadOnHangup(ctx context.Context, cfg config.Config, engine *governance.Engine) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			graph, err := app.LoadGraph(cfg)
			if err != nil {
				log.Printf("rbac: reload failed, keeping %s: %v", engine.Graph().Version(), err)
				continue
			}
			engine.ReloadGraph(graph)
			log.Printf("rbac: reloaded graph %s", graph.Version())
		}
	}
}
