// Command server wires the custody-transfer core: package lifecycle,
// shipment consolidation, release-code verification, and the audit
// trail, behind an HTTP API. Business logic lives in the internal
// service packages; main only assembles them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	audithandler "custodia/internal/audit/handler"
	"custodia/internal/jobs"
	lifecyclehandler "custodia/internal/lifecycle/handler"
	lifecyclemetrics "custodia/internal/lifecycle/metrics"
	lifecycleservice "custodia/internal/lifecycle/service"
	lifecyclestore "custodia/internal/lifecycle/store"
	"custodia/internal/notify"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	platformpg "custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	releasehandler "custodia/internal/release/handler"
	releasemetrics "custodia/internal/release/metrics"
	releaseservice "custodia/internal/release/service"
	shipmenthandler "custodia/internal/shipment/handler"
	shipmentmetrics "custodia/internal/shipment/metrics"
	shipmentservice "custodia/internal/shipment/service"
	shipmentstore "custodia/internal/shipment/store"
	audit "custodia/pkg/platform/audit"
	auditmem "custodia/pkg/platform/audit/store/memory"
	auditpg "custodia/pkg/platform/audit/store/postgres"
	"custodia/pkg/platform/middleware/actor"
	"custodia/pkg/platform/middleware/admin"
	"custodia/pkg/platform/middleware/requestid"
	"custodia/pkg/platform/middleware/requesttime"
	"custodia/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when configured, in-memory otherwise (dev mode).
	var (
		packages   lifecyclestore.PackageStore
		shipments  shipmentstore.ShipmentStore
		auditStore audit.Store
		runner     tx.Runner
	)
	if cfg.PostgresURL != "" {
		db, err := platformpg.Open(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := platformpg.EnsureSchema(ctx, db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		packages = lifecyclestore.NewPostgres(db)
		shipments = shipmentstore.NewPostgres(db)
		auditStore = auditpg.New(db)
		runner = tx.NewPostgresRunner(db)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		packages = lifecyclestore.NewInMemory()
		shipments = shipmentstore.NewInMemory()
		auditStore = auditmem.New()
		runner = tx.NewMemoryRunner()
	}

	var notifier notify.Notifier = notify.Noop{}
	if len(cfg.KafkaSeeds) > 0 {
		kafkaNotifier, err := notify.NewKafka(cfg.KafkaSeeds, cfg.NotifyTopic,
			notify.WithLogger(log),
			notify.WithTimeout(cfg.NotifyTimeout),
		)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	} else {
		log.Warn("no kafka seeds configured, notifications disabled")
	}

	var redisClient *platformredis.Client
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	lifecycleSvc, err := lifecycleservice.New(packages, auditStore, runner,
		lifecycleservice.WithLogger(log),
		lifecycleservice.WithMetrics(lifecyclemetrics.New()),
	)
	if err != nil {
		log.Error("lifecycle service init failed", "error", err)
		os.Exit(1)
	}

	releaseSvc, err := releaseservice.New(packages, shipments, lifecycleSvc, auditStore, runner,
		[]byte(cfg.CodePepper),
		releaseservice.WithLogger(log),
		releaseservice.WithMetrics(releasemetrics.New()),
		releaseservice.WithNotifier(notifier),
		releaseservice.WithCodeTTL(cfg.CodeTTL),
		releaseservice.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutWindow),
	)
	if err != nil {
		log.Error("release service init failed", "error", err)
		os.Exit(1)
	}

	shipmentSvc, err := shipmentservice.New(shipments, packages, lifecycleSvc, auditStore, runner, releaseSvc,
		shipmentservice.WithLogger(log),
		shipmentservice.WithMetrics(shipmentmetrics.New()),
		shipmentservice.WithNotifier(notifier),
	)
	if err != nil {
		log.Error("shipment service init failed", "error", err)
		os.Exit(1)
	}

	tokenParser := actor.NewTokenParser(cfg.JWTSigningKey)
	adminOnly := admin.RequireAdminToken(cfg.AdminToken, log)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(actor.Require(tokenParser, log))
		lifecyclehandler.NewHandler(lifecycleSvc,
			lifecyclehandler.WithLogger(log),
			lifecyclehandler.WithLockoutThreshold(cfg.LockoutThreshold),
		).Register(r)
		shipmenthandler.NewHandler(shipmentSvc, shipmenthandler.WithLogger(log)).Register(r)
		releasehandler.NewHandler(releaseSvc, adminOnly, releasehandler.WithLogger(log)).Register(r)
		audithandler.NewHandler(auditStore, audithandler.WithLogger(log)).Register(r)
	})

	manager := jobs.NewManager(log)
	var locker *goredis.Client
	if redisClient != nil {
		locker = redisClient.Client
	}
	reaper := jobs.NewReaper(auditStore, cfg.AuditRetention, locker, log)
	if err := manager.Schedule(cfg.ReaperSchedule, "audit-retention-reaper", reaper.Run); err != nil {
		log.Error("reaper scheduling failed", "error", err)
		os.Exit(1)
	}
	manager.Start()

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("custodia listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
