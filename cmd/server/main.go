// Command server runs the eSIM provisioning gateway: the storefront and
// vendor webhook hooks, the admin API, and the background audit worker.
// Dependencies are wired here; business logic lives in internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"simgate/internal/audit"
	"simgate/internal/dispatch"
	"simgate/internal/esim/handler"
	esimservice "simgate/internal/esim/service"
	"simgate/internal/esim/store"
	"simgate/internal/jwttoken"
	"simgate/internal/ledger"
	"simgate/internal/notify"
	"simgate/internal/platform/config"
	"simgate/internal/platform/httpserver"
	"simgate/internal/platform/kafka"
	"simgate/internal/platform/logger"
	"simgate/internal/platform/metrics"
	"simgate/internal/platform/postgres"
	"simgate/internal/platform/redis"
	"simgate/internal/provision"
	"simgate/internal/reconcile"
	"simgate/internal/vendorapi"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Stores: Postgres when configured, in-memory otherwise (dev mode).
	var (
		esimStore    store.Store
		auditStore   audit.Store
		webhookStore audit.WebhookStore
	)
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		pgEsims := store.NewPostgres(pool)
		if err := pgEsims.EnsureSchema(ctx); err != nil {
			return err
		}
		pgAudit := audit.NewPostgres(pool)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			return err
		}
		esimStore = pgEsims
		auditStore = pgAudit
		webhookStore = audit.NewPostgresWebhookStore(pool)
		log.Info("using postgres stores")
	} else {
		esimStore = store.NewMemory()
		auditStore = audit.NewMemoryStore()
		webhookStore = audit.NewMemoryWebhookStore()
		log.Warn("POSTGRES_URL not set; using in-memory stores")
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, err := kafka.NewPublisher(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}
	notifier := notify.NewKafka(publisher, cfg.Kafka, m)

	inbox := make(chan audit.Entry, 256)
	logbook := audit.NewLogbook(inbox)
	worker := audit.NewWorker(auditStore, inbox, log)

	vendorClient := vendor.NewHTTPClient(cfg.Vendor)
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger)

	provisionOpts := []provision.Option{
		provision.WithLogbook(logbook),
		provision.WithNotifier(notifier),
		provision.WithMetrics(m),
		provision.WithLogger(log),
	}
	reconcileOpts := []reconcile.Option{
		reconcile.WithLogbook(logbook),
		reconcile.WithNotifier(notifier),
		reconcile.WithVendor(vendorClient),
		reconcile.WithMetrics(m),
		reconcile.WithLogger(log),
	}
	if redisClient != nil {
		provisionOpts = append(provisionOpts, provision.WithLocker(provision.NewRedisLocker(redisClient)))
		reconcileOpts = append(reconcileOpts, reconcile.WithDeduper(reconcile.NewRedisDeduper(redisClient)))
	}

	provisionSvc, err := provision.New(esimStore, vendorClient, ledgerClient, cfg.Provisioning, provisionOpts...)
	if err != nil {
		return err
	}
	reconcileSvc, err := reconcile.New(esimStore, webhookStore, reconcileOpts...)
	if err != nil {
		return err
	}
	esimSvc, err := esimservice.New(esimStore, vendorClient,
		esimservice.WithLogbook(logbook),
		esimservice.WithAuditLog(auditStore),
		esimservice.WithLogger(log),
	)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(log, 15*time.Minute)
	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey)

	router := chi.NewRouter()
	h := handler.New(provisionSvc, reconcileSvc, esimSvc, dispatcher, log, m, jwtService)
	h.Register(router)
	router.Get("/healthz", healthHandler(pool, redisClient))
	router.Handle("/metrics", promhttp.Handler())

	// The vendor pushes lifecycle events to the callback URL; register it on
	// every start so config changes take effect without manual steps.
	if cfg.Vendor.CallbackURL != "" {
		regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := vendorClient.SetWebhook(regCtx, cfg.Vendor.CallbackURL); err != nil {
			log.Warn("vendor webhook registration failed", "url", cfg.Vendor.CallbackURL, "error", err)
		} else {
			log.Info("vendor webhook registered", "url", cfg.Vendor.CallbackURL)
		}
		cancel()
	}

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting simgate", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		// Let in-flight provisioning runs finish before the stores go away.
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			log.Warn("background jobs still running at shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func healthHandler(pool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"degraded","postgres":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, `{"status":"degraded","redis":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
