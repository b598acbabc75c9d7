package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"evidex/internal/access"
	accesscache "evidex/internal/access/cache"
	"evidex/internal/audit"
	audithandler "evidex/internal/audit/handler"
	"evidex/internal/audit/relay"
	auditmemory "evidex/internal/audit/store/memory"
	auditpostgres "evidex/internal/audit/store/postgres"
	"evidex/internal/evidence"
	evidencehandler "evidex/internal/evidence/handler"
	evidenceservice "evidex/internal/evidence/service"
	evidencememory "evidex/internal/evidence/store/memory"
	evidencepostgres "evidex/internal/evidence/store/postgres"
	"evidex/internal/grant"
	grantmemory "evidex/internal/grant/store/memory"
	grantpostgres "evidex/internal/grant/store/postgres"
	jwttoken "evidex/internal/jwt_token"
	"evidex/internal/platform/config"
	"evidex/internal/platform/httpserver"
	"evidex/internal/platform/logger"
	"evidex/internal/platform/metrics"
	platformredis "evidex/internal/platform/redis"
	"evidex/internal/request"
	requesthandler "evidex/internal/request/handler"
	requestservice "evidex/internal/request/service"
	requestmemory "evidex/internal/request/store/memory"
	requestpostgres "evidex/internal/request/store/postgres"
)

const (
	jwtIssuer   = "evidex"
	jwtAudience = "evidex-api"
)

// main wires stores, services, and handlers, then runs the HTTP server and
// the audit relay until a shutdown signal. Business logic lives in the
// internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	m := metrics.New()

	// Postgres is the durable backend. Without a DSN the process runs on
	// in-memory stores, which is only meant for local development.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	var (
		auditStore    audit.Store
		grantStore    grant.Store
		evidenceStore evidence.Store
		requestStore  request.Store
		txRunner      interface {
			RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
		}
	)
	if db != nil {
		auditStore = auditpostgres.New(db)
		grantStore = grantpostgres.New(db)
		evidenceStore = evidencepostgres.New(db)
		requestStore = requestpostgres.New(db)
		txRunner = newPostgresTx(db)
	} else {
		auditStore = auditmemory.NewInMemoryStore()
		grantStore = grantmemory.NewInMemoryStore()
		evidenceStore = evidencememory.NewInMemoryStore()
		requestStore = requestmemory.NewInMemoryStore()
		txRunner = requestservice.NewShardedTx(32)
	}

	recorder := audit.NewRecorder(auditStore)

	ledgerOpts := []grant.LedgerOption{grant.WithMetrics(m)}

	// Redis accelerates buyer visibility reads. Grants are never revoked, so
	// the cache can only under-report, never leak.
	var grantReader access.GrantReader = grantStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		cache := accesscache.New(grantReader, redisClient, cfg.Redis.CacheTTL, log)
		grantReader = cache
		ledgerOpts = append(ledgerOpts, grant.WithInvalidator(cache))
	}

	ledger := grant.NewLedger(grantStore, recorder, ledgerOpts...)
	evaluator := access.NewEvaluator(grantReader, evidenceStore, access.WithMetrics(m))

	evidenceSvc := evidenceservice.NewService(evidenceStore, evaluator, recorder, txRunner)
	requestSvc := requestservice.NewService(requestStore, evidenceStore, ledger, recorder, txRunner,
		requestservice.WithMetrics(m))

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, jwtIssuer, jwtAudience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	evidencehandler.New(evidenceSvc, log, m, jwtValidator).Register(router)
	requesthandler.New(requestSvc, log, m, jwtValidator).Register(router)
	audithandler.New(recorder, log, m, jwtValidator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting evidex", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if db != nil && len(cfg.Kafka.Brokers) > 0 {
		auditRelay, err := relay.New(db, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, cfg.Kafka.PollInterval, log)
		if err != nil {
			log.Error("start audit relay", "error", err)
			os.Exit(1)
		}
		defer auditRelay.Close()
		group.Go(func() error {
			err := auditRelay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
