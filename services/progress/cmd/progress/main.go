package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/lecture-platform/internal/platform/analytics"
	"github.com/example/lecture-platform/internal/platform/auth"
	"github.com/example/lecture-platform/internal/platform/cache"
	"github.com/example/lecture-platform/internal/platform/config"
	"github.com/example/lecture-platform/internal/platform/db"
	"github.com/example/lecture-platform/internal/platform/httpserver"
	"github.com/example/lecture-platform/internal/platform/idempotency"
	"github.com/example/lecture-platform/internal/platform/logging"
	"github.com/example/lecture-platform/internal/platform/natsconn"
	"github.com/example/lecture-platform/internal/platform/run"
	"github.com/example/lecture-platform/services/progress/internal/catalog"
	progressconfig "github.com/example/lecture-platform/services/progress/internal/config"
	"github.com/example/lecture-platform/services/progress/internal/handlers"
	progresshttp "github.com/example/lecture-platform/services/progress/internal/http"
	"github.com/example/lecture-platform/services/progress/internal/progress"
	"github.com/example/lecture-platform/services/progress/internal/store"
	"github.com/example/lecture-platform/services/progress/internal/worker"
)

func main() {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "progress")
	}
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	pcfg, err := progressconfig.LoadProgress()
	if err != nil {
		log.Error("config", zap.Error(err))
		run.Exit(1)
	}
	isProd := cfg.IsProd()
	ctx := context.Background()

	pool := initPostgres(ctx, log, pcfg.DatabaseURL, isProd)
	if pool != nil {
		defer pool.Close()
	}

	videos, err := initCatalog(log, pool, pcfg.CatalogFile)
	if err != nil {
		log.Error("catalog", zap.Error(err))
		run.Exit(1)
	}

	var repo store.Repository = store.NewInMemory()
	if pool != nil {
		repo = store.NewPostgres(pool)
	}

	stateCache := initRedis(ctx, log, pcfg)
	if stateCache != nil {
		defer func() { _ = stateCache.Close() }()
		repo = store.NewCached(repo, stateCache, log)
	}

	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{URL: pcfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		log.Warn("nats connect, analytics and ingestion disabled", zap.Error(err))
	} else {
		defer nc.Close()
		if _, err := natsconn.EnsureStream(nc, "ANALYTICS", "analytics.>"); err != nil {
			log.Warn("analytics stream", zap.Error(err))
		}
		js, err = natsconn.EnsureStream(nc, worker.Stream, worker.Subject)
		if err != nil {
			log.Warn("progress stream", zap.Error(err))
			js = nil
		}
	}

	svc := progress.New(repo, videos, analytics.New(js, log), log)

	var consumer *worker.Consumer
	if pcfg.WorkerEnabled && js != nil {
		backends := idempotency.Backends{Postgres: pool}
		if stateCache != nil {
			backends.Redis = stateCache.Client
		}
		seen, err := idempotency.NewStore(backends, worker.Subject, pcfg.IdempotencyTTL, isProd)
		if err != nil {
			log.Error("idempotency store", zap.Error(err))
			run.Exit(1)
		}
		consumer = worker.NewConsumer(svc, seen, log)
	}

	verifier := auth.JWTVerifier{Secret: pcfg.JWTSecret}
	limiter := progresshttp.NewRateLimiter(pcfg.RateLimitRPS, pcfg.RateLimitBurst)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: readiness(pool, stateCache), Logger: log})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Use(limiter.Middleware)
		handlers.Mount(r, svc, log)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	lis, err := net.Listen("tcp", pcfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	go func() {
		log.Info("grpc server starting", zap.String("addr", pcfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if consumer != nil {
			go func() {
				if err := consumer.Run(ctx, js); err != nil {
					log.Error("intervals consumer", zap.Error(err))
				}
			}()
		}
		return srv.Start()
	})

	healthSrv.Shutdown()
	runner.Graceful(srv.Shutdown)
	stopGRPC(grpcSrv, 10*time.Second)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initPostgres opens the pool. Outside production a missing or unreachable
// database falls back to in-memory storage (nil pool).
func initPostgres(ctx context.Context, log *zap.Logger, dsn string, isProd bool) *pgxpool.Pool {
	if dsn == "" {
		if isProd {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory progress store (development only)")
		return nil
	}
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		if isProd {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory progress store", zap.Error(err))
		return nil
	}
	if err := store.Migrate(ctx, pool); err != nil {
		log.Error("migrate", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	log.Info("progress store: postgres")
	return pool
}

// initCatalog combines the seed file (if any) with the videos table.
func initCatalog(log *zap.Logger, pool *pgxpool.Pool, file string) (catalog.Catalog, error) {
	var chain catalog.Chain
	if file != "" {
		static, err := catalog.LoadFile(file)
		if err != nil {
			return nil, err
		}
		log.Info("catalog seed loaded", zap.String("file", file))
		chain = append(chain, static)
	}
	if pool != nil {
		chain = append(chain, catalog.NewPostgres(pool))
	}
	if len(chain) == 0 {
		log.Warn("no CATALOG_FILE and no database, every video will be unknown")
	}
	return chain, nil
}

func initRedis(ctx context.Context, log *zap.Logger, pcfg progressconfig.ProgressConfig) *cache.RedisCache {
	if pcfg.RedisURL == "" {
		return nil
	}
	c, err := cache.NewRedisCache(pcfg.RedisURL, pcfg.CacheTTL, "progress:state:")
	if err != nil {
		log.Warn("redis url invalid, cache disabled", zap.Error(err))
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, cache disabled", zap.Error(err))
		_ = c.Close()
		return nil
	}
	log.Info("progress cache: redis", zap.Duration("ttl", pcfg.CacheTTL))
	return c
}

func readiness(pool *pgxpool.Pool, c *cache.RedisCache) func() error {
	var dbReady func() error
	if pool != nil {
		dbReady = db.Ready(pool)
	}
	return func() error {
		if dbReady != nil {
			if err := dbReady(); err != nil {
				return err
			}
		}
		if c != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func stopGRPC(s *grpc.Server, timeout time.Duration) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.Stop()
	}
}
