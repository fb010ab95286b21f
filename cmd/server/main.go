package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/events"
	"github.com/atmx/settlement-engine/internal/fanout"
	"github.com/atmx/settlement-engine/internal/ledger"
	"github.com/atmx/settlement-engine/internal/loyalty"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/play"
	"github.com/atmx/settlement-engine/internal/ratelimit"
	"github.com/atmx/settlement-engine/internal/risk"
	"github.com/atmx/settlement-engine/internal/seed"
	"github.com/atmx/settlement-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(context.Background(), pool); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Cleanup runs in reverse so the cache closes after the pool.
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Rate limiter ---
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	var limitStore ratelimit.Store
	if rdb != nil {
		limitStore = ratelimit.NewRedisStore(rdb)
		slog.Info("shared rate limiter enabled")
	} else {
		mem := ratelimit.NewMemoryStore()
		go mem.Run(janitorCtx, cfg.RateLimit.EvictEvery)
		limitStore = mem
	}
	limiter := ratelimit.New(limitStore, cfg.RateLimit.Interval, logger)

	// --- Fan-out ---
	dispatcher := fanout.New(cfg.Fanout.Workers, cfg.Fanout.Queue, cfg.Fanout.TaskTimeout, fanout.WithLogger(logger))
	dispatcher.Start()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			slog.Error("kafka publisher failed", "err", err)
			os.Exit(1)
		}
		publisher = kp
		slog.Info("publishing settled bets", "topic", cfg.Kafka.Topic)
	}

	program, err := loyalty.NewProgram(st, cfg.Commission.Model, cfg.Commission.LevelRates(), logger)
	if err != nil {
		slog.Error("loyalty program", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := play.NewHub()
	go hub.Run(hubCtx)

	// --- Settlement engine ---
	seeds := seed.NewService(st, cfg.SeedMaxNonce)
	engine := play.NewEngine(play.Deps{
		Store:       st,
		Coordinator: ledger.NewCoordinator(st, seeds),
		Seeds:       seeds,
		Limiter:     limiter,
		Guard:       risk.NewGuard(cfg.Risk.MinCrashCashout, cfg.Risk.MaxWinChance),
		Loyalty:     program,
		Fanout:      dispatcher,
		Publisher:   publisher,
		Hub:         hub,
		Validate:    validator.New(),

		HouseEdge:       cfg.HouseEdge,
		MinBet:          cfg.MinBet,
		MaxBet:          cfg.MaxBet,
		DefaultCurrency: cfg.DefaultCurrency,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	engine.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down settlement-engine...")

	// Stop taking bets first, then let in-flight fan-out finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	cancel()
	stopHub()

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Fanout.TaskTimeout+5*time.Second)
	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Error("fanout drain incomplete", "err", err)
	}
	cancel()

	publisher.Close()
	stopJanitor()
	fmt.Println("settlement-engine stopped")
}
