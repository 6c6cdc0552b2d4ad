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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/account"
	"github.com/fmx/matrix-engine/internal/matrix"
	"github.com/fmx/matrix-engine/internal/metrics"
	"github.com/fmx/matrix-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Optional .env for local development; real deployments set the
	// environment directly.
	godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Init(context.Background()); err != nil {
			slog.Error("database schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case os.Getenv("REDIS_URL") != "":
		opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewRedisStore(rdb)
		slog.Info("connected to Redis")

	default:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		st = store.NewFileStore(dataDir)
		slog.Info("using file store", "dir", dataDir)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Balance ledger ---
	// New users get a demo starting balance, matching the original product.
	starting := decimal.NewFromInt(10)
	if sb := os.Getenv("STARTING_BALANCE"); sb != "" {
		parsed, err := decimal.NewFromString(sb)
		if err != nil || parsed.IsNegative() {
			slog.Error("invalid STARTING_BALANCE", "value", sb)
			os.Exit(1)
		}
		starting = parsed
	}
	ledger := account.NewLedger(starting, nil, nil)

	// --- WebSocket hub ---
	hub := matrix.NewHub()
	go hub.Run()

	// --- Matrix engine ---
	engine := matrix.NewService(ledger, st, hub, nil, nil)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"matrix-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time position events.
		r.Get("/ws", hub.HandleWS)

		// Level catalog.
		r.Get("/levels", matrix.HandleListLevels)

		// Position lifecycle.
		r.Post("/positions", engine.HandleCreatePosition)
		r.Post("/positions/{positionID}/fill", engine.HandleAdvanceFill)
		r.Get("/users/{userID}/positions", engine.HandleListPositions)

		// Earnings and balance.
		r.Get("/users/{userID}/earnings", engine.HandleEarnings)
		r.Get("/users/{userID}/balance", engine.HandleBalance)
		r.Get("/users/{userID}/transactions", engine.HandleTransactions)
		r.Post("/deposit", engine.HandleDeposit)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("matrix-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down matrix-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("matrix-engine stopped")
}
