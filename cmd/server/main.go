// Package main is the entrypoint for the events API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/codex-team/hawk.events/internal/api"
	"github.com/codex-team/hawk.events/internal/api/handler"
	mw "github.com/codex-team/hawk.events/internal/api/middleware"
	"github.com/codex-team/hawk.events/internal/api/response"
	"github.com/codex-team/hawk.events/internal/auth"
	"github.com/codex-team/hawk.events/internal/cache"
	"github.com/codex-team/hawk.events/internal/chart"
	"github.com/codex-team/hawk.events/internal/config"
	"github.com/codex-team/hawk.events/internal/store"
	"github.com/codex-team/hawk.events/internal/stream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to MongoDB
	db, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Client().Disconnect(context.Background())
	slog.Info("database connected", "database", cfg.Mongo.Database)

	// 3. Connect to Redis
	redisCache, err := cache.New(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Build the core
	charts := chart.NewReader(redisCache)
	fanout := stream.NewFanout(db, &projectDirectory{db: db}, cfg.Stream.Buffer)

	// 5. Build router with dependencies
	deps := api.Dependencies{
		Auth:          mw.NewAuth(auth.NewJWTVerifier(cfg.API.JWTSecret)),
		RateLimit:     mw.NewRateLimit(redisCache, cfg.API.RequestsPerMinute),
		Events:        handler.NewEvents(db, charts),
		Stream:        handler.NewStream(fanout),
		HealthHandler: healthHandler(db, redisCache),
	}
	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(db *mongo.Database, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Client().Ping(r.Context(), readpref.Primary()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

// projectDirectory resolves the projects a user can see from the shared
// projects collection owned by the accounts service. Only this narrow
// read is consumed here; project CRUD lives elsewhere.
type projectDirectory struct {
	db *mongo.Database
}

func (p *projectDirectory) ProjectIDs(ctx context.Context, userID string) ([]string, error) {
	cur, err := p.db.Collection("projects").Find(ctx, bson.M{"team": userID})
	if err != nil {
		return nil, fmt.Errorf("find user projects: %w", err)
	}
	defer cur.Close(ctx)

	var projects []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("decode user projects: %w", err)
	}

	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, project.ID.Hex())
	}
	return ids, nil
}
