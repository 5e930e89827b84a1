package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/stocksync/stocksync-go/internal/client"
	"github.com/stocksync/stocksync-go/internal/config"
	"github.com/stocksync/stocksync-go/internal/handler"
	"github.com/stocksync/stocksync-go/internal/middleware"
	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
	"github.com/stocksync/stocksync-go/internal/service"
)

// loopback reconciles against this node's own store when no remote
// server is configured (single-node mode).
type loopback struct {
	push *service.PushService
	pull *service.PullService
}

func (l loopback) Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error) {
	return l.push.Push(ctx, req)
}

func (l loopback) Pull(ctx context.Context, since *time.Time, tables []string) (*model.PullResponse, error) {
	return l.pull.Changes(ctx, since, tables)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := repository.NewDB(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(db, cfg.DBDriver); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	records := repository.NewRecordStore(db)
	conflicts := repository.NewConflictStore(db)
	tokens := repository.NewTokenStore(db)

	clock := service.SystemClock()
	validator := service.NewBatchValidator(cfg.MaxTables, cfg.MaxRecordsPerTable)
	pushSvc := service.NewPushService(records, conflicts, validator, clock)
	pullSvc := service.NewPullService(records, cfg.PullWindow, clock)
	conflictSvc := service.NewConflictService(conflicts, records, clock)

	var transport service.Transport = loopback{push: pushSvc, pull: pullSvc}
	if cfg.RemoteURL != "" {
		transport = client.New(cfg.RemoteURL, cfg.RemoteToken)
		slog.Info("syncing against remote server", "url", cfg.RemoteURL)
	}

	orchestrator := service.NewOrchestrator(records, transport, cfg.MaxRecordsPerTable, cfg.PullWindow, cfg.SyncInterval, clock)
	orchestrator.Start()
	defer orchestrator.Stop()

	syncHandler := handler.NewSyncHandler(pushSvc, pullSvc, conflictSvc, orchestrator)

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	syncRate := middleware.RateLimit(cfg.SyncRateQuota, cfg.SyncRateWindow)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(tokens, model.AbilitySync))
		r.Use(syncRate)
		r.Post("/api/v1/sync", syncHandler.HandleRun)
		r.Post("/api/v1/sync/push", syncHandler.HandlePush)
		r.Get("/api/v1/sync/pull", syncHandler.HandlePull)
		r.Get("/api/v1/sync/conflicts", syncHandler.HandleListConflicts)
		r.Get("/api/v1/sync/conflicts/{id}/diff", syncHandler.HandleConflictDiff)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(tokens, model.AbilityResolve))
		r.Use(syncRate)
		r.Post("/api/v1/sync/resolve", syncHandler.HandleResolve)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
