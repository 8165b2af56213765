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
	_ "time/tzdata"

	"campaign-dialer/internal/app"
	"campaign-dialer/internal/config"
	"campaign-dialer/internal/httpapi"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Restore(rootCtx); err != nil {
		log.Error("restore failed", "err", err)
		os.Exit(1)
	}
	defer a.Pacing.Stop()

	hub := httpapi.NewHub(cfg.HTTP.CORSOrigins, log)
	sub := a.Bus.Subscribe(256)
	defer sub.Close()
	go hub.Run(rootCtx, sub.C())

	sched := cron.New(cron.WithLocation(cfg.RollupLocation()))
	if cfg.Rollup.RebuildCron != "" {
		_, err := sched.AddFunc(cfg.Rollup.RebuildCron, func() {
			rep, err := a.Aggregator.Rebuild(rootCtx)
			if err != nil {
				log.Error("scheduled rollup rebuild failed", "err", err)
				return
			}
			log.Info("scheduled rollup rebuild", "calls", rep.Calls, "repaired", rep.Repaired, "drifted", rep.Drifted)
		})
		if err != nil {
			log.Error("invalid ROLLUP_REBUILD_CRON", "spec", cfg.Rollup.RebuildCron, "err", err)
			os.Exit(1)
		}
		sched.Start()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	if cfg.HTTP.RateLimitRPS > 0 {
		rl := httpapi.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		go rl.RunCleanup(rootCtx)
		r.Use(rl.Middleware())
	}
	registerRoutes(r, a, hub)

	var handler http.Handler = r
	if len(cfg.HTTP.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.HTTP.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler(r)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "storage", cfg.Storage.Backend, "executor", a.Executor.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	<-sched.Stop().Done()
}
