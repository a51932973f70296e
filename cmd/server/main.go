// Command server runs the newsletter HTTP API and, unless WORKER_ENABLED is
// false, an in-process issue delivery worker.
//
// @title       Newsletter API
// @version     1.0
// @description Subscriptions, confirmation, and idempotent newsletter publishing.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-newsletter-backend/internal/app"
	"github.com/tbourn/go-newsletter-backend/internal/config"
	httpapi "github.com/tbourn/go-newsletter-backend/internal/http"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	cfg := config.MustLoad()
	lg := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, observability.RoleServer)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, observability.RoleServer)
	if err != nil {
		lg.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			lg.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := app.OpenStore(cfg.DB)
	if err != nil {
		lg.Fatal().Err(err).Msg("database setup failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	sender, err := app.NewSender(ctx, cfg.Email, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("email setup failed")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, sender, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if cfg.Worker.Enabled {
		w := app.NewWorker(db, sender, cfg.Worker, lg)
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	lg.Info().Msg("server stopped")
}
