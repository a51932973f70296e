// Command worker drains the issue delivery queue. Run it beside a server
// started with WORKER_ENABLED=false to scale delivery separately; several
// workers may share one Postgres database.
//
// Flags:
//
//	-once         drain due tasks and exit (cron style)
//	-metrics-addr address for /metrics and /health (empty disables)
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-newsletter-backend/internal/app"
	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "drain due tasks and exit")
	metricsAddr := flag.String("metrics-addr", ":9091", "listen address for /metrics and /health")
	flag.Parse()

	_ = godotenv.Load()

	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	cfg := config.MustLoad()
	lg := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, observability.RoleWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, observability.RoleWorker)
	if err != nil {
		lg.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
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
	w := app.NewWorker(db, sender, cfg.Worker, lg)

	if *once {
		stats, err := w.DrainOnce(ctx)
		lg.Info().
			Int("delivered", stats.Delivered).
			Int("skipped", stats.Skipped).
			Int("retried", stats.Retried).
			Int("abandoned", stats.Abandoned).
			Msg("drain finished")
		if err != nil {
			lg.Error().Err(err).Msg("drain failed")
			os.Exit(1)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"status":"ok"}`))
		})
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		lg.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
}
