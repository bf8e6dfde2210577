package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guest-gc/internal/config"
	"guest-gc/internal/guestgc"
	"guest-gc/internal/logging"
	"guest-gc/internal/store"
	httptransport "guest-gc/internal/transport/http"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}
	closer, err := logging.Init(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("init logging failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("guest-gc exited")
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	st, err := store.New(cfg.Server.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord, err := guestgc.NewCoordinator(guestgc.Deps{
		Store:      st,
		Lease:      st,
		Clock:      clock.WallClock,
		Registerer: reg,
	}, cfg.Cleanup.Collector())
	if err != nil {
		return err
	}
	// Signals start the shutdown sequence; collector work ends through Stop.
	workCtx, cancelWork := lifecycleContext(ctx)
	defer cancelWork()
	if err := coord.Start(workCtx); err != nil {
		return err
	}

	r := httptransport.NewRouter(httptransport.RouterDeps{
		DB:           st,
		Collector:    coord,
		History:      st,
		Gatherer:     reg,
		AdminAPIKey:  cfg.Server.AdminAPIKey,
		SweepContext: workCtx,
	})
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = coord.Stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTPShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	if err := coord.Stop(); err != nil {
		log.Warn().Err(err).Msg("guest cleanup stop incomplete")
	}
	return nil
}

// lifecycleContext keeps ctx's values but not its cancellation.
func lifecycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}
