package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/chronos-ledger/api"
	"github.com/warp/chronos-ledger/internal/logger"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port (env PORT)")
	cmd.Flags().String("seed-scenario", "", "Demo scenario to load on startup (env SEED_SCENARIO)")
	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("SEED_SCENARIO", cmd.Flags().Lookup("seed-scenario"))
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if err := a.ledger.Seed(ctx); err != nil {
		return err
	}

	handler := api.NewHandler(a.ledger, logger.WithComponent("api"))
	handler.Resetter = a.store
	handler.Ping = a.store.Ping

	if a.cfg.SeedScenario != "" {
		if err := handler.Load(ctx, a.cfg.SeedScenario); err != nil {
			return err
		}
	}

	scheduler := api.NewAuditScheduler(a.ledger, a.cfg.AuditInterval, logger.WithComponent("audit"))
	handler.Audits = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: a.cfg.AllowedOrigins(),
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("db", a.cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
