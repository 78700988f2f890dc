package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lordfarm/internal/config"
	"github.com/DoyleJ11/lordfarm/internal/httpapi"
	"github.com/DoyleJ11/lordfarm/internal/hub"
	"github.com/DoyleJ11/lordfarm/internal/lobby"
	"github.com/DoyleJ11/lordfarm/internal/store"
	"github.com/DoyleJ11/lordfarm/internal/store/migrate"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	cat, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	var (
		sink     lobby.Sink = lobby.LogSink{Logger: log}
		profiles httpapi.Profiles
		st       *store.Store
	)
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if _, err := migrate.Run(cfg.DatabaseURL, migrate.Up, log); err != nil {
				return err
			}
		}
		st, err = store.Open(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		sink = lobby.MultiSink{sink, st}
		profiles = st
	} else {
		log.Warn("DATABASE_URL not set, sessions will not survive a restart")
	}

	g, gctx := errgroup.WithContext(ctx)
	h := hub.NewHub(gctx, hub.Options{
		Logger: log,
		Sink:   sink,
		Rules:  cfg.Rules(cat.Characters),
	})

	if st != nil {
		snaps, err := st.LoadActive(ctx)
		if err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
		if _, err := h.Recover(ctx, snaps); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(httpapi.New(h, profiles, cat, log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return h.RunSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	<-h.Done()
	log.Info("server stopped")
	return err
}
