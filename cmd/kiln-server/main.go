// Command kiln-server runs the Kiln REST API over the configured project
// folders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-ai/kiln-go/internal/api"
	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/log"
	"github.com/kiln-ai/kiln-go/internal/registry"
	"github.com/kiln-ai/kiln-go/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to settings file (YAML), default ~/.kiln_ai/settings.yaml")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until settings are loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "kiln-server",
		Version: version.Version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := *configPath
	if path == "" {
		path = config.DefaultSettingsPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load settings")
	}
	config.SetShared(settings)

	// Re-configure with the loaded log level.
	log.Configure(log.Config{
		Level:   settings.LogLevel,
		Service: "kiln-server",
		Version: version.Version,
	})
	logger.Info().
		Str("event", "config.loaded").
		Str("path", path).
		Int("projects", len(settings.ProjectPaths())).
		Msg("settings loaded")

	reg := registry.New(settings)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close project registry")
		}
	}()

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           api.New(settings, reg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Run and fine-tune endpoints wait on provider calls.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("listen", settings.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	shutdownTimeout := config.ParseDuration("KILN_SHUTDOWN_TIMEOUT", 15*time.Second)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("shutdown complete")
}
