package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/post-comb/app/api"
	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/cfg"
	"github.com/lysyi3m/post-comb/app/database"
	"github.com/lysyi3m/post-comb/app/feed"
	"github.com/lysyi3m/post-comb/app/pipeline"
	"github.com/lysyi3m/post-comb/app/runner"
	"github.com/lysyi3m/post-comb/app/source"
	"github.com/lysyi3m/post-comb/app/store"
	"github.com/lysyi3m/post-comb/app/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Post Comb failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if config == nil {
		// Help was shown
		return nil
	}

	setupLogger(config.Debug)

	slog.Info("Starting Post Comb", "version", config.Version, "storage", config.Storage)

	repo, closeRepo, err := openRepository(config)
	if err != nil {
		return fmt.Errorf("failed to open campaign storage: %w", err)
	}
	defer closeRepo()

	definitions := campaign.NewDefinitionCache(config.CampaignsDir)
	if err := definitions.Run(); err != nil {
		return fmt.Errorf("failed to load campaign definitions from %s: %w", config.CampaignsDir, err)
	}
	created, err := campaign.Seed(repo, definitions.GetDefinitions())
	if err != nil {
		return fmt.Errorf("failed to register campaigns: %w", err)
	}
	slog.Info("Campaign definitions loaded", "count", definitions.GetDefinitionCount(), "created", created)

	sites := pipeline.NewYAMLSiteRegistry(config.SitesFile)
	if err := sites.Load(); err != nil {
		return fmt.Errorf("failed to load sites from %s: %w", config.SitesFile, err)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := sites.Watch(watchCtx, pipeline.DefaultReloadDelay); err != nil {
			slog.Warn("Sites file watching disabled, send SIGHUP to reload", "error", err)
		}
	}()

	client := feed.NewClient(
		feed.WithUserAgent(config.UserAgent),
		feed.WithRateLimit(config.FetchRate),
		feed.WithTrendsURL(config.TrendsURL),
	)
	resolver := source.NewResolver(client, client, client, source.WithFeedConcurrency(config.FeedConcurrency))

	publisher := pipeline.NewWebhookPublisher(config.PipelineURL,
		pipeline.WithToken(config.PipelineToken),
		pipeline.WithUserAgent(config.UserAgent),
	)
	executor := runner.NewExecutor(repo, publisher, runner.WithItemTimeout(config.PipelineTimeout))

	driver := tasks.NewDriver(repo, sites, resolver, executor)
	scheduler, err := tasks.NewScheduler(driver, config.SweepSchedule, tasks.WithLocation(config.Location))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(repo, scheduler, sites, config.Version, api.WithWaitTimeout(config.WaitTimeout))
	server := api.NewServer(handler, config.APIAccessKey)

	// Trigger and sweep requests answer within WaitTimeout, 202 if the task
	// is still running.
	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.WaitTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", config.Port, "api_enabled", config.APIAccessKey != "")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	slog.Info("Post Comb started")

	var serveErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reload(sites)
				continue
			}
			slog.Info("Received signal", "signal", sig.String())
			break wait
		case err := <-serverErrChan:
			serveErr = err
			break wait
		}
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serveErr
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// openRepository returns the configured campaign store and a function that
// releases it.
func openRepository(config *cfg.Cfg) (campaign.Repository, func(), error) {
	if config.Storage == cfg.StorageMemory {
		slog.Warn("Using in-memory storage, campaigns and runs are lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		return nil, nil, err
	}

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("Database ready", "path", config.DBPath, "schema_version", version, "dirty", dirty)

	return database.NewRepository(db), func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}, nil
}

func reload(sites *pipeline.YAMLSiteRegistry) {
	if err := sites.Load(); err != nil {
		slog.Error("Failed to reload sites, keeping previous list", "error", err)
	}
}
