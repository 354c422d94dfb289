// Package main runs one webmention gathering pass as a site build hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/clock/system"
	"github.com/JakeFAU/webmention-gatherer/internal/config"
	collyfetcher "github.com/JakeFAU/webmention-gatherer/internal/fetcher/colly"
	"github.com/JakeFAU/webmention-gatherer/internal/hash/sha256"
	"github.com/JakeFAU/webmention-gatherer/internal/id/uuid"
	"github.com/JakeFAU/webmention-gatherer/internal/logging"
	"github.com/JakeFAU/webmention-gatherer/internal/pipeline"
	"github.com/JakeFAU/webmention-gatherer/internal/policy/throttle"
	"github.com/JakeFAU/webmention-gatherer/internal/processor"
	"github.com/JakeFAU/webmention-gatherer/internal/render"
	"github.com/JakeFAU/webmention-gatherer/internal/site"
	"github.com/JakeFAU/webmention-gatherer/internal/webmentionio"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "webmentions: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Webmentions.PauseLookups {
		logger.Info("webmention lookups are paused")
		return nil
	}

	manifest, err := site.Load(cfg.Site.Manifest)
	if err != nil {
		return fmt.Errorf("load site manifest: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	api, err := webmentionio.New(webmentionio.Config{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.Timeout(),
		MaxRetries: cfg.API.MaxRetries,
	}, logger.Named("api"))
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}

	policy, err := throttle.New(cfg.Webmentions.ThrottleLookups)
	if err != nil {
		return fmt.Errorf("build throttle policy: %w", err)
	}

	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.Timeout(),
	})
	proc := processor.New(
		fetcher,
		render.NewMarkdown(),
		clock,
		sha256.New(),
		processor.Config{FallbackID: processor.FallbackStrategy(cfg.Webmentions.FallbackID)},
		logger.Named("processor"),
	)

	orchestrator, err := pipeline.New(
		store,
		api,
		proc,
		policy,
		clock,
		uuid.New(),
		publisher,
		pipeline.Config{
			SiteURL:         cfg.Site.URL,
			LegacyDomains:   cfg.Webmentions.LegacyDomains,
			IncludePages:    cfg.Webmentions.Pages,
			PauseLookups:    cfg.Webmentions.PauseLookups,
			Endpoint:        cfg.API.Endpoint,
			MetricsTextfile: cfg.Metrics.Textfile,
		},
		logger.Named("pipeline"),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	if _, err := orchestrator.Run(ctx, manifest.Items(cfg.Webmentions.Pages)); err != nil {
		logger.Error("webmention run failed", zap.Error(err))
		return err
	}
	return nil
}
