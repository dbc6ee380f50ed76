package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremyjsx/entries-site/internal/config"
	"github.com/jeremyjsx/entries-site/internal/export"
	"github.com/jeremyjsx/entries-site/internal/pages"
	"github.com/jeremyjsx/entries-site/internal/posts"
	"github.com/jeremyjsx/entries-site/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("prerender export failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.S3Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s3Client, err := storage.NewS3Client(ctx, cfg.AWSRegion, cfg.S3Endpoint)
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}

	client := posts.NewClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout})
	cache := posts.NewCache(client, posts.WithLogger(logger), posts.WithPageLimit(cfg.PageLimit))
	exporter := export.NewExporter(
		cache,
		pages.NewLoader(cache, client, logger),
		storage.NewS3Storage(s3Client, cfg.S3Bucket, cfg.S3Prefix),
		logger,
	)

	res, err := exporter.Export(ctx)
	if err != nil {
		return err
	}
	logger.Info("prerender export done",
		"posts", res.Posts,
		"pruned", len(res.Pruned),
		"skipped", len(res.Skipped),
		"bucket", cfg.S3Bucket,
		"prefix", cfg.S3Prefix,
	)
	return nil
}
