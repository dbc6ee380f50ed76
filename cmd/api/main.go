package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyjsx/entries-site/internal/config"
	"github.com/jeremyjsx/entries-site/internal/events"
	"github.com/jeremyjsx/entries-site/internal/handlers"
	"github.com/jeremyjsx/entries-site/internal/middleware"
	"github.com/jeremyjsx/entries-site/internal/pages"
	"github.com/jeremyjsx/entries-site/internal/posts"
	"github.com/jeremyjsx/entries-site/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so its defers run before main exits.
func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := posts.NewClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout})
	cache := posts.NewCache(client, posts.WithLogger(logger), posts.WithPageLimit(cfg.PageLimit))
	loader := pages.NewLoader(cache, client, logger)

	health := &handlers.HealthDeps{Cache: cache, RabbitMQURL: cfg.RabbitMQURL}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		mirror := posts.NewPostgresMirror(db)
		if err := mirror.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare mirror table: %w", err)
		}
		stopMirror := posts.MirrorOnLoad(cache, mirror, logger)
		defer stopMirror()
		health.DB = db
	}

	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx, cfg.AWSRegion, cfg.S3Endpoint)
		if err != nil {
			return fmt.Errorf("create s3 client: %w", err)
		}
		health.Storage = storage.NewS3Storage(s3Client, cfg.S3Bucket, cfg.S3Prefix)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		rmq, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rmq.Close()
		publisher = rmq
	}
	stopEvents := events.Forward(cache, publisher, logger)
	defer stopEvents()

	postsHandler := handlers.NewPostsHandler(loader, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.Health(health))
	mux.HandleFunc("GET /posts", postsHandler.List())
	mux.HandleFunc("GET /posts/{slug}", postsHandler.GetBySlug())
	mux.HandleFunc("GET /entries", postsHandler.Entries())
	mux.HandleFunc("GET /tags", postsHandler.Tags())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.RequestID(middleware.Logging(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Warm the cache without holding up startup.
	loader.Layout(ctx, true)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "port", cfg.Port, "api", cfg.APIBaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
