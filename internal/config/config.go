package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	APIBaseURL  string        `env:"API_BASE_URL" envDefault:"https://phpapi.andierni.ch/api"`
	PageLimit   int           `env:"POSTS_PAGE_LIMIT" envDefault:"1000"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	DatabaseURL string        `env:"DATABASE_URL"`
	S3Bucket    string        `env:"S3_BUCKET"`
	S3Prefix    string        `env:"S3_PREFIX" envDefault:"site"`
	AWSRegion   string        `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Endpoint  string        `env:"S3_ENDPOINT"`
	RabbitMQURL string        `env:"RABBITMQ_URL"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Default().Debug("no .env loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PageLimit < 1 {
		return nil, fmt.Errorf("POSTS_PAGE_LIMIT must be positive, got %d", cfg.PageLimit)
	}
	return &cfg, nil
}
