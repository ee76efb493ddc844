// Command server runs the social diary HTTP API.
//
// Configuration comes from config.yaml (optional), a .env file (optional)
// and the process environment, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/config"
	sqliteRepo "github.com/sakif/social-diary/internal/repository/sqlite"
	"github.com/sakif/social-diary/internal/server"
	"github.com/sakif/social-diary/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return err
		}
	}
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return err
	}

	media, err := newMediaStore(cfg)
	if err != nil {
		db.Close()
		return err
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		db.Close()
		return err
	}

	deps := server.Deps{DB: db, Media: media, Tokens: tokens}
	if cfg.GitHubEnabled() {
		deps.GitHub = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	} else {
		logger.Info("GitHub login disabled: github.client_id or github.client_secret not set")
	}

	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		db.Close()
		return err
	}

	// Start blocks until SIGINT/SIGTERM and closes the database.
	return srv.Start()
}

func newMediaStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == config.BackendS3 {
		return storage.NewS3(context.Background(), storage.S3Options{
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Endpoint:     cfg.S3.Endpoint,
			PublicURL:    cfg.S3.PublicURL,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	}
	return storage.NewLocal(cfg.Storage.LocalDir, "/media/")
}
