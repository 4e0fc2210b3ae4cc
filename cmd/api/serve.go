package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atlas/api/internal/app"
	"atlas/api/internal/cache"
	"atlas/api/internal/config"
	"atlas/api/internal/contentstore"
	"atlas/api/internal/events"
	"atlas/api/internal/gitrepo"
	"atlas/api/internal/objectstore"
	"atlas/api/internal/store"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	content, closeContent, err := openContentStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeContent()

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	service := app.New(cfg, store.NewPostgresStore(db), content, publisher)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Atlas API listening on %s (content backend %s)", cfg.Addr, cfg.ContentBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

// openContentStore builds the configured backend, wrapped in the Redis cache
// when REDIS_URL is set.
func openContentStore(ctx context.Context, cfg config.Config) (contentstore.Store, func(), error) {
	content, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return content, func() {}, nil
	}
	log.Printf("Using Redis content cache")
	cached, err := cache.NewRedisStore(content, cfg.RedisURL, cfg.CacheTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return cached, func() { _ = cached.Close() }, nil
}

// openBackend builds the configured content host without any cache.
func openBackend(ctx context.Context, cfg config.Config) (contentstore.Store, error) {
	switch cfg.ContentBackend {
	case config.BackendGit:
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create repos dir: %w", err)
		}
		return gitrepo.New(cfg.ReposDir), nil
	case config.BackendS3:
		objects, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("prepare bucket %s: %w", cfg.S3Bucket, err)
		}
		return objects, nil
	case config.BackendMemory:
		log.Printf("WARNING: using the in-memory content store; history is lost on restart")
		return contentstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.ContentBackend)
	}
}

func openPublisher(cfg config.Config) (events.Publisher, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return &events.NoopPublisher{}, nil
	}
	publisher, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	log.Printf("Publishing configuration events to %s", events.TopicConfigurationUpdated)
	return publisher, nil
}
