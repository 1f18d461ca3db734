package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"redline/api/internal/app"
	"redline/api/internal/archive"
	"redline/api/internal/blob"
	"redline/api/internal/config"
	"redline/api/internal/email"
	"redline/api/internal/events"
	"redline/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	blobs, err := blob.NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	var directory app.DirectoryStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("schema setup failed: %v", err)
		}
		directory = pg
		log.Printf("Using PostgreSQL actor directory")
	} else {
		directory = store.NewStaticStore(app.SeedActors()...)
		log.Printf("Using in-memory actor directory")
	}

	broadcaster := events.NewBroadcaster()
	opts := app.Options{
		Archive:      archive.New(filepath.Join(cfg.DataDir, "revisions")),
		MaxBlobBytes: cfg.MaxBlobMB << 20,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		bridge, err := events.NewBridge(cfg.RedisURL, cfg.RedisChannel, broadcaster)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer bridge.Close()
		go bridge.Run(ctx)
		opts.Bridge = bridge
		log.Printf("Event bridge connected on channel %s", cfg.RedisChannel)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := blob.NewArchiver(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage init failed: %v", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: object storage bucket check failed: %v", err)
		}
		opts.Objects = archiver
		log.Printf("Object-storage archival enabled (bucket %s)", cfg.MinioBucket)
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		opts.Mail = mail
		log.Printf("Reminder mail enabled via %s", cfg.SMTPHost)
	}

	service := app.New(directory, blobs, broadcaster, cfg.DocumentID, opts)
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the event stream stays open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Redline API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
