package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"easel/engine/internal/app"
	"easel/engine/internal/archive"
	"easel/engine/internal/config"
	"easel/engine/internal/lock"
	"easel/engine/internal/retry"
	"easel/engine/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	policy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBase,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	dataStore, err := store.Open(cfg.RedisURL, policy)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer dataStore.Close()

	locks := lock.New(dataStore, cfg.LockTTL)
	sweeper := lock.NewSweeper(locks, cfg.SweepInterval)
	defer sweeper.Stop()

	var service *app.Service
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Archiving mutations to Postgres")
		journal, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive connection failed: %v", err)
		}
		defer journal.Close()
		service = app.NewWithJournal(dataStore, locks, journal)
	} else {
		log.Printf("No DATABASE_URL set; mutation archive disabled")
		service = app.New(dataStore, locks)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Easel engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
