package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sandkasten-go/internal/benchmark"
	"sandkasten-go/internal/concurrency"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/environments"
	"sandkasten-go/internal/httpapi"
	"sandkasten-go/internal/logging"
	"sandkasten-go/internal/program"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("CRITICAL: failed to load configuration: %v", err)
	}

	logging.Init()
	defer logging.Sync()

	if err := cfg.EnsureDirs(); err != nil {
		logging.S().Fatalf("failed to prepare data directories: %v", err)
	}

	reg, err := environments.Load(cfg.EnvironmentsPath)
	if err != nil {
		logging.S().Fatalf("failed to load environments: %v", err)
	}
	logging.S().Infof("loaded %d environment(s)", len(reg.All()))

	store := program.NewStore(cfg.ProgramsDir)
	jobs := concurrency.NewJobSemaphore(int64(cfg.MaxConcurrentJobs))
	orchestrator := program.NewOrchestrator(cfg, reg, store, jobs)
	benchmarks := benchmark.NewService(cfg, reg, orchestrator, jobs)

	evictionCtx, stopEviction := context.WithCancel(context.Background())
	defer stopEviction()
	evictionLoop := program.NewEvictionLoop(
		orchestrator,
		time.Duration(cfg.PruneIntervalSeconds)*time.Second,
		time.Duration(cfg.ProgramTTLSeconds)*time.Second,
	)
	go evictionLoop.Run(evictionCtx)
	logging.S().Infof("eviction loop started, interval=%ds ttl=%ds", cfg.PruneIntervalSeconds, cfg.ProgramTTLSeconds)

	server := httpapi.NewServer(cfg, reg, orchestrator, benchmarks)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logging.S().Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logging.S().Fatalf("server failed: %v", err)
	case sig := <-quit:
		logging.S().Infof("received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.S().Errorf("graceful shutdown failed: %v", err)
	}
	stopEviction()
	logging.S().Info("shutdown complete")
}
