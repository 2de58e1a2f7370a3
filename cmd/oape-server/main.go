package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oape/internal/config"
	"oape/internal/logging"
	"oape/internal/server/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to oape.yaml (default: search ., ~/.oape, /etc/oape)")
	flag.Parse()

	logger := logging.NewComponentLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))

	logger.Info("starting oape server")
	logger.Info("model: %s, base URL: %s", cfg.LLM.Model, cfg.LLM.BaseURL)
	logger.Info("max iterations: %d, token budget: %d, concurrency: %d",
		cfg.Agent.MaxIterations, cfg.Agent.TokenBudget, cfg.Agent.MaxConcurrentJobs)

	container, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("initialize server: %v", err)
	}

	srv := bootstrap.NewHTTPServer(container)

	go func() {
		logger.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown: %v", err)
	}
	container.Cleanup(ctx)
	logger.Info("server stopped")
}
