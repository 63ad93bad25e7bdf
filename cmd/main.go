// Package main is the entry point for chatd, the local chat proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/lmstream/chatd/internal/backend"
	"github.com/lmstream/chatd/internal/config"
	"github.com/lmstream/chatd/internal/history"
	"github.com/lmstream/chatd/internal/monitoring"
	"github.com/lmstream/chatd/internal/prompt"
	"github.com/lmstream/chatd/internal/server"
	"github.com/lmstream/chatd/internal/session"
)

func main() {
	// Local .env overrides nothing; it only fills unset variables before the
	// config file's ${VAR:-default} expansion runs.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Monitoring.Log.Level = "debug"
	}
	monitoring.SetupLogger(cfg.Monitoring.Log)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("chatd failed")
	}
	log.Info().Msg("chatd stopped")
}

// loadConfig reads the config file, falling back to defaults when no path is
// given and no configs/config.yaml exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return config.Load("configs/config.yaml")
	}
	return config.Default(), nil
}

func run(cfg *config.Config) error {
	systemContext, err := prompt.LoadSystemContext(cfg.Context.File)
	if err != nil {
		return fmt.Errorf("load system context: %w", err)
	}
	if err := os.MkdirAll(cfg.Uploads.Dir, 0o750); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	var metrics *monitoring.Metrics
	if cfg.Monitoring.Metrics {
		metrics = monitoring.NewMetrics("chatd")
	}

	hist := history.NewStore()
	gen := backend.NewClient(cfg.Backend)
	counter := prompt.NewTokenCounter()
	sess := session.New(gen, hist, session.Config{
		SystemContext: systemContext,
		MaxTurns:      cfg.History.MaxTurns,
		TokenCount:    counter.Count,
		Metrics:       metrics,
	})
	srv := server.New(cfg, sess, hist, metrics)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("backend", cfg.Backend.BaseURL).
		Str("model", cfg.Backend.Model).
		Int("max_turns", cfg.History.MaxTurns).
		Msg("chatd listening")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
