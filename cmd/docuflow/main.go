package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ravenel/docuflow/internal/api"
	"github.com/ravenel/docuflow/internal/config"
	"github.com/ravenel/docuflow/internal/engine"
	"github.com/ravenel/docuflow/internal/seed"
	"github.com/ravenel/docuflow/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("docuflow: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if cfg.SeedPath != "" {
		f, err := seed.Load(cfg.SeedPath)
		if err != nil {
			log.Fatalf("failed to load seed file: %v", err)
		}
		if err := seed.Apply(context.Background(), f, db, logger); err != nil {
			log.Fatalf("failed to apply seed file: %v", err)
		}
	}

	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryAttempts
	retry.BaseDelay = cfg.RetryBaseDelay

	eng := engine.NewEngine(db, &engine.DirectoryAuthorizer{Store: db}, engine.Hooks{}, logger, engine.Options{
		Retry:          retry,
		DefaultTaskSLA: time.Duration(cfg.DefaultSLAHours) * time.Hour,
	})

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
