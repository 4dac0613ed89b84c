package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/logging"
	"github.com/junseo/bidwatcher/internal/mail"
	"github.com/junseo/bidwatcher/internal/narajangter"
	syncer "github.com/junseo/bidwatcher/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
	days := flag.Int("days", 1, "number of days to resync, today included")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	client := narajangter.NewClient(cfg.Upstream, logger)
	mailer := mail.NewSMTPSender(cfg.SMTP, logger)

	orch := syncer.New(client, store, mailer, cfg.Sync, logger)
	if err := orch.ResyncDays(ctx, *days); err != nil {
		logger.Fatal("resync failed", zap.Int("days", *days), zap.Error(err))
	}
	logger.Info("resync finished", zap.Int("days", *days))
}
