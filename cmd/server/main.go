package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/api"
	"github.com/junseo/bidwatcher/internal/auth"
	"github.com/junseo/bidwatcher/internal/bids"
	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/logging"
	"github.com/junseo/bidwatcher/internal/mail"
	"github.com/junseo/bidwatcher/internal/narajangter"
	"github.com/junseo/bidwatcher/internal/notify"
	syncer "github.com/junseo/bidwatcher/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	store := db.NewStore(pool)
	client := narajangter.NewClient(cfg.Upstream, logger.With(zap.String("component", "upstream")))
	mailer := mail.NewSMTPSender(cfg.SMTP, logger.With(zap.String("component", "mail")))

	orch := syncer.New(client, store, mailer, cfg.Sync,
		logger.With(zap.String("component", "sync")))
	go orch.Run(ctx)

	bidService := bids.NewService(store, client, orch,
		logger.With(zap.String("component", "bids")))

	authService, err := auth.NewService(pool, cfg.Auth, logger)
	if err != nil {
		logger.Fatal("failed to initialize auth", zap.Error(err))
	}

	if cfg.Notify.Enabled {
		scheduler := notify.New(store, bidService, mailer, cfg.Notify,
			logger.With(zap.String("component", "notify")))
		go scheduler.Run(ctx)
	}

	srv := api.NewServer(store, bidService, authService, orch, cfg.Server, logger)
	go func() {
		<-ctx.Done()
		srv.Echo.Shutdown(context.Background())
	}()

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := srv.Start(cfg.Server.Port); err != nil {
		logger.Info("server stopped", zap.Error(err))
	}
}
