package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/campaign"
	"github.com/leadflow/outreach/internal/config"
	"github.com/leadflow/outreach/internal/notify"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/plan"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/schedule"
	"github.com/leadflow/outreach/internal/store"
	"github.com/leadflow/outreach/internal/transport"
	"github.com/leadflow/outreach/internal/unibox"
	"github.com/leadflow/outreach/internal/warmup"
)

func main() {
	log.Println("Starting LeadFlow Outreach Worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyLogLevel(cfg.Logging)

	if cfg.Database.URL == "" {
		log.Fatal("database url is required (database.url or DATABASE_URL)")
	}
	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	st := store.New(db)
	log.Println("Connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	q := queue.New(rdb)
	registry := transport.NewRegistry(cfg.Google.ClientID, cfg.Google.ClientSecret)
	pool := transport.NewPool(rdb)
	scheduler := schedule.New(schedule.TitleHeuristic{})
	gate := plan.NewGate(st)
	notifier := notify.New(st)
	events := campaign.NewEvents(st)

	launcher := campaign.NewLauncher(st, q, events, notifier)
	processor := campaign.NewProcessor(st, q, events, registry, pool, scheduler, gate, rdb, cfg.Tracking.BaseURL)
	engine := warmup.NewEngine(st, q, registry)
	watcher := unibox.NewWatcher(st, q,
		unibox.NewGmailSyncer(cfg.Google.ClientID, cfg.Google.ClientSecret), notifier, rdb)

	q.Register(queue.TypeCampaignLaunch, cfg.Worker.LaunchConcurrency, launcher.Handle)
	q.Register(queue.TypeEmailProcess, cfg.Worker.ProcessConcurrency, processor.Handle)
	q.Register(queue.TypeWarmupAccount, cfg.Worker.WarmupConcurrency, engine.HandleAccountTick)
	q.Register(queue.TypeWarmupMessage, cfg.Worker.WarmupConcurrency, engine.HandleMessageReceived)
	q.Register(queue.TypeWarmupReply, cfg.Worker.WarmupConcurrency, engine.HandleReply)
	q.Register(queue.TypeUniboxSync, cfg.Worker.SyncConcurrency, watcher.HandleSync)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Printf("%s stopped", name)
		}()
	}

	run("queue dispatcher", q.Run)
	run("warmup scheduler", warmup.NewScheduler(st, q).Run)
	run("warmup ramp", warmup.NewRamp(st).Run)
	run("mailbox scheduler", unibox.NewScheduler(st, q).Run)
	run("retention sweeper", campaign.NewRetentionSweeper(st).Run)

	log.Println("Worker running...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	wg.Wait()
	log.Println("Worker stopped")
}

func applyLogLevel(cfg config.LoggingConfig) {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}
