package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/logger"
	"classattend/internal/queue"
	"classattend/internal/store"
	"classattend/internal/sweeper"
	"classattend/internal/vision"
)

// Worker sweeps expired sessions on a schedule and ends sessions their
// owners asked to close.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := store.Migrate(db.Client, db.Driver, log); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	records := attendance.NewRepository(db.Client, db.Driver)
	sweep := sweeper.New(records, cfg.Location(), log.Named("sweeper"))

	// Probe the vision service so operators see an outage here before
	// members do.
	if !cfg.FaceSkip {
		face := vision.New(cfg.FaceServiceURL, false, vision.Options{Timeout: 5 * time.Second}, log.Named("vision"))
		if err := face.Health(ctx); err != nil {
			log.Warn("vision service not available", zap.Error(err))
		} else {
			log.Info("vision service connected")
		}
	}

	cron, err := sweep.Schedule(cfg.SweepSchedule, time.Minute)
	if err != nil {
		log.Fatal("bad sweep schedule", zap.Error(err))
	}
	cron.Start()
	log.Info("sweeper scheduled", zap.String("schedule", cfg.SweepSchedule))

	if cfg.QueueBackend == "memory" {
		log.Warn("QUEUE_BACKEND=memory: owner end requests are handled by the api process, worker only sweeps")
		<-ctx.Done()
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		jobs := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

		log.Info("worker started, waiting for jobs")
		if err := sweep.Consume(ctx, jobs); err != nil {
			log.Error("job consumer failed", zap.Error(err))
		}
	}

	log.Info("shutdown signal received")
	<-cron.Stop().Done()
	log.Info("worker stopped")
}
