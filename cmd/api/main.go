package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/api"
	"classattend/internal/attendance"
	"classattend/internal/checkin"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/enrollment"
	"classattend/internal/logger"
	"classattend/internal/queue"
	"classattend/internal/signedcode"
	"classattend/internal/store"
	"classattend/internal/sweeper"
	"classattend/internal/vision"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("api server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db.Client, db.Driver, log); err != nil {
		return err
	}

	health := map[string]api.HealthCheck{"db": db.Healthy}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.CodeSecretBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	records := attendance.NewRepository(db.Client, db.Driver)
	profiles := enrollment.NewRepository(db.Client)
	loc := cfg.Location()

	var secrets signedcode.SecretStore = records
	if cfg.CodeSecretBackend == "redis" {
		secrets = signedcode.NewRedisSecrets(redisClient.Client, "")
	}
	codes := signedcode.New([]byte(cfg.CodeSigningKey), cfg.CodeTTL, secrets, loc, log.Named("codes"))

	oracle := vision.New(cfg.FaceServiceURL, cfg.FaceSkip, vision.Options{
		Timeout:    cfg.FaceTimeout,
		MaxRetries: cfg.FaceMaxRetries,
		BaseDelay:  cfg.FaceRetryBaseDelay,
	}, log.Named("vision"))
	if cfg.FaceSkip {
		log.Warn("FACE_SKIP is set, vision answers are mocked")
	}

	var uploader enrollment.Uploader
	if cfg.CloudinaryEnabled() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, reference photos are not stored")
	}

	sweep := sweeper.New(records, loc, log.Named("sweeper"))
	if cfg.QueueBackend == "memory" {
		// No separate worker shares an in-memory queue, so consume here.
		go func() {
			if err := sweep.Consume(ctx, jobs); err != nil {
				log.Error("in-process job consumer stopped", zap.Error(err))
			}
		}()
	}

	h := api.New(api.Deps{
		Attendance: attendance.NewService(records, loc, cfg.DefaultRadiusMeters, log.Named("attendance")),
		CheckIns:   checkin.New(records, profiles, oracle, codes, loc, cfg.DefaultRadiusMeters, log.Named("checkin")),
		Enrollment: enrollment.NewService(profiles, oracle, uploader, cfg.FaceConcurrency, log.Named("enrollment")),
		Codes:      codes,
		Sweeper:    sweep,
		Jobs:       jobs,
		Health:     health,
		Logger:     log,
	})
	router := api.NewRouter(h, api.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowOrigins:    cfg.CORSAllowOrigins,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Logger:          log.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // enrollment waits on five oracle calls
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("db_driver", db.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
