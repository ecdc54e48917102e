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
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"realtime-service/internal/config"
	"realtime-service/internal/database"
	"realtime-service/internal/handler"
	"realtime-service/internal/hub"
	"realtime-service/internal/job"
	"realtime-service/internal/metrics"
	"realtime-service/internal/middleware"
	"realtime-service/internal/queue"
	"realtime-service/internal/repository"
	"realtime-service/internal/router"
	"realtime-service/internal/service"
)

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting Realtime Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database: retry in the background until it answers or we are told to stop.
	dbConfig := database.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	}
	db, err := database.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to connect to database on startup, will retry in background", zap.Error(err))
		<-database.NewAsync(ctx, dbConfig, 5*time.Second, logger)
		if db = database.GetDB(); db == nil {
			logger.Info("Shutdown requested before database became available")
			return
		}
	} else {
		database.SetDB(db)
		logger.Info("Database connected successfully")
	}
	defer database.Close(db)

	redisClient, err := database.NewRedis(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, presence mirroring disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New(logger)

	dispatcher, err := newDispatcher(cfg, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize task queue", zap.Error(err))
	}
	recorder := service.NewRecorder(
		dispatcher,
		repository.NewChatRepository(db),
		repository.NewAnalyticsRepository(db),
		m,
		logger,
	)
	// Workers outlive the signal context so Close can drain buffered writes.
	if err := dispatcher.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start task queue", zap.Error(err))
	}

	deps := hub.Dependencies{
		Users:        repository.NewUserRepository(db),
		Appointments: repository.NewAppointmentRepository(db),
		Recorder:     recorder,
	}
	if redisClient != nil {
		deps.Presence = repository.NewPresenceRepository(redisClient)
	}
	coordinator := hub.NewCoordinator(deps, hub.Options{LookupTimeout: cfg.Realtime.LookupTimeout}, m, logger)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := coordinator.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Coordinator stopped unexpectedly", zap.Error(err))
		}
	}()

	scheduler := job.NewScheduler(logger)
	if err := scheduler.Add(cfg.Realtime.SweepSchedule, job.NewRoomSweepJob(coordinator, logger)); err != nil {
		logger.Fatal("Failed to schedule room sweep", zap.Error(err))
	}
	scheduler.Start()

	r := router.Setup(router.Config{
		DB:          database.GetDB,
		Redis:       redisClient,
		Coordinator: coordinator,
		Validator:   middleware.NewJWTValidator(cfg.Auth.JWTSecret),
		Metrics:     m,
		Logger:      logger,
		BasePath:    cfg.Server.BasePath,
		CORSOrigins: cfg.Server.CORSOrigins,
		WS: handler.WSOptions{
			SendBufferSize: cfg.Realtime.SendBufferSize,
			MaxMessageSize: cfg.Realtime.MaxMessageSize,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Realtime Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the loop makes their next Dispatch fail and the pumps exit.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	stopLoop()
	<-loopDone
	if err := dispatcher.Close(); err != nil {
		logger.Warn("Task queue did not drain cleanly", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// newDispatcher builds the persistence queue selected by configuration.
// Failed tasks are counted once they are given up on.
func newDispatcher(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (queue.Dispatcher, error) {
	onError := func(task queue.Task, err error) {
		m.PersistenceFailed(task.Type)
	}

	switch cfg.Queue.Backend {
	case "asynq":
		return queue.NewAsynqDispatcher(queue.AsynqConfig{
			RedisURL:    cfg.Redis.URL,
			Queue:       "realtime",
			Concurrency: cfg.Queue.Concurrency,
			MaxRetry:    cfg.Queue.MaxRetry,
		}, onError, logger)
	case "", "local":
		return queue.NewLocalDispatcher(cfg.Queue.Workers, cfg.Queue.BufferSize, onError, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
