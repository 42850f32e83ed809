package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/api"
	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/config"
	"github.com/cinvymoe/patrol_server/internal/detection"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/mapper"
	"github.com/cinvymoe/patrol_server/internal/motion"
	"github.com/cinvymoe/patrol_server/internal/scheduler"
	"github.com/cinvymoe/patrol_server/internal/sensor"
	"github.com/cinvymoe/patrol_server/internal/storage/db"
	"github.com/cinvymoe/patrol_server/internal/storage/repository"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Patrol Server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	database, err := db.New(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize repositories
	cameraRepo := repository.NewCameraRepository(database)
	angleRangeRepo := repository.NewAngleRangeRepository(database)
	aiSettingsRepo := repository.NewAISettingsRepository(database)
	logger.Info("Database repositories initialized")

	// Initialize message broker with the built-in channels
	msgBroker := broker.Default()
	if err := msgBroker.RegisterDefaults(); err != nil {
		logger.Fatal("Failed to register default message handlers", zap.Error(err))
	}

	// Camera mapper shares the broker's error handler so query retries and
	// fallback caching follow one policy
	cameraMapper := mapper.NewCameraMapper(cameraRepo, angleRangeRepo, msgBroker.ErrorHandler())

	// Data manager: resolve cameras per message, arbitrate the active slot
	dataManager := broker.NewDataManager(msgBroker, cameraMapper.CamerasFor, cfg.Broker.MessageDuration)
	if err := dataManager.Initialize(); err != nil {
		logger.Fatal("Failed to initialize data manager", zap.Error(err))
	}

	// Sensor source and motion pipeline
	source := buildSensorSource(cfg.Sensor)
	processor := motion.NewProcessor(motion.CalculatorConfig{})
	collector := motion.NewCollector(source, processor, msgBroker)
	if err := collector.Start(ctx); err != nil {
		logger.Error("Failed to start sensor collector", zap.Error(err))
	}

	// Detection monitor and shared frame cache
	frameCache := detection.NewFrameCache()
	detectionMonitor := detection.NewMonitor(detection.MonitorConfig{
		ModelPath:      cfg.Detection.ModelPath,
		Interval:       cfg.Detection.Interval,
		ConnectTimeout: cfg.Detection.ConnectTimeout,
		ReadTimeout:    cfg.Detection.ReadTimeout,
	}, aiSettingsRepo, cameraRepo, msgBroker, frameCache, nil, nil)

	if cfg.Detection.AutoStart {
		if err := detectionMonitor.Start(ctx); err != nil {
			logger.Error("Failed to start detection monitor", zap.Error(err))
		}
	}

	// Camera status monitor
	cameraMonitor := scheduler.NewCameraMonitor(cameraRepo, cfg.Cameras.CheckInterval, cfg.Cameras.CheckTimeout)
	if err := cameraMonitor.Start(ctx); err != nil {
		logger.Error("Failed to start camera monitor", zap.Error(err))
	}

	// Create HTTP router with dependencies
	router := api.NewRouter(&api.RouterDependencies{
		Config:           cfg,
		Broker:           msgBroker,
		DataManager:      dataManager,
		Mapper:           cameraMapper,
		FrameCache:       frameCache,
		DetectionMonitor: detectionMonitor,
		CameraMonitor:    cameraMonitor,
		DB:               database.DB,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("HTTP server starting",
			zap.String("address", server.Addr),
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	router.Dispatch().Close()

	cameraMonitor.Stop()
	detectionMonitor.Stop()
	collector.Stop()
	dataManager.Shutdown()
	msgBroker.Shutdown()
	cancel()

	if err := database.Close(); err != nil {
		logger.Error("Failed to close database connection", zap.Error(err))
	} else {
		logger.Info("Database connection closed")
	}

	logger.Info("Server stopped")
}

// buildSensorSource selects the configured sample source.
func buildSensorSource(cfg config.SensorConfig) sensor.Source {
	if cfg.Mode == "serial" {
		return sensor.NewSerialSource(sensor.SerialConfig{
			Port:     cfg.Port,
			Baudrate: cfg.Baudrate,
		})
	}
	return sensor.NewMockSource(sensor.MockConfig{
		Pattern:  cfg.Pattern,
		Interval: cfg.Interval,
	})
}
