// Package main is the trading core's process entrypoint: it wires the
// gateway client, market cache, regime/confluence/risk/sizing layers,
// execution, position store and manager, the seven strategy engines, the
// scheduler, the coordinator, and the internal HTTP/WebSocket surface,
// then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/internal/api"
	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/coordinator"
	"github.com/atlas-desktop/trading-core/internal/data"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/gateway"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/scheduler"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/config"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML/TOML/JSON); env vars always apply")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting trading core",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := gorm.Open(mysql.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to acquire sql.DB handle", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	gw := gateway.New(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		AccessKey:         cfg.Gateway.AccessKey,
		SecretKey:         cfg.Gateway.SecretKey,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
	}, logger)

	marketCache := data.NewMarketCache(logger, gw)
	regimeDetector := regime.New(logger, regime.DefaultConfig())
	confluenceAnalyzer := confluence.New(logger)

	positions, err := position.New(db, logger)
	if err != nil {
		logger.Fatal("failed to initialize position store", zap.Error(err))
	}
	manager := position.NewManager(types.DefaultPositionManagementConfig(), logger)

	throttle := risk.New(logger, types.DefaultRiskThrottleConfig(), positions, redisClient)
	breaker := risk.NewCircuitBreaker(logger)
	sizer := sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig())

	recorder, err := telemetry.New(db, logger)
	if err != nil {
		logger.Fatal("failed to initialize telemetry recorder", zap.Error(err))
	}

	orderStore, err := execution.NewGormOrderStore(db)
	if err != nil {
		logger.Fatal("failed to initialize order store", zap.Error(err))
	}
	executor := execution.New(gw, orderStore, recorder, execution.DefaultPolicy(), logger)

	bus := events.New(logger, events.DefaultConfig())

	deps := strategy.Deps{
		Logger:     logger,
		MarketData: marketCache,
		Regime:     regimeDetector,
		Confluence: confluenceAnalyzer,
		Throttle:   throttle,
		Breaker:    breaker,
		Sizer:      sizer,
		Executor:   executor,
		Positions:  positions,
		Manager:    manager,
		Bus:        bus,
	}

	engines := []interface {
		scheduler.CadenceSource
		Scan(ctx context.Context) error
		Monitor(ctx context.Context) error
		Profile() strategy.Profile
	}{
		strategy.NewDCAEngine(deps),
		strategy.NewMeanReversionEngine(deps),
		strategy.NewBreakoutEngine(deps),
		strategy.NewVolumeSurgeEngine(deps),
		strategy.NewMemeScalperEngine(deps),
		strategy.NewVolatilitySurvivalEngine(deps),
		strategy.NewGuidedEngine(deps),
	}

	sched := scheduler.New(logger, scheduler.DefaultPoolConfig("trading-core"))
	for _, engine := range engines {
		code := engine.Profile().StrategyCode
		if err := scheduler.RegisterEngine(sched, code, engine); err != nil {
			logger.Fatal("failed to register strategy engine", zap.String("strategyCode", code), zap.Error(err))
		}
	}

	coord := coordinator.New(logger, gw, orderStore, positions, sched)
	if err := coord.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile failed, continuing with scheduler start", zap.Error(err))
	}

	server := api.NewServer(logger, types.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WebSocketPath: "/ws",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}, api.Deps{
		Positions:   positions,
		Orders:      orderStore,
		Coordinator: coord,
		Throttle:    throttle,
		Breaker:     breaker,
		Executor:    executor,
		MarketData:  marketCache,
		Bus:         bus,
	})

	sched.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if err := sched.Stop(); err != nil {
		logger.Error("error stopping scheduler", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("trading core stopped")
}

func setupLogger(level string) *zap.Logger {
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

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
