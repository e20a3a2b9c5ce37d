// Package main is the entry point for the trading backend server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketwatch-trading/backend/internal/api"
	"github.com/marketwatch-trading/backend/internal/app"
	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	host := flag.String("host", "127.0.0.1", "Server host")
	port := flag.Int("port", 8080, "Server port")
	baseDir := flag.String("base-dir", ".", "Root for the data/ and logs/ trees")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	mode := flag.String("mode", "", "Trading mode: live, paper or simulation (overrides TRADING_MODE)")
	autoStart := flag.Bool("start", true, "Start the trading loop immediately")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	modeValue := *mode
	if modeValue == "" {
		modeValue = getEnvOrDefault("TRADING_MODE", "simulation")
	}
	u, err := universe.FromString(modeValue)
	if err != nil {
		logger.Fatal("Invalid trading mode", zap.String("mode", modeValue), zap.Error(err))
	}

	liveConfirmed := false
	if raw := os.Getenv("LIVE_TRADING_CONFIRMED"); raw != "" {
		confirmed, err := types.ParseBool(raw)
		if err != nil {
			logger.Fatal("Invalid LIVE_TRADING_CONFIRMED", zap.Error(err))
		}
		liveConfirmed = confirmed
	}
	if u == universe.Live && !liveConfirmed {
		logger.Fatal("Live trading requires LIVE_TRADING_CONFIRMED=true")
	}

	logger.Info("Starting trading backend",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("universe", u.String()),
		zap.String("baseDir", *baseDir),
	)

	factory := brokerFactory(*baseDir, logger)

	application, err := app.New(app.Config{
		Universe:      u,
		BaseDir:       *baseDir,
		BrokerFactory: factory,
		LiveConfirmed: liveConfirmed,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}

	serverConfig := api.ServerConfig{
		Host:         *host,
		Port:         *port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	server := api.NewServer(logger, serverConfig, application)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *autoStart {
		if err := application.Start(); err != nil {
			logger.Fatal("Failed to start coordinator", zap.Error(err))
		}
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)),
		zap.String("session_id", application.Coordinator().Context().SessionID()),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	application.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// brokerFactory builds the universe-appropriate broker: SimBroker for
// simulation, Alpaca for paper and live.
func brokerFactory(baseDir string, logger *zap.Logger) app.BrokerFactory {
	return func(ctx *universe.Context) (broker.Broker, error) {
		if ctx.Universe() == universe.Simulation {
			cfg := broker.DefaultSimConfig()
			cfg.BaseDir = baseDir
			if raw := os.Getenv("SIM_REPLAY_DATE"); raw != "" {
				cfg.ReplayEnabled = true
				cfg.ReplayDate = raw
			}
			return broker.NewSimBroker(cfg, nil, logger)
		}

		return broker.NewAlpacaBroker(broker.AlpacaConfig{
			Universe:  ctx.Universe(),
			BaseURL:   os.Getenv("ALPACA_BASE_URL"),
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			APISecret: os.Getenv("ALPACA_API_SECRET"),
		}, logger)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
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

	config := zap.Config{
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

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
