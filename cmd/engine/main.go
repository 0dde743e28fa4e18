package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/analysis"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/marketdata"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_ai/internal/usecase"
	"github.com/vitos/crypto_trade_ai/internal/web"
)

type Config struct {
	Analysis struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"analysis"`
	Market struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		KlineHistory int    `yaml:"kline_history"`
	} `yaml:"market"`
	Execution struct {
		Mode         string  `yaml:"mode"`
		PaperBalance float64 `yaml:"paper_balance"`
		OrderSize    float64 `yaml:"order_size"`
	} `yaml:"execution"`
	Scanner struct {
		PriceMoveThresholdPct float64 `yaml:"price_move_threshold_pct"`
	} `yaml:"scanner"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level       string `yaml:"level"`
		DecisionLog string `yaml:"decision_log"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Traders []struct {
		ID                 string   `yaml:"id"`
		UserID             string   `yaml:"user_id"`
		Name               string   `yaml:"name"`
		Symbols            []string `yaml:"symbols"`
		Timeframes         []string `yaml:"timeframes"`
		CheckInterval      string   `yaml:"check_interval"`
		ReanalysisInterval string   `yaml:"reanalysis_interval"`
	} `yaml:"traders"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config (.env overrides secrets, yaml holds the rest)
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if url := os.Getenv("ANALYSIS_URL"); url != "" {
		cfg.Analysis.URL = url
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// Seed the strategies declared in config. The reload endpoint picks up
	// anything added to the database later.
	ctx := context.Background()
	for _, t := range cfg.Traders {
		trader := &domain.Trader{
			ID:                 t.ID,
			UserID:             t.UserID,
			Name:               t.Name,
			Symbols:            t.Symbols,
			Timeframes:         t.Timeframes,
			CheckInterval:      t.CheckInterval,
			ReanalysisInterval: t.ReanalysisInterval,
			Status:             "active",
		}
		if err := store.UpsertTrader(ctx, trader); err != nil {
			log.Error("Failed to seed trader", zap.String("trader_id", t.ID), zap.Error(err))
		}
	}

	// 4. Init Market Data (Bybit public WS + REST klines)
	klines := marketdata.NewKlineStore(cfg.Market.KlineHistory)
	feed := marketdata.NewFeed(cfg.Market.RESTEndpoint, cfg.Market.WSEndpoint, klines, log)
	defer feed.Close()

	// 5. Init Event Bus and Analysis Client
	bus := events.New(log)
	analyzer := analysis.NewClient(cfg.Analysis.URL, time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second, log)

	// Decision audit log, one file per deployment
	decisionPath := cfg.Logging.DecisionLog
	if decisionPath == "" {
		decisionPath = "decisions.log"
	}
	decisionLog, err := logger.NewFileLogger(decisionPath, "info")
	if err != nil {
		log.Error("Failed to init decision logger, using default", zap.Error(err))
		decisionLog = log
	}
	bus.SubscribeAnalysisCompleted(func(signal *domain.Signal, decision *domain.Decision) error {
		decisionLog.Info("Decision",
			zap.String("signal_id", signal.ID),
			zap.String("trader_id", signal.TraderID),
			zap.String("symbol", signal.Symbol),
			zap.String("decision", decision.Decision),
			zap.Int("confidence", decision.Confidence),
			zap.String("reasoning", decision.Reasoning))
		return nil
	})

	// 6. Init Trade Executor. Order routing is out of scope for this build, so
	// every mode fills on paper; an OrderClient can be wired here later.
	if cfg.Execution.Mode == "real" {
		log.Warn("Real execution is not wired, falling back to paper fills")
		cfg.Execution.Mode = "paper"
	}
	executor := usecase.NewTradeExecutor(store, store, store, nil, feed, bus, log, usecase.ExecutorConfig{
		Mode:             cfg.Execution.Mode,
		PaperBalance:     cfg.Execution.PaperBalance,
		DefaultOrderSize: cfg.Execution.OrderSize,
	})

	// 7. Init Services
	checker := &usecase.PriceMoveChecker{ThresholdPct: cfg.Scanner.PriceMoveThresholdPct}
	scanner := usecase.NewScannerService(store, store, store, analyzer, checker, feed, executor, bus, log)
	reanalysis := usecase.NewReanalysisService(store, store, feed, scanner.Analyze, log)
	monitor := usecase.NewPositionMonitor(store, feed, executor, bus, log)
	engine := usecase.NewEngine(store, scanner, reanalysis, monitor, feed, feed, bus, log)

	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	// 8. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, engine, monitor, executor, store, store, feed, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	engine.Shutdown(shutdownCtx)
}
