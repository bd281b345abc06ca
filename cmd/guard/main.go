package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/infrastructure/gateway"
	"github.com/vitos/trade_risk_guard/internal/infrastructure/logger"
	"github.com/vitos/trade_risk_guard/internal/infrastructure/storage"
	"github.com/vitos/trade_risk_guard/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"gateway"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Engine struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"engine"`
	Contracts []domain.ContractSpec `yaml:"contracts"`
	Rules     []domain.RuleConfig   `yaml:"rules"`
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
	// Credentials may come from the environment instead of the yaml.
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = "UTC"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "guard.db"
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	gw := gateway.NewWSGateway(cfg.Gateway.APIKey, cfg.Gateway.APISecret,
		cfg.Gateway.RESTEndpoint, cfg.Gateway.WSEndpoint, log)

	engine, err := usecase.NewRiskEngine(gw, store, store, store, store,
		cfg.Rules, cfg.Contracts, cfg.Engine.Timezone, log)
	if err != nil {
		log.Fatal("Failed to build risk engine", zap.Error(err))
	}

	// Persisted state is rebuilt before the first event is routed.
	if err := engine.Start(context.Background()); err != nil {
		log.Fatal("Failed to start risk engine", zap.Error(err))
	}

	gw.OnEvent(engine.Process)
	if err := gw.Connect(); err != nil {
		log.Fatal("Failed to connect event stream", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	gw.Close()
	engine.Stop()
}
