package main

import (
	"flag"
	"log"
	"os"

	"ForecastMCP/internal/di"
	"ForecastMCP/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s token=%s timeframe=%s port=%d", cfg.Environment, cfg.App.Token, cfg.App.Timeframe, cfg.Server.Port)

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.ClickHouse.Enabled {
		log.Printf("clickhouse: connected and schema ready - db: %s", cfg.ClickHouse.Database)
	}
	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v events=%s requests=%s", cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.RequestsTopic)
	}

	// Run application (blocks until signal)
	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
