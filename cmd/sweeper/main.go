// One-shot reflection sweeper for cron-style scheduling: consumes
// chain-linked edges and attempts one reflection per owner, then exits.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/config"
	"github.com/smriti/thoughtgraph/internal/engine"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall sweep deadline")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	bolt, err := store.OpenBolt(cfg.DataPath, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer bolt.Close()

	client, err := oracle.NewClient(cfg.AIServicesURL, cfg.OracleTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create oracle client", zap.Error(err))
	}

	eng := engine.New(bolt, engine.Providers{
		Embedder:   client,
		Classifier: client,
		Narrator:   client,
	}, nil, nil, engine.DefaultConfig(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := eng.Sweep(ctx)
	if err != nil {
		logger.Fatal("Sweep failed", zap.Error(err))
	}
	logger.Info("Sweep finished",
		zap.Int("owners_swept", result.OwnersSwept),
		zap.Int("reflections_created", result.ReflectionsCreated),
		zap.Int("edges_consumed", result.EdgesConsumed))
}
