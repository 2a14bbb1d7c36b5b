package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stratlab/internal/config"
	"stratlab/internal/gather"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

func main() {
	cfgPath := "config/stratlab.yaml"
	if p := os.Getenv("STRATLAB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Extra symbols on the command line extend the configured list.
	symbols := cfg.Gather.Symbols
	for _, arg := range os.Args[1:] {
		symbols = append(symbols, strings.ToUpper(arg))
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := gather.NewDailyBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		pstore,
		cfg.Storage.Market,
		symbols,
		cfg.Gather.BatchSize,
		cfg.Gather.MaxWorkers,
		cfg.Gather.RateLimitPerMin,
		cfg.Gather.StartDate,
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting gatherer", "name", gatherer.Name(), "symbols", len(symbols))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gatherer error: %v", err)
	}
}
