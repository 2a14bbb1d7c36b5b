// stratlab-backtest runs a single backtest from the command line against
// the local bar store and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"stratlab/internal/config"
	"stratlab/internal/domain"
	"stratlab/internal/engine"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

func main() {
	var (
		strategyPath = flag.String("strategy", "", "path to strategy JSON file")
		symbol       = flag.String("symbol", "", "symbol to backtest")
		startStr     = flag.String("start", "", "start date (YYYY-MM-DD)")
		endStr       = flag.String("end", "", "end date (YYYY-MM-DD), defaults to today")
		capital      = flag.Float64("capital", 100000, "initial capital")
	)
	flag.Parse()

	if *strategyPath == "" || *symbol == "" || *startStr == "" {
		flag.Usage()
		os.Exit(2)
	}

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

	data, err := os.ReadFile(*strategyPath)
	if err != nil {
		log.Fatalf("reading strategy: %v", err)
	}
	var strat domain.Strategy
	if err := json.Unmarshal(data, &strat); err != nil {
		log.Fatalf("parsing strategy: %v", err)
	}

	compiled, err := engine.Compile(&strat)
	if err != nil {
		log.Fatalf("invalid strategy: %v", err)
	}

	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid start date: %v", err)
	}
	end := time.Now().UTC()
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("invalid end date: %v", err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	bars, err := store.NewParquetStore(cfg.Storage.DataDir).
		ReadBars(context.Background(), *symbol, cfg.Storage.Market, start, end)
	if err != nil {
		log.Fatalf("reading bars: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("no bars for %s in [%s, %s]", *symbol, *startStr, end.Format("2006-01-02"))
	}

	sim := engine.NewSimulation(compiled, *capital)
	result, err := sim.Run(bars)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encoding result: %v", err)
	}
}
