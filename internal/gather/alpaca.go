package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratlab/internal/domain"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// barFetcher is the slice of the Alpaca market-data client the gatherer
// uses. The real client satisfies it; tests substitute a fake.
type barFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyBarGatherer fetches daily OHLCV bars for a configured symbol list
// via the Alpaca market-data API and writes them to the bar store.
type DailyBarGatherer struct {
	client     barFetcher
	store      store.BarStore
	market     string
	symbols    []string
	batchSize  int
	maxWorkers int
	startDate  string
	limiter    *util.RateLimiter
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer configured with the given
// Alpaca credentials, target store, and batch parameters.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL string, s store.BarStore, market string, symbols []string, batchSize, maxWorkers, rateLimitPerMin int, startDate string, log *slog.Logger) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &DailyBarGatherer{
		client:     marketdata.NewClient(opts),
		store:      s,
		market:     market,
		symbols:    symbols,
		batchSize:  max(batchSize, 1),
		maxWorkers: max(maxWorkers, 1),
		startDate:  startDate,
		limiter:    util.NewRateLimiter(max(rateLimitPerMin, 1)),
		retryDelay: time.Second,
		log:        log.With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Run fetches daily bars for all configured symbols and writes them to the
// store. Writes merge with existing data, so reruns are idempotent.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	// The SIP feed only serves completed days; stop at yesterday.
	end := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)

	var batches [][]string
	for i := 0; i < len(g.symbols); i += g.batchSize {
		batches = append(batches, g.symbols[i:min(i+g.batchSize, len(g.symbols))])
	}

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	g.log.Info("starting gather",
		"symbols", len(g.symbols),
		"batches", len(batches),
		"start", g.startDate,
		"end", end.Format("2006-01-02"),
	)

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}

				batch := batches[batchIdx]
				bars, err := g.fetchMultiBars(ctx, batch, start, end)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch fetch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}

				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, g.market, bars); err != nil {
						failed.Add(1)
						g.log.Error("writing bars failed", "err", err)
						continue
					}
				}
				totalBars.Add(int64(len(bars)))

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"bars", len(bars),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	g.log.Info("complete",
		"bars", totalBars.Load(),
		"failedBatches", failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d batches failed", n)
	}
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API
// call, with rate limiting and retry on transient errors.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, g.retryDelay, func() error {
		var ferr error
		multiBars, ferr = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      "sip",
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:    strings.ToUpper(symbol),
				Timestamp: ab.Timestamp,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
			})
		}
	}
	return bars, nil
}
