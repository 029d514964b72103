package arb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuoteProvider is the aggregator surface the Finder depends on. Satisfied
// by *JupiterClient; defined here so the worker loop can be exercised
// against a fake in tests without a live aggregator.
type QuoteProvider interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int, restrictIntermediate bool, strategy Strategy, dexes []string) (*QuoteResponse, error)
}

// FinderMetrics is the narrow counter surface the Finder reports through.
type FinderMetrics interface {
	RecordOpportunityFound()
	RecordQuoteError(pair string)
	RecordQuoteMiss(pair string)
}

// pair is one (input, bridge) asset combination the finder round-robins over.
type pair struct {
	Input  Asset
	Bridge Asset
}

// Finder maintains a pool of worker goroutines that repeatedly query the
// aggregator for round-trip quotes and emit Opportunity events whenever
// the net round-trip output clears the configured profit floor (§4.1).
type Finder struct {
	logger     *logger.Logger
	aggregator QuoteProvider
	cfg        config.FinderConfig
	strategy   Strategy
	metrics    FinderMetrics

	pairs    []pair
	nextPair uint64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewFinder builds a Finder over the cartesian product of configured input
// and bridge assets.
func NewFinder(cfg config.FinderConfig, aggregator QuoteProvider, metrics FinderMetrics, assets map[string]Asset, log *logger.Logger) (*Finder, error) {
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("finder: worker_count must be positive")
	}
	var pairs []pair
	for _, inSym := range cfg.InputAssets {
		in, ok := assets[inSym]
		if !ok {
			return nil, fmt.Errorf("finder: unknown input asset %q", inSym)
		}
		for _, brSym := range cfg.BridgeAssets {
			br, ok := assets[brSym]
			if !ok {
				return nil, fmt.Errorf("finder: unknown bridge asset %q", brSym)
			}
			if br.Equal(in) {
				continue
			}
			pairs = append(pairs, pair{Input: in, Bridge: br})
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("finder: empty input/bridge asset pair set")
	}

	return &Finder{
		logger:     log.Named("finder"),
		aggregator: aggregator,
		cfg:        cfg,
		strategy:   DefaultStrategies()[0],
		metrics:    metrics,
		pairs:      pairs,
	}, nil
}

// Start spins up the worker pool; each worker independently polls pairs
// round-robin, no shared lock path in the hot loop beyond the atomic pair
// index.
func (f *Finder) Start(callback func(Opportunity)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("finder: already running")
	}
	f.running = true
	f.stopChan = make(chan struct{})

	interval := time.Duration(f.cfg.QueryIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for i := 0; i < f.cfg.WorkerCount; i++ {
		f.wg.Add(1)
		go f.workerLoop(i, interval, callback)
	}
	f.logger.Info("opportunity finder started",
		zap.Int("workers", f.cfg.WorkerCount), zap.Int("pairs", len(f.pairs)))
	return nil
}

// Stop cooperatively shuts the worker pool down: in-flight quotes complete
// and workers exit at their next tick boundary.
func (f *Finder) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopChan)
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info("opportunity finder stopped")
}

func (f *Finder) workerLoop(workerID int, interval time.Duration, callback func(Opportunity)) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ticker.C:
			p := f.pairs[atomic.AddUint64(&f.nextPair, 1)%uint64(len(f.pairs))]
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			opp, err := f.queryPair(ctx, p)
			cancel()
			if err != nil {
				var aggErr *AggregatorError
				if asAggregatorError(err, &aggErr) && aggErr.NoRoute {
					f.metrics.RecordQuoteMiss(pairLabel(p))
				} else {
					f.metrics.RecordQuoteError(pairLabel(p))
				}
				continue
			}
			if opp == nil {
				continue
			}
			f.metrics.RecordOpportunityFound()
			callback(*opp)
		}
	}
}

func pairLabel(p pair) string {
	return fmt.Sprintf("%s->%s", p.Input.String(), p.Bridge.String())
}

func asAggregatorError(err error, target **AggregatorError) bool {
	ae, ok := err.(*AggregatorError)
	if ok {
		*target = ae
	}
	return ok
}

// queryPair issues the outbound and return quotes for one pair and, if the
// round trip clears the profit floor, returns the resulting Opportunity.
func (f *Finder) queryPair(ctx context.Context, p pair) (*Opportunity, error) {
	inputAmount := f.cfg.QuoteSizeLamports
	if inputAmount == 0 {
		inputAmount = 1_000_000_000
	}

	outboundStart := time.Now()
	outbound, err := f.aggregator.GetQuote(ctx, p.Input.Mint, p.Bridge.Mint, inputAmount, 50, true, f.strategy, nil)
	if err != nil {
		return nil, fmt.Errorf("outbound quote: %w", err)
	}
	outboundLatency := time.Since(outboundStart)
	bridgeAmount := outbound.OutAmountUint64()

	returnStart := time.Now()
	ret, err := f.aggregator.GetQuote(ctx, p.Bridge.Mint, p.Input.Mint, bridgeAmount, 50, true, f.strategy, nil)
	if err != nil {
		return nil, fmt.Errorf("return quote: %w", err)
	}
	returnLatency := time.Since(returnStart)
	outputAmount := ret.OutAmountUint64()

	profit := int64(outputAmount) - int64(inputAmount)
	if profit < int64(f.cfg.MinProfitLamports) {
		return nil, nil
	}

	now := time.Now()
	return &Opportunity{
		ID:           uuid.New(),
		InputAsset:   p.Input,
		BridgeAsset:  p.Bridge,
		OutputAsset:  p.Input,
		InputAmount:  inputAmount,
		BridgeAmount: bridgeAmount,
		OutputAmount: outputAmount,
		Profit:       profit,
		OutboundQuote: Quote{
			InputAsset:   p.Input,
			OutputAsset:  p.Bridge,
			InputAmount:  inputAmount,
			OutputAmount: bridgeAmount,
			RoutePlan:    outbound.RoutePlan(p.Input.Mint, p.Bridge.Mint),
			AcquiredAt:   outboundStart,
		},
		ReturnQuote: Quote{
			InputAsset:   p.Bridge,
			OutputAsset:  p.Input,
			InputAmount:  bridgeAmount,
			OutputAmount: outputAmount,
			RoutePlan:    ret.RoutePlan(p.Bridge.Mint, p.Input.Mint),
			AcquiredAt:   returnStart,
		},
		DiscoveredAt:      now,
		LatencyOutboundMs: outboundLatency.Milliseconds(),
		LatencyReturnMs:   returnLatency.Milliseconds(),
	}, nil
}
