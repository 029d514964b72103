package arb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	computeBudgetDiscriminatorLimit = 2
	computeBudgetDiscriminatorPrice = 3
)

// SwapInstructionSource is the aggregator surface the assembly engine
// drives: a quote for a given strategy, then the compiled instructions
// for that quote.
type SwapInstructionSource interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int, restrictIntermediate bool, strategy Strategy, dexes []string) (*QuoteResponse, error)
	GetSwapInstructions(ctx context.Context, quote *QuoteResponse, userPublicKey solana.PublicKey) (*SwapInstructionBundle, error)
}

// FlashLoanSource produces a borrow/repay instruction pair for a chosen
// amount and reports the active provider's fee, which loosens the
// route-complexity filter when zero.
type FlashLoanSource interface {
	BuildInstructions(ctx context.Context, asset Asset, signer solana.PublicKey, amount uint64) (borrow, repay CompiledInstruction, err error)
	FeeBps() int
}

// AssemblyConfig bounds route complexity per the active flash-loan
// provider's fee tier.
type AssemblyConfig struct {
	MaxDexesZeroFee int
	MaxDexesPaidFee int
	MaxAccounts     int
}

// AssembledTransaction is the chosen strategy pairing plus its fully
// compiled instructions, ready for single-tx or two-tx bundle compilation.
type AssembledTransaction struct {
	StrategyName         string
	OutboundBundle       SwapInstructionBundle
	ReturnBundle         SwapInstructionBundle
	BorrowInstruction    CompiledInstruction
	RepayInstruction     CompiledInstruction
	ComputeBudget        []CompiledInstruction
	LookupTableAddresses []solana.PublicKey
	EstimatedProfit      int64
	Estimate             SizeEstimate
}

// Engine is the Assembly Engine (§4.3). Given an opportunity and a chosen
// borrow amount, it selects the highest-profit fitting strategy pairing: the top
// strategy is tried alone first, and the rest are only queried if that
// attempt is unusable.
type Engine struct {
	logger     *logger.Logger
	aggregator SwapInstructionSource
	flashLoan  FlashLoanSource
	strategies []Strategy
	cfg        AssemblyConfig
	quoteCache *QuoteCache
}

// NewEngine builds an assembly Engine over the canonical strategy list.
// quoteCache may be nil, in which case every leg is quoted live (the cache
// is an accelerator, never a correctness dependency — see QuoteCache).
func NewEngine(aggregator SwapInstructionSource, flashLoan FlashLoanSource, cfg AssemblyConfig, quoteCache *QuoteCache, log *logger.Logger) *Engine {
	return &Engine{
		logger:     log.Named("assembly"),
		aggregator: aggregator,
		flashLoan:  flashLoan,
		strategies: DefaultStrategies(),
		cfg:        cfg,
		quoteCache: quoteCache,
	}
}

type strategyAttempt struct {
	strategy       Strategy
	outboundBundle SwapInstructionBundle
	returnBundle   SwapInstructionBundle
	estimate       SizeEstimate
	profit         int64
	fits           bool
}

// Assemble runs the two-phase strategy selection described in §4.3.
func (e *Engine) Assemble(ctx context.Context, opp Opportunity, borrowAmount uint64, signer solana.PublicKey) (*AssembledTransaction, error) {
	if len(e.strategies) == 0 {
		return nil, fmt.Errorf("assembly: no strategies configured")
	}

	var borrowInstr, repayInstr CompiledInstruction
	var attempts = make(map[string]*strategyAttempt)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, r, err := e.flashLoan.BuildInstructions(ctx, opp.InputAsset, signer, borrowAmount)
		if err != nil {
			return fmt.Errorf("flash loan instructions: %w", err)
		}
		borrowInstr, repayInstr = b, r
		return nil
	})
	g.Go(func() error {
		a, err := e.tryStrategy(gctx, opp, borrowAmount, signer, e.strategies[0])
		if err != nil {
			e.logger.Debug("primary strategy unusable", zap.Error(err))
			return nil
		}
		attempts[e.strategies[0].Name] = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if primary, ok := attempts[e.strategies[0].Name]; ok && primary.fits && primary.profit > 0 {
		return e.finalize(primary, borrowInstr, repayInstr)
	}

	// Phase 2: the primary strategy was unusable (or didn't fit); fan out
	// over the remaining strategies.
	remaining := e.strategies[1:]
	g2, gctx2 := errgroup.WithContext(ctx)
	results := make([]*strategyAttempt, len(remaining))
	for i, strat := range remaining {
		i, strat := i, strat
		g2.Go(func() error {
			a, err := e.tryStrategy(gctx2, opp, borrowAmount, signer, strat)
			if err != nil {
				e.logger.Debug("strategy attempt failed", zap.String("strategy", strat.Name), zap.Error(err))
				return nil
			}
			results[i] = a
			return nil
		})
	}
	_ = g2.Wait()

	all := results
	if primary, ok := attempts[e.strategies[0].Name]; ok {
		all = append([]*strategyAttempt{primary}, all...)
	}

	best := pickBestAttempt(all)
	if best == nil {
		return nil, fmt.Errorf("assembly: no strategy produced a usable route")
	}
	return e.finalize(best, borrowInstr, repayInstr)
}

// pickBestAttempt selects, among attempts that fit the hard size limit,
// the highest-profit one (ties broken by smallest size). If none fit, it
// falls back to the highest-profit attempt regardless of size, leaving
// bundle-mode fallback to the caller.
func pickBestAttempt(attempts []*strategyAttempt) *strategyAttempt {
	var bestFit, bestAny *strategyAttempt
	for _, a := range attempts {
		if a == nil {
			continue
		}
		if bestAny == nil || a.profit > bestAny.profit {
			bestAny = a
		}
		if !a.fits {
			continue
		}
		if bestFit == nil || a.profit > bestFit.profit ||
			(a.profit == bestFit.profit && a.estimate.RawBytes < bestFit.estimate.RawBytes) {
			bestFit = a
		}
	}
	if bestFit != nil {
		return bestFit
	}
	return bestAny
}

func (e *Engine) finalize(a *strategyAttempt, borrowInstr, repayInstr CompiledInstruction) (*AssembledTransaction, error) {
	merged := mergeComputeBudget(append(append([]CompiledInstruction{}, a.outboundBundle.ComputeBudgetInstructions...), a.returnBundle.ComputeBudgetInstructions...))
	alts := dedupeALTs(a.outboundBundle.LookupTableAddresses, a.returnBundle.LookupTableAddresses)

	return &AssembledTransaction{
		StrategyName:         a.strategy.Name,
		OutboundBundle:       a.outboundBundle,
		ReturnBundle:         a.returnBundle,
		BorrowInstruction:    borrowInstr,
		RepayInstruction:     repayInstr,
		ComputeBudget:        merged,
		LookupTableAddresses: alts,
		EstimatedProfit:      a.profit,
		Estimate:             a.estimate,
	}, nil
}

// tryStrategy quotes and compiles both legs for one strategy, running them
// concurrently since the return leg's amount is projected from the
// opportunity's observed ratio rather than chained off the outbound reply.
func (e *Engine) tryStrategy(ctx context.Context, opp Opportunity, borrowAmount uint64, signer solana.PublicKey, strat Strategy) (*strategyAttempt, error) {
	projectedBridgeAmount := scaleAmount(opp.BridgeAmount, opp.InputAmount, borrowAmount)

	maxDexes := e.cfg.MaxDexesPaidFee
	if e.flashLoan.FeeBps() == 0 {
		maxDexes = e.cfg.MaxDexesZeroFee
	}

	var outboundBundle, returnBundle SwapInstructionBundle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := e.quoteAndCompileLeg(gctx, opp.InputAsset.Mint, opp.BridgeAsset.Mint, borrowAmount, strat, signer, maxDexes)
		if err != nil {
			return fmt.Errorf("outbound leg: %w", err)
		}
		outboundBundle = *b
		return nil
	})
	g.Go(func() error {
		b, err := e.quoteAndCompileLeg(gctx, opp.BridgeAsset.Mint, opp.InputAsset.Mint, projectedBridgeAmount, strat, signer, maxDexes)
		if err != nil {
			return fmt.Errorf("return leg: %w", err)
		}
		returnBundle = *b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	alts := dedupeALTs(outboundBundle.LookupTableAddresses, returnBundle.LookupTableAddresses)
	estimate := EstimateTransactionSize(SwapInstructionBundle{
		SetupInstructions:   append(append([]CompiledInstruction{}, outboundBundle.SetupInstructions...), returnBundle.SetupInstructions...),
		MainInstructions:    append(append([]CompiledInstruction{}, outboundBundle.MainInstructions...), returnBundle.MainInstructions...),
		CleanupInstructions: append(append([]CompiledInstruction{}, outboundBundle.CleanupInstructions...), returnBundle.CleanupInstructions...),
	}, len(alts))

	profit := int64(returnBundle.OutAmount) - int64(borrowAmount)

	return &strategyAttempt{
		strategy:       strat,
		outboundBundle: outboundBundle,
		returnBundle:   returnBundle,
		estimate:       estimate,
		profit:         profit,
		fits:           estimate.FitsLimits(),
	}, nil
}

func (e *Engine) quoteAndCompileLeg(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, strat Strategy, signer solana.PublicKey, maxDexes int) (*SwapInstructionBundle, error) {
	quote := e.cachedQuote(ctx, inputMint, outputMint, amount, strat)
	if quote == nil {
		var err error
		quote, err = e.aggregator.GetQuote(ctx, inputMint, outputMint, amount, 50, strat.OnlyDirectRoutes, strat, nil)
		if err != nil {
			return nil, err
		}
		if e.quoteCache != nil {
			e.quoteCache.Put(ctx, inputMint, outputMint, amount, strat.Name, quote)
		}
	}
	plan := quote.RoutePlan(inputMint, outputMint)
	if DistinctDexes(plan) > maxDexes {
		return nil, fmt.Errorf("route complexity: %d distinct dexes exceeds limit %d", DistinctDexes(plan), maxDexes)
	}
	if len(plan) > e.cfg.MaxAccounts {
		return nil, fmt.Errorf("route complexity: %d hops exceeds account limit %d", len(plan), e.cfg.MaxAccounts)
	}
	return e.aggregator.GetSwapInstructions(ctx, quote, signer)
}

// cachedQuote consults the quote cache, if one is wired, returning nil on
// any miss so the caller falls through to a live aggregator call.
func (e *Engine) cachedQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, strat Strategy) *QuoteResponse {
	if e.quoteCache == nil {
		return nil
	}
	quote, ok := e.quoteCache.Get(ctx, inputMint, outputMint, amount, strat.Name)
	if !ok {
		return nil
	}
	return quote
}

// scaleAmount projects an amount observed at fromBase onto a new base,
// preserving the ratio; used to estimate the return leg's input when the
// actual borrow size differs from the finder's original query size.
func scaleAmount(observed, fromBase, toBase uint64) uint64 {
	if fromBase == 0 {
		return observed
	}
	return uint64(float64(observed) * float64(toBase) / float64(fromBase))
}

// mergeComputeBudget collapses both legs' compute-budget instructions into
// at most two: the highest compute-unit limit and the highest compute-unit
// price observed, keyed by the Solana compute-budget program's
// discriminator byte.
func mergeComputeBudget(instructions []CompiledInstruction) []CompiledInstruction {
	var maxLimit uint32
	var maxPrice uint64
	haveLimit, havePrice := false, false

	for _, ix := range instructions {
		if len(ix.Data) < 1 {
			continue
		}
		switch ix.Data[0] {
		case computeBudgetDiscriminatorLimit:
			if len(ix.Data) >= 5 {
				v := binary.LittleEndian.Uint32(ix.Data[1:5])
				if !haveLimit || v > maxLimit {
					maxLimit = v
					haveLimit = true
				}
			}
		case computeBudgetDiscriminatorPrice:
			if len(ix.Data) >= 9 {
				v := binary.LittleEndian.Uint64(ix.Data[1:9])
				if !havePrice || v > maxPrice {
					maxPrice = v
					havePrice = true
				}
			}
		}
	}

	var merged []CompiledInstruction
	if haveLimit {
		data := make([]byte, 5)
		data[0] = computeBudgetDiscriminatorLimit
		binary.LittleEndian.PutUint32(data[1:5], maxLimit)
		merged = append(merged, CompiledInstruction{ProgramID: computeBudgetProgramID, Data: data})
	}
	if havePrice {
		data := make([]byte, 9)
		data[0] = computeBudgetDiscriminatorPrice
		binary.LittleEndian.PutUint64(data[1:9], maxPrice)
		merged = append(merged, CompiledInstruction{ProgramID: computeBudgetProgramID, Data: data})
	}
	return merged
}

// dedupeALTs merges lookup-table address lists from both legs, preserving
// first-seen order.
func dedupeALTs(lists ...[]solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, list := range lists {
		for _, pk := range list {
			if seen[pk] {
				continue
			}
			seen[pk] = true
			out = append(out, pk)
		}
	}
	return out
}
