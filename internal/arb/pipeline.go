package arb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// PipelineConfig bounds how many opportunities the pipeline drives
// concurrently and how it derives tip urgency.
type PipelineConfig struct {
	MaxInFlight        int
	ALTProvider        string
	ALTAuthority       solana.PublicKey
	DefaultCompetition CompetitionLevel
	StaleAfter         time.Duration
}

// Pipeline wires every stage together: Finder discovers, Validator sizes
// and fee-checks, Engine assembles, the managed ALT is grown when room
// allows, Simulator gates against a dry-run RPC replay, and Executor
// submits. Persistence and notification are best-effort side channels —
// neither failure aborts an in-flight opportunity.
type Pipeline struct {
	logger *logger.Logger

	finder    *Finder
	validator *Validator
	assembler *Engine
	simulator *Simulator
	executor  *Executor
	breaker   *CircuitBreaker
	alt       *ALTManager
	metrics   *Metrics
	store     *Store
	notifier  *Notifier

	signer *Wallet
	cfg    PipelineConfig

	sem chan struct{}
	wg  sync.WaitGroup

	mu          sync.Mutex
	lastWinTip  uint64
	stopOnce    sync.Once
	cancelFunc  context.CancelFunc
	snapshot    pipelineCounters
}

type pipelineCounters struct {
	found      uint64
	filtered   uint64
	attempted  uint64
	succeeded  uint64
	failed     uint64
	borrowed   uint64
	profit     uint64
	loss       uint64
}

// NewPipeline assembles a Pipeline from its already-constructed
// collaborators. store and notifier may be nil; both are optional.
func NewPipeline(
	finder *Finder,
	validator *Validator,
	assembler *Engine,
	simulator *Simulator,
	executor *Executor,
	breaker *CircuitBreaker,
	alt *ALTManager,
	metrics *Metrics,
	store *Store,
	notifier *Notifier,
	signer *Wallet,
	cfg PipelineConfig,
	log *logger.Logger,
) *Pipeline {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 400 * time.Millisecond
	}
	if cfg.DefaultCompetition == 0 {
		cfg.DefaultCompetition = CompetitionMedium
	}
	return &Pipeline{
		logger:    log.Named("pipeline"),
		finder:    finder,
		validator: validator,
		assembler: assembler,
		simulator: simulator,
		executor:  executor,
		breaker:   breaker,
		alt:       alt,
		metrics:   metrics,
		store:     store,
		notifier:  notifier,
		signer:    signer,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxInFlight),
	}
}

// Run starts the Finder and blocks until ctx is cancelled, then drains
// in-flight opportunities before returning (Supplemented Feature: graceful
// shutdown, §6).
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	if err := p.finder.Start(func(opp Opportunity) { p.dispatch(runCtx, opp) }); err != nil {
		cancel()
		return fmt.Errorf("pipeline: start finder: %w", err)
	}

	<-runCtx.Done()
	p.Stop()
	return nil
}

// Stop signals the finder and in-flight opportunities to wind down and
// waits for every in-flight task to finish its current stage.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if p.cancelFunc != nil {
			p.cancelFunc()
		}
		p.finder.Stop()
		p.wg.Wait()
	})
}

// dispatch bounds concurrency with a semaphore and hands the opportunity
// off to its own task; a full semaphore drops the opportunity rather than
// blocking the Finder's worker loop.
func (p *Pipeline) dispatch(ctx context.Context, opp Opportunity) {
	select {
	case p.sem <- struct{}{}:
	default:
		p.logger.Debug("pipeline saturated, dropping opportunity")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.process(ctx, opp)
	}()
}

// process runs one opportunity through every stage, recording metrics,
// persistence, and notification at each terminal point.
func (p *Pipeline) process(ctx context.Context, opp Opportunity) {
	atomic.AddUint64(&p.snapshot.found, 1)

	if !p.breaker.CanAttempt() {
		p.drop(ctx, opp, OutcomeCircuitBreakerHit, "circuit breaker open")
		return
	}

	if p.validator.IsAbnormalROI(opp) {
		p.drop(ctx, opp, OutcomeFiltered, "abnormal ROI, likely stale or mispriced quote")
		return
	}

	borrowAmount := p.validator.BorrowSize(opp)

	assembled, err := p.assembler.Assemble(ctx, opp, borrowAmount, p.signer.PublicKey())
	if err != nil {
		p.drop(ctx, opp, OutcomeFiltered, fmt.Sprintf("assembly: %v", err))
		return
	}

	validation := p.validator.Validate(borrowAmount, assembled.ReturnBundle.OutAmount)
	if !validation.Valid {
		p.drop(ctx, opp, OutcomeFiltered, validation.Reason)
		return
	}

	// I6: only grow the managed lookup table once the assembled
	// transaction's own size check has passed.
	if assembled.Estimate.FitsLimits() {
		p.growManagedALT(ctx, assembled)
	}

	if sim, ok := p.runSimulationGate(ctx, assembled); !ok {
		p.recordOutcome(ctx, opp, borrowAmount, validation, ExecutionOutcome{Err: sim.Err}, "simulation")
		return
	}

	p.metrics.RecordAttempt(borrowAmount)
	atomic.AddUint64(&p.snapshot.attempted, 1)
	atomic.AddUint64(&p.snapshot.borrowed, borrowAmount)

	urgency := UrgencyNormal
	if time.Since(opp.OutboundQuote.AcquiredAt) > p.cfg.StaleAfter {
		urgency = UrgencyElevated
	}
	historical := HistoricalTipData{RecentWinningTipLamports: p.currentWinningTip()}
	outcome := p.executor.Execute(ctx, assembled, validation.NetProfit, p.cfg.DefaultCompetition, urgency, historical)

	// lossMagnitude reports net profit on success; only a failure's cost
	// counts toward the breaker's hourly loss.
	var breakerLoss uint64
	if !outcome.Success {
		breakerLoss = lossMagnitude(outcome, validation)
	}
	p.breaker.Record(Outcome{Success: outcome.Success, LossLamports: breakerLoss})
	p.recordOutcome(ctx, opp, borrowAmount, validation, outcome, "execution")

	if outcome.Success {
		p.rememberWinningTip(p.executorLastTip())
	}
}

// runSimulationGate replays the full assembled instruction list (borrow,
// compute budget, both swap legs, repay) through the RPC simulator before committing to a real submission. The
// simulator accepts an unsigned transaction (sigVerify disabled), so this
// costs one extra RPC round-trip rather than a second signing pass.
func (p *Pipeline) runSimulationGate(ctx context.Context, a *AssembledTransaction) (SimulationResult, bool) {
	instrs := make([]CompiledInstruction, 0, 8)
	instrs = append(instrs, a.BorrowInstruction)
	instrs = append(instrs, a.ComputeBudget...)
	instrs = append(instrs, a.OutboundBundle.SetupInstructions...)
	instrs = append(instrs, a.OutboundBundle.MainInstructions...)
	instrs = append(instrs, a.ReturnBundle.MainInstructions...)
	instrs = append(instrs, a.ReturnBundle.CleanupInstructions...)
	instrs = append(instrs, a.RepayInstruction)

	tx, err := buildTransaction(instrs, nil, solana.Hash{}, p.signer.PublicKey(), nil)
	if err != nil {
		return SimulationResult{Err: fmt.Errorf("build simulation transaction: %w", err)}, false
	}

	result, err := p.simulator.Simulate(ctx, tx)
	if err != nil {
		return SimulationResult{Err: err}, false
	}
	return result, result.Valid
}

// growManagedALT extends this pipeline's managed lookup table with the
// accounts of the borrow, repay and both legs' main swap instructions, so
// future opportunities touching the same pools compile smaller. Setup and
// cleanup instruction accounts are not added.
func (p *Pipeline) growManagedALT(ctx context.Context, a *AssembledTransaction) {
	tableAddr, ok := p.alt.GetALT(p.cfg.ALTProvider)
	if !ok || tableAddr.IsZero() {
		return
	}
	table, err := p.alt.Load(ctx, tableAddr)
	if err != nil {
		p.logger.Debug("managed ALT load failed", zap.Error(err))
		return
	}

	refs := collectAccountRefs(a)
	if err := p.alt.EnsureContains(ctx, table, p.cfg.ALTAuthority, refs); err != nil {
		p.logger.Debug("managed ALT extend failed", zap.Error(err))
	}
}

func collectAccountRefs(a *AssembledTransaction) []AccountRef {
	seen := make(map[solana.PublicKey]struct{})
	var refs []AccountRef
	add := func(ix CompiledInstruction) {
		for _, r := range ix.AccountRefs {
			if _, ok := seen[r.PublicKey]; ok {
				continue
			}
			seen[r.PublicKey] = struct{}{}
			refs = append(refs, r)
		}
	}
	add(a.BorrowInstruction)
	add(a.RepayInstruction)
	for _, ix := range a.OutboundBundle.MainInstructions {
		add(ix)
	}
	for _, ix := range a.ReturnBundle.MainInstructions {
		add(ix)
	}
	return refs
}

func lossMagnitude(outcome ExecutionOutcome, validation ValidationResult) uint64 {
	if outcome.Success {
		if validation.NetProfit > 0 {
			return uint64(validation.NetProfit)
		}
		return 0
	}
	return validation.Fee
}

func (p *Pipeline) currentWinningTip() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastWinTip
}

func (p *Pipeline) rememberWinningTip(tip uint64) {
	if tip == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastWinTip = tip
}

// executorLastTip is a placeholder hook: the current Executor does not
// expose the tip it computed for the most recent submission. Returning 0
// leaves the historical floor unchanged rather than guessing.
func (p *Pipeline) executorLastTip() uint64 { return 0 }

// drop records a pre-execution rejection: metrics, persistence, and
// notification, all best-effort.
func (p *Pipeline) drop(ctx context.Context, opp Opportunity, outcome, reason string) {
	p.metrics.RecordFiltered(outcome)
	atomic.AddUint64(&p.snapshot.filtered, 1)

	p.persist(ctx, opp, 0, ExecutionOutcome{}, outcome, reason)
	p.notify(ctx, opp, outcome, 0, reason, nil)
}

// recordOutcome records a post-execution terminal state.
func (p *Pipeline) recordOutcome(ctx context.Context, opp Opportunity, borrowAmount uint64, validation ValidationResult, outcome ExecutionOutcome, stage string) {
	result := OutcomeExecutionFailed
	reason := ""
	if outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	if outcome.Success {
		result = OutcomeSucceeded
		atomic.AddUint64(&p.snapshot.succeeded, 1)
		atomic.AddUint64(&p.snapshot.profit, uint64(maxInt64(validation.NetProfit, 0)))
	} else {
		atomic.AddUint64(&p.snapshot.failed, 1)
		atomic.AddUint64(&p.snapshot.loss, validation.Fee)
	}
	p.metrics.RecordOutcome(Outcome{Success: outcome.Success, LossLamports: lossMagnitude(outcome, validation)}, stage)

	p.persist(ctx, opp, borrowAmount, outcome, result, reason)

	sig := ""
	if len(outcome.Signatures) > 0 {
		sig = outcome.Signatures[0].String()
	}
	p.notify(ctx, opp, result, validation.NetProfit, reason, &sig)
}

func (p *Pipeline) persist(ctx context.Context, opp Opportunity, borrowAmount uint64, outcome ExecutionOutcome, result, reason string) {
	if p.store == nil {
		return
	}
	sig := ""
	if len(outcome.Signatures) > 0 {
		sig = outcome.Signatures[0].String()
	}
	rec := ExecutionRecord{
		ID:                opp.ID,
		OpportunityID:     opp.ID,
		InputAsset:        opp.InputAsset.Symbol,
		BridgeAsset:       opp.BridgeAsset.Symbol,
		InputAmount:       borrowAmount,
		FirstLegProfit:    int64(opp.BridgeAmount) - int64(opp.InputAmount),
		SecondLegProfit:   opp.Profit,
		NetProfit:         opp.Profit,
		Routes:            reason,
		LatencyOutboundMs: opp.LatencyOutboundMs,
		LatencyReturnMs:   opp.LatencyReturnMs,
		Outcome:           result,
		Signature:         sig,
		CreatedAt:         opp.DiscoveredAt,
	}
	if err := p.store.SaveExecution(ctx, rec); err != nil {
		p.logger.Debug("persist execution record failed", zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, opp Opportunity, outcome string, netProfit int64, reason string, sig *string) {
	if p.notifier == nil {
		return
	}
	ev := NotifyEvent{
		OpportunityID: opp.ID.String(),
		Outcome:       outcome,
		NetProfit:     netProfit,
		InputAsset:    opp.InputAsset.Symbol,
		BridgeAsset:   opp.BridgeAsset.Symbol,
		Reason:        reason,
		At:            opp.DiscoveredAt,
	}
	if sig != nil {
		ev.Signature = *sig
	}
	p.notifier.Publish(ctx, ev)
}

// Snapshot returns a point-in-time copy of the pipeline's running counters
// for the periodic CLI stats printer (§6 Supplemented Feature).
func (p *Pipeline) Snapshot() PipelineMetricsSnapshot {
	return PipelineMetricsSnapshot{
		OpportunitiesFound:     atomic.LoadUint64(&p.snapshot.found),
		OpportunitiesFiltered:  atomic.LoadUint64(&p.snapshot.filtered),
		OpportunitiesAttempted: atomic.LoadUint64(&p.snapshot.attempted),
		Succeeded:              atomic.LoadUint64(&p.snapshot.succeeded),
		Failed:                 atomic.LoadUint64(&p.snapshot.failed),
		TotalBorrowedLamports:  atomic.LoadUint64(&p.snapshot.borrowed),
		TotalProfitLamports:    atomic.LoadUint64(&p.snapshot.profit),
		TotalLossLamports:      atomic.LoadUint64(&p.snapshot.loss),
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
