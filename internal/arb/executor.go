package arb

import (
	"context"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// BlockhashSource supplies the freshness-contract blockhash and
// signature-confirmation polling (§4.3, §4.8). Satisfied by *RPCClient.
type BlockhashSource interface {
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
	SignatureConfirmed(ctx context.Context, sig solana.Signature) (confirmed bool, failed bool, err error)
}

// BundleSender submits a single transaction or an atomic two-transaction
// bundle to the block engine. Satisfied by *BlockEngineClient.
type BundleSender interface {
	SendSingle(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SendBundle(ctx context.Context, tx1, tx2 *solana.Transaction) ([]solana.Signature, error)
}

// ALTResolver loads a lookup table's current address list by its address.
// Satisfied by *ALTManager.
type ALTResolver interface {
	Load(ctx context.Context, addr solana.PublicKey) (*AddressLookupTable, error)
}

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
)

// Executor submits an assembled transaction (or, when it doesn't fit
// under the size limit, a two-transaction bundle) to the block engine
// and tracks confirmation (§4.8).
type Executor struct {
	logger *logger.Logger

	signer    *Wallet
	blockhash BlockhashSource
	sender    BundleSender
	alt       ALTResolver
	bundler   *Builder
	tipCalc   *TipCalculator

	tipAccount       solana.PublicKey
	dryRun           bool
	simulateToBundle bool
	confirmTimeout   time.Duration
	pollInterval     time.Duration
}

// NewExecutor builds an Executor from the block-engine and execution
// safety-gate configuration (§4.8, §6).
func NewExecutor(signer *Wallet, blockhash BlockhashSource, sender BundleSender, alt ALTResolver, blockEngine config.BlockEngineConfig, exec config.ExecutionConfig, log *logger.Logger) (*Executor, error) {
	var tipAccount solana.PublicKey
	if blockEngine.TipAccount != "" {
		var err error
		tipAccount, err = solana.PublicKeyFromBase58(blockEngine.TipAccount)
		if err != nil {
			return nil, fmt.Errorf("parse block_engine.tip_account: %w", err)
		}
	}

	confirmTimeout := defaultConfirmTimeout
	if d, err := time.ParseDuration(blockEngine.ConfirmTimeout); err == nil && d > 0 {
		confirmTimeout = d
	}
	pollInterval := defaultPollInterval
	if d, err := time.ParseDuration(blockEngine.PollInterval); err == nil && d > 0 {
		pollInterval = d
	}

	return &Executor{
		logger:           log.Named("executor"),
		signer:           signer,
		blockhash:        blockhash,
		sender:           sender,
		alt:              alt,
		bundler:          NewBuilder(log),
		tipCalc:          NewTipCalculator(blockEngine.MinTipLamports, blockEngine.MaxTipLamports),
		tipAccount:       tipAccount,
		dryRun:           exec.DryRun,
		simulateToBundle: exec.SimulateToBundle,
		confirmTimeout:   confirmTimeout,
		pollInterval:     pollInterval,
	}, nil
}

// Execute submits the assembled transaction, dispatching to the
// single-transaction path or the two-transaction bundle fallback
// depending on whether it fits the size limit (§4.3, §4.5).
func (e *Executor) Execute(ctx context.Context, a *AssembledTransaction, expectedProfit int64, competition CompetitionLevel, urgency Urgency, historical HistoricalTipData) ExecutionOutcome {
	if e.dryRun {
		e.logger.Info("dry run: reporting synthetic success without submitting")
		return ExecutionOutcome{Success: true}
	}

	tip := e.tipCalc.Compute(expectedProfit, competition, urgency, historical)

	blockhash, err := e.blockhash.RecentBlockhash(ctx)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("fetch blockhash: %w", err)}
	}

	altTables, err := resolveALTTables(ctx, e.alt, a.LookupTableAddresses)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("resolve lookup tables: %w", err)}
	}

	if a.Estimate.FitsLimits() {
		return e.executeSingle(ctx, a, blockhash, altTables, tip)
	}
	return e.executeBundle(ctx, a, blockhash, altTables, tip)
}

func (e *Executor) tipInstruction(tip uint64) []solana.Instruction {
	if tip == 0 || e.tipAccount.IsZero() {
		return nil
	}
	ix := system.NewTransferInstruction(tip, e.signer.PublicKey(), e.tipAccount).Build()
	return []solana.Instruction{ix}
}

func (e *Executor) executeSingle(ctx context.Context, a *AssembledTransaction, blockhash solana.Hash, altTables map[solana.PublicKey][]solana.PublicKey, tip uint64) ExecutionOutcome {
	instrs := make([]CompiledInstruction, 0, 8)
	instrs = append(instrs, a.BorrowInstruction)
	instrs = append(instrs, a.ComputeBudget...)
	instrs = append(instrs, a.OutboundBundle.SetupInstructions...)
	instrs = append(instrs, a.OutboundBundle.MainInstructions...)
	instrs = append(instrs, a.ReturnBundle.MainInstructions...)
	instrs = append(instrs, a.ReturnBundle.CleanupInstructions...)
	instrs = append(instrs, a.RepayInstruction)

	tx, err := buildTransaction(instrs, e.tipInstruction(tip), blockhash, e.signer.PublicKey(), altTables)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("build single transaction: %w", err)}
	}
	if err := e.signer.Sign(tx); err != nil {
		return ExecutionOutcome{Err: err}
	}

	if e.simulateToBundle {
		e.logger.Info("simulate_to_bundle: transaction signed but not sent")
		return ExecutionOutcome{Success: true}
	}

	sig, err := e.sender.SendSingle(ctx, tx)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("send transaction: %w", err)}
	}
	return e.awaitConfirmation(ctx, []solana.Signature{sig})
}

func (e *Executor) executeBundle(ctx context.Context, a *AssembledTransaction, blockhash solana.Hash, altTables map[solana.PublicKey][]solana.PublicKey, tip uint64) ExecutionOutcome {
	bundle, err := e.bundler.Build(a)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("partition bundle: %w", err)}
	}

	tx1, err := buildTransaction(bundle.TX1.Instructions, nil, blockhash, e.signer.PublicKey(), altTables)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("build tx1: %w", err)}
	}
	tx2, err := buildTransaction(bundle.TX2.Instructions, e.tipInstruction(tip), blockhash, e.signer.PublicKey(), altTables)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("build tx2: %w", err)}
	}
	if err := e.signer.Sign(tx1); err != nil {
		return ExecutionOutcome{Err: err}
	}
	if err := e.signer.Sign(tx2); err != nil {
		return ExecutionOutcome{Err: err}
	}

	if e.simulateToBundle {
		e.logger.Info("simulate_to_bundle: bundle signed but not sent")
		return ExecutionOutcome{Success: true}
	}

	sigs, err := e.sender.SendBundle(ctx, tx1, tx2)
	if err != nil {
		return ExecutionOutcome{Err: fmt.Errorf("send bundle: %w", err)}
	}
	return e.awaitConfirmation(ctx, sigs)
}

// awaitConfirmation polls signature status at a fixed interval until every
// signature confirms, one fails, the confirm timeout elapses, or the
// context is cancelled.
func (e *Executor) awaitConfirmation(ctx context.Context, sigs []solana.Signature) ExecutionOutcome {
	deadline := time.After(e.confirmTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	pending := make(map[solana.Signature]struct{}, len(sigs))
	for _, s := range sigs {
		pending[s] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return ExecutionOutcome{Signatures: sigs, Err: ctx.Err()}
		case <-deadline:
			return ExecutionOutcome{Signatures: sigs, Err: fmt.Errorf("confirmation timed out after %s", e.confirmTimeout)}
		case <-ticker.C:
			for sig := range pending {
				confirmed, failed, err := e.blockhash.SignatureConfirmed(ctx, sig)
				if err != nil {
					continue
				}
				if failed {
					return ExecutionOutcome{Signatures: sigs, Err: fmt.Errorf("transaction %s failed on-chain", sig)}
				}
				if confirmed {
					delete(pending, sig)
				}
			}
			if len(pending) == 0 {
				return ExecutionOutcome{Success: true, Signatures: sigs}
			}
		}
	}
}
