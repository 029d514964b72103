package arb

import (
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Asset is an immutable 32-byte mint identifier with a decimals attribute.
type Asset struct {
	Mint     solana.PublicKey
	Decimals uint8
	Symbol   string
}

func (a Asset) String() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Mint.String()
}

// Equal reports whether two assets refer to the same mint.
func (a Asset) Equal(other Asset) bool {
	return a.Mint.Equals(other.Mint)
}

// RouteStep describes one hop of a quoted route; used to constrain
// subsequent aggregator queries to the same venues.
type RouteStep struct {
	DexLabel   string
	PoolID     string
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64
}

// DistinctDexes returns the number of distinct DEX labels across the plan.
func DistinctDexes(plan []RouteStep) int {
	seen := make(map[string]struct{}, len(plan))
	for _, step := range plan {
		seen[step.DexLabel] = struct{}{}
	}
	return len(seen)
}

// Quote is an immutable round-trip price quote from the aggregator,
// stamped with its acquisition time.
type Quote struct {
	InputAsset   Asset
	OutputAsset  Asset
	InputAmount  uint64
	OutputAmount uint64
	RoutePlan    []RouteStep
	AcquiredAt   time.Time
}

// Opportunity is a discovered cyclic A->B->A price discrepancy. Created by
// the Finder, consumed once by the pipeline, discarded after the terminal
// decision. Invariant: OutputAsset == InputAsset.
type Opportunity struct {
	ID                uuid.UUID
	InputAsset        Asset
	BridgeAsset       Asset
	OutputAsset       Asset
	InputAmount       uint64
	BridgeAmount      uint64
	OutputAmount      uint64
	Profit            int64
	OutboundQuote     Quote
	ReturnQuote       Quote
	DiscoveredAt      time.Time
	LatencyOutboundMs int64
	LatencyReturnMs   int64
}

// ROI returns the query-time return on input, as a fraction (0.01 == 1%).
func (o Opportunity) ROI() float64 {
	if o.InputAmount == 0 {
		return 0
	}
	return float64(o.Profit) / float64(o.InputAmount)
}

// AccountRef is one account reference inside a compiled instruction.
type AccountRef struct {
	PublicKey  solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// CompiledInstruction is a venue- and program-agnostic instruction shape,
// bit-exact with what the aggregator/provider returned.
type CompiledInstruction struct {
	ProgramID   solana.PublicKey
	AccountRefs []AccountRef
	Data        []byte
}

// SwapInstructionBundle is the output of the assembly engine for one leg.
type SwapInstructionBundle struct {
	SetupInstructions         []CompiledInstruction
	MainInstructions          []CompiledInstruction
	CleanupInstructions       []CompiledInstruction
	ComputeBudgetInstructions []CompiledInstruction
	LookupTableAddresses      []solana.PublicKey
	OutAmount                 uint64
}

// AddressLookupTable is the decoded, in-memory view of an on-chain ALT.
// Mutated only by extend transactions issued by the ALT Manager; never
// mutated after DeactivationSlot is set.
type AddressLookupTable struct {
	Address          solana.PublicKey
	Authority        solana.PublicKey
	Addresses        []solana.PublicKey
	DeactivationSlot uint64
	CachedAt         time.Time
}

// MaxALTAddresses is the hard on-chain limit of a single lookup table.
const MaxALTAddresses = 256

// Contains reports whether pk is already present in the table.
func (t *AddressLookupTable) Contains(pk solana.PublicKey) bool {
	for _, a := range t.Addresses {
		if a.Equals(pk) {
			return true
		}
	}
	return false
}

// IsActive reports whether the table has not been deactivated.
func (t *AddressLookupTable) IsActive() bool {
	return t.DeactivationSlot == 0
}

// FlashLoanTemplate is the flash-loan adapter's cache entry for a given
// (asset, signer) pair. DataTemplate bytes [8,16) are reserved for a
// little-endian u64 amount; the remainder is fixed.
type FlashLoanTemplate struct {
	Asset              Asset
	Signer             solana.PublicKey
	BorrowProgramID    solana.PublicKey
	BorrowAccounts     []AccountRef
	BorrowDataTemplate []byte
	RepayProgramID     solana.PublicKey
	RepayAccounts      []AccountRef
	RepayDataTemplate  []byte
	BuiltAt            time.Time
}

// amountOffsetStart and amountOffsetEnd bound the little-endian u64 amount
// field reserved inside a flash-loan instruction data template (§3, §9).
const (
	amountOffsetStart = 8
	amountOffsetEnd   = 16
)

// Strategy constrains an aggregator query: how many accounts the resulting
// route may touch, and whether only single-hop (direct) routes are allowed.
type Strategy struct {
	Name             string
	MaxAccounts      int
	OnlyDirectRoutes bool
}

// DefaultStrategies is the canonical ordered set from most-liberal
// (largest tx, most profit potential) to most-constrained (smallest tx).
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "liberal", MaxAccounts: 20, OnlyDirectRoutes: false},
		{Name: "moderate", MaxAccounts: 18, OnlyDirectRoutes: false},
		{Name: "constrained", MaxAccounts: 16, OnlyDirectRoutes: true},
	}
}

// PricingContext carries the fee-decomposition inputs for a single
// validation pass.
type PricingContext struct {
	BaseFee              uint64
	PriorityFee          uint64
	TipPercent           float64
	SlippageBufferBps    int
	EnableNetProfitCheck bool
}

// FeeBreakdown records every intermediate term of the fee-decomposition
// model (§4.2) so the net profit figure is always auditable.
type FeeBreakdown struct {
	GrossProfit    int64
	FixedCost      int64
	NetAfterFixed  int64
	Tip            int64
	SlippageBuffer int64
	NetProfit      int64
}

// ValidationResult is the Validator's verdict on one opportunity.
type ValidationResult struct {
	Valid     bool
	Fee       uint64
	NetProfit int64
	Breakdown FeeBreakdown
	Reason    string
}

// SimulationResult is the outcome of replaying a signed transaction
// against the RPC simulator.
type SimulationResult struct {
	Valid                bool
	Logs                 []string
	ComputeUnitsConsumed uint64
	Err                  error
}

// ExecutionOutcome is the result of submitting a transaction or bundle to
// the block-engine.
type ExecutionOutcome struct {
	Success    bool
	Signatures []solana.Signature
	Err        error
}

// ExecutionRecord is the schemaless opportunity/validation row persisted
// for observability (§6). Not named by spec.md's data model directly, but
// required by its "persisted state" external interface.
type ExecutionRecord struct {
	ID                uuid.UUID
	OpportunityID     uuid.UUID
	InputAsset        string
	BridgeAsset       string
	InputAmount       uint64
	FirstLegProfit    int64
	SecondLegProfit   int64
	NetProfit         int64
	Routes            string
	LatencyOutboundMs int64
	LatencyReturnMs   int64
	Outcome           string
	Signature         string
	CreatedAt         time.Time
}

// Execution outcomes recorded by the pipeline, matching the error
// taxonomy's drop reasons (§7).
const (
	OutcomeFiltered          = "filtered"
	OutcomeSimulationFailed  = "simulation_failed"
	OutcomeExecutionFailed   = "execution_failed"
	OutcomeSucceeded         = "succeeded"
	OutcomeCircuitBreakerHit = "circuit_breaker_open"
)

// PipelineMetricsSnapshot is a point-in-time read of the counters named by
// spec.md §7's user-visible statistics.
type PipelineMetricsSnapshot struct {
	OpportunitiesFound     uint64
	OpportunitiesFiltered  uint64
	OpportunitiesAttempted uint64
	Succeeded              uint64
	Failed                 uint64
	TotalBorrowedLamports  uint64
	TotalProfitLamports    uint64
	TotalLossLamports      uint64
}
