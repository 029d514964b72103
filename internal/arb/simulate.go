package arb

import (
	"context"
	"fmt"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
)

// TransactionSimulator is the RPC surface the simulation gate depends on.
// Satisfied by *RPCClient.
type TransactionSimulator interface {
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (SimulationResult, error)
}

// Simulator replays a compiled transaction against the node's simulator
// before it is ever submitted for real (§4.4). The transaction object it
// is given is a local value: on success the caller builds a fresh
// transaction for submission, possibly against a newer blockhash.
type Simulator struct {
	logger *logger.Logger
	rpc    TransactionSimulator
}

// NewSimulator builds a Simulator over the given RPC surface.
func NewSimulator(rpc TransactionSimulator, log *logger.Logger) *Simulator {
	return &Simulator{logger: log.Named("simulator"), rpc: rpc}
}

// Simulate runs the transaction through the gate and additionally rechecks
// its serialized size against the hard limits, since signing can change a
// transaction's byte length versus the pre-sign estimate.
func (s *Simulator) Simulate(ctx context.Context, tx *solana.Transaction) (SimulationResult, error) {
	if err := s.recheckSize(tx); err != nil {
		return SimulationResult{Valid: false, Err: &SimulationError{Kind: SimOther, Message: err.Error()}}, nil
	}

	result, err := s.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulation gate: %w", err)
	}
	return result, nil
}

// recheckSize verifies the signed transaction's actual serialized size,
// not merely the pre-sign estimate, against the hard wire limits (§4.4).
func (s *Simulator) recheckSize(tx *solana.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal transaction for size recheck: %w", err)
	}
	if len(raw) > MaxRawTransactionBytes {
		return fmt.Errorf("signed transaction is %d bytes, exceeds raw limit %d", len(raw), MaxRawTransactionBytes)
	}
	base64Len := (len(raw) + 2) / 3 * 4
	if base64Len > MaxBase64TransactionBytes {
		return fmt.Errorf("signed transaction base64-encodes to %d bytes, exceeds limit %d", base64Len, MaxBase64TransactionBytes)
	}
	return nil
}
