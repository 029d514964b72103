package arb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const defaultBlockhashCacheTTL = 30 * time.Second

// RPCClient wraps a Solana JSON-RPC client with the caching and
// suspension-point contracts §5 describes: the blockhash is cached for
// at most 30s and re-fetched on miss, every other call is a direct
// pass-through that suspends the caller.
type RPCClient struct {
	client *rpc.Client
	logger *logger.Logger

	blockhashTTL time.Duration
	mu           sync.Mutex
	cachedHash   solana.Hash
	cachedAt     time.Time
}

// NewRPCClient wraps an existing *rpc.Client. The caller owns its
// lifecycle (e.g. a shared client across multiple components).
func NewRPCClient(client *rpc.Client, cfg config.SolanaNetworkConfig, log *logger.Logger) *RPCClient {
	ttl := defaultBlockhashCacheTTL
	if d, err := time.ParseDuration(cfg.BlockhashCacheTTL); err == nil && d > 0 {
		ttl = d
	}
	return &RPCClient{
		client:       client,
		logger:       log.Named("rpc"),
		blockhashTTL: ttl,
	}
}

// RecentBlockhash returns a cached blockhash if it is still within its TTL,
// otherwise fetches and caches a fresh one.
func (c *RPCClient) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	c.mu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.blockhashTTL {
		hash := c.cachedHash
		c.mu.Unlock()
		return hash, nil
	}
	c.mu.Unlock()

	resp, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	c.mu.Lock()
	c.cachedHash = resp.Value.Blockhash
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return resp.Value.Blockhash, nil
}

// BlockhashAge reports how long ago the cached blockhash was fetched; used
// to enforce the "not submitted too close to expiry" freshness contract.
func (c *RPCClient) BlockhashAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedAt.IsZero() {
		return c.blockhashTTL
	}
	return time.Since(c.cachedAt)
}

// SimulateTransaction replays tx with processed commitment, disabled
// signature verification, and blockhash replacement enabled (§4.4).
func (c *RPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (SimulationResult, error) {
	commitment := rpc.CommitmentProcessed
	resp, err := c.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		Commitment:             commitment,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulate transaction: %w", err)
	}

	var unitsConsumed uint64
	if resp.Value.UnitsConsumed != nil {
		unitsConsumed = *resp.Value.UnitsConsumed
	}

	if resp.Value.Err != nil {
		simErr := classifySimulationError(resp.Value.Err, resp.Value.Logs)
		return SimulationResult{
			Valid:                false,
			Logs:                 resp.Value.Logs,
			ComputeUnitsConsumed: unitsConsumed,
			Err:                  simErr,
		}, nil
	}

	return SimulationResult{
		Valid:                true,
		Logs:                 resp.Value.Logs,
		ComputeUnitsConsumed: unitsConsumed,
	}, nil
}

// SendTransaction submits an already-signed transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// SignatureConfirmed polls getSignatureStatuses once and reports whether
// the signature landed with no error.
func (c *RPCClient) SignatureConfirmed(ctx context.Context, sig solana.Signature) (confirmed bool, failed bool, err error) {
	resp, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, false, fmt.Errorf("get signature status: %w", err)
	}
	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return false, false, nil
	}
	status := resp.Value[0]
	if status.Err != nil {
		return false, true, nil
	}
	confirmed = status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return confirmed, false, nil
}

// Balance returns an account's lamport balance, used by the wallet's
// pre-flight minimum-balance check (§7).
func (c *RPCClient) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	resp, err := c.client.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return resp.Value, nil
}

// GetMultipleAccounts batch-fetches account info, used by the ALT manager
// to preload well-known lookup tables in one round trip.
func (c *RPCClient) GetMultipleAccounts(ctx context.Context, addrs []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	resp, err := c.client.GetMultipleAccountsWithOpts(ctx, addrs, &rpc.GetMultipleAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("get multiple accounts: %w", err)
	}
	return resp, nil
}

// GetMultipleAccountsData batch-fetches decoded account data keyed by
// address, used by the ALT manager to load and preload lookup tables.
// Addresses with no account data (closed or never created) are omitted.
func (c *RPCClient) GetMultipleAccountsData(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey][]byte, error) {
	resp, err := c.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, err
	}
	out := make(map[solana.PublicKey][]byte, len(addrs))
	for i, acct := range resp.Value {
		if acct == nil || acct.Data == nil {
			continue
		}
		out[addrs[i]] = acct.Data.GetBinary()
	}
	return out, nil
}

// GetSlot returns the current slot, used to derive a lookup table's PDA
// from its authority and a recent slot (§4.6).
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	slot, err := c.client.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// classifySimulationError turns the RPC-reported transaction error into a
// tagged SimulationError variant (§4.4).
func classifySimulationError(rpcErr interface{}, logs []string) *SimulationError {
	asMap, ok := rpcErr.(map[string]interface{})
	if !ok {
		return &SimulationError{Kind: SimOther, Message: fmt.Sprintf("%v", rpcErr)}
	}

	if ixErr, ok := asMap["InstructionError"]; ok {
		return classifyInstructionError(ixErr, logs)
	}
	return &SimulationError{Kind: SimOther, Message: fmt.Sprintf("%v", rpcErr)}
}

func classifyInstructionError(ixErr interface{}, logs []string) *SimulationError {
	pair, ok := ixErr.([]interface{})
	if !ok || len(pair) != 2 {
		return &SimulationError{Kind: SimOther, Message: fmt.Sprintf("%v", ixErr)}
	}
	index, _ := pair[0].(float64)

	switch reason := pair[1].(type) {
	case string:
		switch reason {
		case "InsufficientFunds":
			return &SimulationError{Kind: SimInsufficientFunds, Index: int(index), Reason: reason}
		case "InsufficientFundsForRent":
			return &SimulationError{Kind: SimInsufficientFundsForRent, Index: int(index), Reason: reason}
		default:
			return &SimulationError{Kind: SimInstructionError, Index: int(index), Reason: reason}
		}
	case map[string]interface{}:
		if code, ok := reason["Custom"]; ok {
			if f, ok := code.(float64); ok {
				return &SimulationError{Kind: SimCustomProgramError, Index: int(index), CustomCode: uint32(f)}
			}
		}
		return &SimulationError{Kind: SimInstructionError, Index: int(index), Reason: fmt.Sprintf("%v", reason)}
	default:
		return &SimulationError{Kind: SimInstructionError, Index: int(index), Reason: fmt.Sprintf("%v", reason)}
	}
}
