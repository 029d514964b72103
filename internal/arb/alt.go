package arb

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const (
	altCacheTTL           = 5 * time.Minute
	altExtendBatchSize    = 20
	altMetaHeaderNoAuth   = 24
	altMetaHeaderWithAuth = 56
)

// AccountInfoFetcher is the narrow RPC surface the ALT manager needs: a
// batch account-info fetch keyed by address.
type AccountInfoFetcher interface {
	GetMultipleAccountsData(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey][]byte, error)
}

// LookupTableWriter issues the on-chain mutations (create/extend) the ALT
// manager's lifecycle requires; implemented against the wallet + RPC
// client pairing at wiring time.
type LookupTableWriter interface {
	CreateLookupTable(ctx context.Context, authority solana.PublicKey) (solana.PublicKey, error)
	ExtendLookupTable(ctx context.Context, table, authority solana.PublicKey, addrs []solana.PublicKey) error
}

// ALTManager maintains one lookup table per flash-loan provider, decoding
// and caching its contents and batch-extending it on demand (§4.6).
type ALTManager struct {
	logger  *logger.Logger
	fetcher AccountInfoFetcher
	writer  LookupTableWriter
	dryRun  bool

	mu      sync.Mutex
	tables  map[string]solana.PublicKey // provider -> ALT address
	entries map[solana.PublicKey]*AddressLookupTable
}

// NewALTManager builds an ALT manager. dryRun short-circuits every
// mutating path (create/extend never actually submit).
func NewALTManager(fetcher AccountInfoFetcher, writer LookupTableWriter, dryRun bool, log *logger.Logger) *ALTManager {
	return &ALTManager{
		logger:  log.Named("alt"),
		fetcher: fetcher,
		writer:  writer,
		dryRun:  dryRun,
		tables:  make(map[string]solana.PublicKey),
		entries: make(map[solana.PublicKey]*AddressLookupTable),
	}
}

// Initialize registers the given provider's ALT address. If none is known
// yet and dry_run is false, a new one is created; in dry_run the provider
// is registered with a zero address and all mutations are skipped.
func (m *ALTManager) Initialize(ctx context.Context, provider string, authority solana.PublicKey, existing solana.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !existing.IsZero() {
		m.tables[provider] = existing
		return nil
	}
	if m.dryRun {
		m.tables[provider] = solana.PublicKey{}
		return nil
	}

	addr, err := m.writer.CreateLookupTable(ctx, authority)
	if err != nil {
		return fmt.Errorf("create lookup table for %s: %w", provider, err)
	}
	m.tables[provider] = addr
	m.logger.Info("created lookup table", zap.String("provider", provider), zap.String("address", addr.String()))
	return nil
}

// GetALT returns the lookup table address registered for a provider.
func (m *ALTManager) GetALT(provider string) (solana.PublicKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.tables[provider]
	return addr, ok
}

// Preload best-effort batch-fetches a list of well-known ALT addresses so
// later lookups are cache hits.
func (m *ALTManager) Preload(ctx context.Context, addrs []solana.PublicKey) {
	if len(addrs) == 0 {
		return
	}
	data, err := m.fetcher.GetMultipleAccountsData(ctx, addrs)
	if err != nil {
		m.logger.Warn("alt preload failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, raw := range data {
		table, err := decodeAddressLookupTable(addr, raw)
		if err != nil {
			m.logger.Warn("alt decode failed", zap.String("address", addr.String()), zap.Error(err))
			continue
		}
		m.entries[addr] = table
	}
}

// Load returns the decoded contents of a lookup table, using the cache if
// still fresh and fetching otherwise.
func (m *ALTManager) Load(ctx context.Context, addr solana.PublicKey) (*AddressLookupTable, error) {
	m.mu.Lock()
	if cached, ok := m.entries[addr]; ok && time.Since(cached.CachedAt) < altCacheTTL {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	data, err := m.fetcher.GetMultipleAccountsData(ctx, []solana.PublicKey{addr})
	if err != nil {
		return nil, fmt.Errorf("fetch lookup table %s: %w", addr, err)
	}
	raw, ok := data[addr]
	if !ok {
		return nil, fmt.Errorf("lookup table %s not found", addr)
	}
	table, err := decodeAddressLookupTable(addr, raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[addr] = table
	m.mu.Unlock()
	return table, nil
}

// EnsureContains extends the given table with any referenced addresses it
// is missing, in batches of at most 20, each confirmed before the next.
// MUST only be called after the caller's size check has already passed
// (§4.6 safety note): extend fees should never be paid for a rejected
// opportunity.
func (m *ALTManager) EnsureContains(ctx context.Context, table *AddressLookupTable, authority solana.PublicKey, refs []AccountRef) error {
	if m.dryRun {
		return nil
	}

	var missing []solana.PublicKey
	seen := make(map[solana.PublicKey]bool)
	for _, r := range refs {
		if table.Contains(r.PublicKey) || seen[r.PublicKey] {
			continue
		}
		seen[r.PublicKey] = true
		missing = append(missing, r.PublicKey)
	}
	if len(missing) == 0 {
		return nil
	}
	if len(table.Addresses)+len(missing) > MaxALTAddresses {
		return fmt.Errorf("alt: extending by %d would exceed the %d-address limit", len(missing), MaxALTAddresses)
	}

	for start := 0; start < len(missing); start += altExtendBatchSize {
		end := start + altExtendBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		if err := m.writer.ExtendLookupTable(ctx, table.Address, authority, batch); err != nil {
			return fmt.Errorf("extend lookup table %s: %w", table.Address, err)
		}
		table.Addresses = append(table.Addresses, batch...)
	}
	table.CachedAt = time.Now()
	return nil
}

// decodeAddressLookupTable decodes the on-chain ALT account layout:
// u32 discriminant, u64 deactivation_slot, u64 last_extended_slot,
// u8 last_extended_slot_start_index, Option<Pubkey> authority,
// u16 padding, then addresses packed 32 bytes each.
func decodeAddressLookupTable(addr solana.PublicKey, data []byte) (*AddressLookupTable, error) {
	if len(data) < altMetaHeaderNoAuth {
		return nil, fmt.Errorf("lookup table account too short: %d bytes", len(data))
	}
	deactivationSlot := binary.LittleEndian.Uint64(data[4:12])

	headerSize := altMetaHeaderNoAuth
	var authority solana.PublicKey
	if data[21] == 1 {
		headerSize = altMetaHeaderWithAuth
		if len(data) < headerSize {
			return nil, fmt.Errorf("lookup table account too short for authority: %d bytes", len(data))
		}
		copy(authority[:], data[22:54])
	}

	body := data[headerSize:]
	count := len(body) / 32
	addresses := make([]solana.PublicKey, 0, count)
	for i := 0; i < count; i++ {
		var pk solana.PublicKey
		copy(pk[:], body[i*32:(i+1)*32])
		addresses = append(addresses, pk)
	}

	return &AddressLookupTable{
		Address:          addr,
		Authority:        authority,
		Addresses:        addresses,
		DeactivationSlot: deactivationSlot,
		CachedAt:         time.Now(),
	}, nil
}
