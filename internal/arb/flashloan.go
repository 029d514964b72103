package arb

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const flashLoanTemplateTTL = 5 * time.Minute

// FlashLoanProviderAPI builds the account set and data template for one
// provider's borrow/repay pair; the slow path on a cache miss (§4.7).
type FlashLoanProviderAPI interface {
	BuildTemplate(ctx context.Context, asset Asset, signer solana.PublicKey) (*FlashLoanTemplate, error)
	FeeBps() int
}

type flashLoanCacheKey struct {
	asset  solana.PublicKey
	signer solana.PublicKey
}

// FlashLoanAdapter produces borrow/repay instructions for a chosen amount,
// caching the fixed parts of the instruction template per (asset, signer)
// so repeat opportunities skip the provider's slow account-derivation path.
type FlashLoanAdapter struct {
	logger   *logger.Logger
	provider FlashLoanProviderAPI
	ttl      time.Duration

	mu    sync.Mutex
	cache map[flashLoanCacheKey]*FlashLoanTemplate
}

// NewFlashLoanAdapter builds an adapter over the given provider.
func NewFlashLoanAdapter(provider FlashLoanProviderAPI, cfg config.FlashLoanConfig, log *logger.Logger) *FlashLoanAdapter {
	ttl := flashLoanTemplateTTL
	if d, err := time.ParseDuration(cfg.TemplateTTL); err == nil && d > 0 {
		ttl = d
	}
	return &FlashLoanAdapter{
		logger:   log.Named("flashloan"),
		provider: provider,
		ttl:      ttl,
		cache:    make(map[flashLoanCacheKey]*FlashLoanTemplate),
	}
}

// FeeBps reports the active provider's borrow fee, used by the
// route-complexity filter to loosen its dex-count bound for zero-fee
// providers.
func (a *FlashLoanAdapter) FeeBps() int {
	return a.provider.FeeBps()
}

// Preheat builds a placeholder-amount template for each configured common
// asset so the first real lookup for it is a cache hit.
func (a *FlashLoanAdapter) Preheat(ctx context.Context, assets []Asset, signer solana.PublicKey) {
	for _, asset := range assets {
		if _, err := a.template(ctx, asset, signer); err != nil {
			a.logger.Warn("flash loan preheat failed", zap.String("asset", asset.Symbol), zap.Error(err))
		}
	}
}

// FlushOnVersionChange discards every cached template; called when an
// external version-bump signal is observed for the active provider.
func (a *FlashLoanAdapter) FlushOnVersionChange() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[flashLoanCacheKey]*FlashLoanTemplate)
	a.logger.Info("flash loan template cache flushed on provider version change")
}

// BuildInstructions satisfies FlashLoanSource: clone the cached template
// and patch the borrow amount into bytes [8, 16) of each data template,
// or fall through to the provider's slow path on a cache miss.
func (a *FlashLoanAdapter) BuildInstructions(ctx context.Context, asset Asset, signer solana.PublicKey, amount uint64) (CompiledInstruction, CompiledInstruction, error) {
	tmpl, err := a.template(ctx, asset, signer)
	if err != nil {
		return CompiledInstruction{}, CompiledInstruction{}, err
	}

	borrowData := patchAmount(tmpl.BorrowDataTemplate, amount)
	repayData := patchAmount(tmpl.RepayDataTemplate, amount)

	borrow := CompiledInstruction{
		ProgramID:   tmpl.BorrowProgramID,
		AccountRefs: cloneAccountRefs(tmpl.BorrowAccounts),
		Data:        borrowData,
	}
	repay := CompiledInstruction{
		ProgramID:   tmpl.RepayProgramID,
		AccountRefs: cloneAccountRefs(tmpl.RepayAccounts),
		Data:        repayData,
	}
	return borrow, repay, nil
}

func (a *FlashLoanAdapter) template(ctx context.Context, asset Asset, signer solana.PublicKey) (*FlashLoanTemplate, error) {
	key := flashLoanCacheKey{asset: asset.Mint, signer: signer}

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok && time.Since(cached.BuiltAt) < a.ttl {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	tmpl, err := a.provider.BuildTemplate(ctx, asset, signer)
	if err != nil {
		return nil, fmt.Errorf("build flash loan template: %w", err)
	}
	tmpl.Signer = signer
	tmpl.Asset = asset
	tmpl.BuiltAt = time.Now()

	a.mu.Lock()
	a.cache[key] = tmpl
	a.mu.Unlock()
	return tmpl, nil
}

// patchAmount clones a data template and overwrites bytes [8, 16) with the
// little-endian u64 amount, leaving the rest of the instruction data
// (discriminator, flags) untouched.
func patchAmount(template []byte, amount uint64) []byte {
	data := append([]byte(nil), template...)
	if len(data) < amountOffsetEnd {
		return data
	}
	binary.LittleEndian.PutUint64(data[amountOffsetStart:amountOffsetEnd], amount)
	return data
}

func cloneAccountRefs(refs []AccountRef) []AccountRef {
	return append([]AccountRef(nil), refs...)
}
