package arb

import (
	"context"
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ProtocolFeeProvider builds flash-loan templates against a lending program
// that charges a fee (in bps) on the borrowed amount. It mirrors the
// account layout of Solana lending-pool programs: a reserve account, a
// liquidity vault owned by a program-derived address, and the borrower's
// destination token account.
type ProtocolFeeProvider struct {
	programID       solana.PublicKey
	reserveAccounts map[solana.PublicKey]solana.PublicKey // asset mint -> reserve account
	liquidityVault  solana.PublicKey
	authorityPDA    solana.PublicKey
	feeBps          int
}

// NewProtocolFeeProvider constructs a fee-charging flash-loan provider for
// the given on-chain program. reserveAccounts maps each supported asset
// mint to its reserve account on that program.
func NewProtocolFeeProvider(programID solana.PublicKey, reserveAccounts map[solana.PublicKey]solana.PublicKey, liquidityVault, authorityPDA solana.PublicKey, feeBps int) *ProtocolFeeProvider {
	return &ProtocolFeeProvider{
		programID:       programID,
		reserveAccounts: reserveAccounts,
		liquidityVault:  liquidityVault,
		authorityPDA:    authorityPDA,
		feeBps:          feeBps,
	}
}

func (p *ProtocolFeeProvider) FeeBps() int { return p.feeBps }

// BuildTemplate derives the borrow/repay instruction templates for asset.
// Bytes [8, 16) of each data template are the amount placeholder the
// adapter patches on every cache hit; bytes [0, 8) carry an instruction
// discriminator specific to this program.
func (p *ProtocolFeeProvider) BuildTemplate(_ context.Context, asset Asset, signer solana.PublicKey) (*FlashLoanTemplate, error) {
	reserve, ok := p.reserveAccounts[asset.Mint]
	if !ok {
		return nil, fmt.Errorf("protocol fee provider: no reserve account configured for mint %s", asset.Mint)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(signer, asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("protocol fee provider: derive destination ATA: %w", err)
	}

	borrowData := make([]byte, 16)
	binary.LittleEndian.PutUint64(borrowData[0:8], flashLoanBorrowDiscriminator)

	repayData := make([]byte, 16)
	binary.LittleEndian.PutUint64(repayData[0:8], flashLoanRepayDiscriminator)

	accounts := []AccountRef{
		{PublicKey: reserve, IsWritable: true},
		{PublicKey: p.liquidityVault, IsWritable: true},
		{PublicKey: destinationATA, IsWritable: true},
		{PublicKey: p.authorityPDA, IsWritable: false},
		{PublicKey: signer, IsWritable: false, IsSigner: true},
		{PublicKey: solana.TokenProgramID, IsWritable: false},
	}

	return &FlashLoanTemplate{
		Asset:              asset,
		Signer:             signer,
		BorrowProgramID:    p.programID,
		BorrowAccounts:     cloneAccountRefs(accounts),
		BorrowDataTemplate: borrowData,
		RepayProgramID:     p.programID,
		RepayAccounts:      cloneAccountRefs(accounts),
		RepayDataTemplate:  repayData,
	}, nil
}

// ZeroFeeProvider builds flash-loan templates against a program that does
// not charge a borrow fee, at the cost of a tighter per-opportunity
// notional cap enforced upstream by configuration (min/max borrow). Its
// account layout is the fee-charging one without the authority PDA account.
type ZeroFeeProvider struct {
	programID       solana.PublicKey
	reserveAccounts map[solana.PublicKey]solana.PublicKey
	liquidityVault  solana.PublicKey
}

// NewZeroFeeProvider constructs a fee-free flash-loan provider.
func NewZeroFeeProvider(programID solana.PublicKey, reserveAccounts map[solana.PublicKey]solana.PublicKey, liquidityVault solana.PublicKey) *ZeroFeeProvider {
	return &ZeroFeeProvider{
		programID:       programID,
		reserveAccounts: reserveAccounts,
		liquidityVault:  liquidityVault,
	}
}

func (p *ZeroFeeProvider) FeeBps() int { return 0 }

func (p *ZeroFeeProvider) BuildTemplate(_ context.Context, asset Asset, signer solana.PublicKey) (*FlashLoanTemplate, error) {
	reserve, ok := p.reserveAccounts[asset.Mint]
	if !ok {
		return nil, fmt.Errorf("zero fee provider: no reserve account configured for mint %s", asset.Mint)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(signer, asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("zero fee provider: derive destination ATA: %w", err)
	}

	borrowData := make([]byte, 16)
	binary.LittleEndian.PutUint64(borrowData[0:8], flashLoanBorrowDiscriminator)

	repayData := make([]byte, 16)
	binary.LittleEndian.PutUint64(repayData[0:8], flashLoanRepayDiscriminator)

	accounts := []AccountRef{
		{PublicKey: reserve, IsWritable: true},
		{PublicKey: p.liquidityVault, IsWritable: true},
		{PublicKey: destinationATA, IsWritable: true},
		{PublicKey: signer, IsWritable: false, IsSigner: true},
		{PublicKey: solana.TokenProgramID, IsWritable: false},
	}

	return &FlashLoanTemplate{
		Asset:              asset,
		Signer:             signer,
		BorrowProgramID:    p.programID,
		BorrowAccounts:     cloneAccountRefs(accounts),
		BorrowDataTemplate: borrowData,
		RepayProgramID:     p.programID,
		RepayAccounts:      cloneAccountRefs(accounts),
		RepayDataTemplate:  repayData,
	}, nil
}

const (
	flashLoanBorrowDiscriminator uint64 = 0x0d6e6d6726b0fab4
	flashLoanRepayDiscriminator  uint64 = 0x9adf9e7b5af38d23
)
