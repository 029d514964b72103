package arb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
)

// altProgramID is the on-chain Address Lookup Table program (§6).
var altProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

const (
	altInstructionCreate = uint32(0)
	altInstructionExtend = uint32(2)
)

// ALTWriter signs and submits the create/extend mutations the ALT manager
// issues, pairing a signing wallet with the shared RPC client. It is the
// concrete LookupTableWriter handed to NewALTManager at wiring time.
type ALTWriter struct {
	rpc    *RPCClient
	signer *Wallet
	logger *logger.Logger

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewALTWriter builds a LookupTableWriter over the shared RPC client and
// signing wallet.
func NewALTWriter(rpcClient *RPCClient, signer *Wallet, log *logger.Logger) *ALTWriter {
	return &ALTWriter{
		rpc:            rpcClient,
		signer:         signer,
		logger:         log.Named("alt-writer"),
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
	}
}

// CreateLookupTable derives a lookup table PDA from the authority and the
// current slot, submits the on-chain create instruction, and waits for
// confirmation before returning the new table's address.
func (w *ALTWriter) CreateLookupTable(ctx context.Context, authority solana.PublicKey) (solana.PublicKey, error) {
	slot, err := w.rpc.GetSlot(ctx)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("alt writer: get slot: %w", err)
	}

	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], slot)

	tableAddr, bump, err := solana.FindProgramAddress([][]byte{authority[:], slotBytes[:]}, altProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("alt writer: derive lookup table address: %w", err)
	}

	data := make([]byte, 0, 13)
	var discBytes [4]byte
	binary.LittleEndian.PutUint32(discBytes[:], altInstructionCreate)
	data = append(data, discBytes[:]...)
	data = append(data, slotBytes[:]...)
	data = append(data, bump)

	ix := CompiledInstruction{
		ProgramID: altProgramID,
		AccountRefs: []AccountRef{
			{PublicKey: tableAddr, IsSigner: false, IsWritable: true},
			{PublicKey: authority, IsSigner: true, IsWritable: false},
			{PublicKey: w.signer.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}

	if err := w.submitAndConfirm(ctx, ix); err != nil {
		return solana.PublicKey{}, fmt.Errorf("alt writer: create lookup table: %w", err)
	}
	w.logger.Info("created lookup table")
	return tableAddr, nil
}

// ExtendLookupTable appends up to altExtendBatchSize addresses to an
// existing table and waits for confirmation (§4.6).
func (w *ALTWriter) ExtendLookupTable(ctx context.Context, table, authority solana.PublicKey, addrs []solana.PublicKey) error {
	data := make([]byte, 0, 4+8+32*len(addrs))
	var discBytes [4]byte
	binary.LittleEndian.PutUint32(discBytes[:], altInstructionExtend)
	data = append(data, discBytes[:]...)
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(addrs)))
	data = append(data, lenBytes[:]...)
	for _, a := range addrs {
		data = append(data, a[:]...)
	}

	ix := CompiledInstruction{
		ProgramID: altProgramID,
		AccountRefs: []AccountRef{
			{PublicKey: table, IsSigner: false, IsWritable: true},
			{PublicKey: authority, IsSigner: true, IsWritable: false},
			{PublicKey: w.signer.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}

	if err := w.submitAndConfirm(ctx, ix); err != nil {
		return fmt.Errorf("alt writer: extend lookup table %s: %w", table, err)
	}
	return nil
}

// submitAndConfirm signs, sends, and polls a single-instruction
// transaction to confirmation. Mirrors Executor.awaitConfirmation's
// poll-until-confirmed-or-timeout shape.
func (w *ALTWriter) submitAndConfirm(ctx context.Context, ix CompiledInstruction) error {
	blockhash, err := w.rpc.RecentBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("fetch blockhash: %w", err)
	}
	tx, err := buildTransaction([]CompiledInstruction{ix}, nil, blockhash, w.signer.PublicKey(), nil)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	if err := w.signer.Sign(tx); err != nil {
		return err
	}
	sig, err := w.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	deadline := time.After(w.confirmTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("confirmation timed out after %s", w.confirmTimeout)
		case <-ticker.C:
			confirmed, failed, err := w.rpc.SignatureConfirmed(ctx, sig)
			if err != nil {
				continue
			}
			if failed {
				return fmt.Errorf("transaction %s failed on-chain", sig)
			}
			if confirmed {
				return nil
			}
		}
	}
}
