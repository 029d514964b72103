package arb

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

// toAccountMetas converts the venue-agnostic account refs into solana-go's
// instruction account shape.
func toAccountMetas(refs []AccountRef) []*solana.AccountMeta {
	metas := make([]*solana.AccountMeta, len(refs))
	for i, r := range refs {
		metas[i] = solana.NewAccountMeta(r.PublicKey, r.IsWritable, r.IsSigner)
	}
	return metas
}

// toInstructions converts compiled, provider-agnostic instructions into
// solana-go instructions ready for NewTransaction.
func toInstructions(instrs []CompiledInstruction) []solana.Instruction {
	out := make([]solana.Instruction, len(instrs))
	for i, ix := range instrs {
		out[i] = solana.NewInstruction(ix.ProgramID, toAccountMetas(ix.AccountRefs), ix.Data)
	}
	return out
}

// buildTransaction compiles a flat instruction list into a signed-ready
// transaction against the given blockhash, resolving any address lookup
// tables referenced so the message can use a V0 layout (§4.3).
func buildTransaction(instrs []CompiledInstruction, extra []solana.Instruction, blockhash solana.Hash, payer solana.PublicKey, altTables map[solana.PublicKey][]solana.PublicKey) (*solana.Transaction, error) {
	all := append(toInstructions(instrs), extra...)

	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(altTables) > 0 {
		tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(altTables))
		for addr, accounts := range altTables {
			tables[addr] = accounts
		}
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	return solana.NewTransaction(all, blockhash, opts...)
}

// resolveALTTables loads the full address list behind each lookup table
// address so buildTransaction can resolve indices against it.
func resolveALTTables(ctx context.Context, resolver ALTResolver, addrs []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	tables := make(map[solana.PublicKey][]solana.PublicKey, len(addrs))
	for _, addr := range addrs {
		table, err := resolver.Load(ctx, addr)
		if err != nil {
			return nil, err
		}
		tables[addr] = table.Addresses
	}
	return tables, nil
}
