package arb

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
)

// BalanceReader is the RPC surface CheckMinimumBalance depends on.
// Satisfied by *RPCClient.
type BalanceReader interface {
	Balance(ctx context.Context, addr solana.PublicKey) (uint64, error)
}

// Wallet is the executor's signing keypair (§6, §8 Signer).
type Wallet struct {
	secret solana.PrivateKey
	public solana.PublicKey
}

// PublicKey returns the wallet's address.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.public
}

// Sign signs every message the transaction requires that matches this
// wallet's public key, leaving other required signers untouched.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.public) {
			return &w.secret
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// LoadWallet resolves the signing keypair per §6's precedence: an
// environment variable holding a base58 secret, if set and non-empty,
// wins over the config-declared keypair file path.
func LoadWallet(cfg config.WalletConfig) (*Wallet, error) {
	if cfg.SecretEnvVar != "" {
		if secret := strings.TrimSpace(os.Getenv(cfg.SecretEnvVar)); secret != "" {
			key, err := solana.PrivateKeyFromBase58(secret)
			if err != nil {
				return nil, fmt.Errorf("decode wallet secret from %s: %w", cfg.SecretEnvVar, err)
			}
			return &Wallet{secret: key, public: key.PublicKey()}, nil
		}
	}

	if cfg.KeypairPath == "" {
		return nil, fmt.Errorf("no wallet source configured: set %s or wallet.keypair_path", cfg.SecretEnvVar)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load wallet keypair from %s: %w", cfg.KeypairPath, err)
	}
	return &Wallet{secret: key, public: key.PublicKey()}, nil
}

// CheckMinimumBalance fails startup if the wallet can't cover the
// configured minimum (§7's "no wallet balance when required" fatal
// condition).
func CheckMinimumBalance(ctx context.Context, reader BalanceReader, wallet *Wallet, cfg config.WalletConfig, log *logger.Logger) error {
	if cfg.MinBalanceSOL <= 0 {
		return nil
	}
	lamports, err := reader.Balance(ctx, wallet.PublicKey())
	if err != nil {
		return fmt.Errorf("check wallet balance: %w", err)
	}
	minLamports := uint64(cfg.MinBalanceSOL * 1e9)
	if lamports < minLamports {
		return fmt.Errorf("wallet %s balance %d lamports below required minimum %d lamports", wallet.PublicKey(), lamports, minLamports)
	}
	log.Named("wallet").Info("balance check passed")
	return nil
}
