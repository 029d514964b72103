// Command arb-executor runs the cyclic arbitrage pipeline end to end:
// Finder discovers opportunities, Validator and Assembly Engine price and
// build them, the Simulation Gate replays them against the RPC node, and
// the Executor submits whatever clears every gate.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashroute/solarb/internal/arb"
	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Logging)
	defer log.Sync()

	wallet, err := arb.LoadWallet(cfg.Wallet)
	if err != nil {
		log.Fatal("load wallet", zap.Error(err))
	}
	log.Info("wallet loaded", zap.String("public_key", wallet.PublicKey().String()))

	solClient := solanarpc.New(cfg.Solana.RPCURL)
	rpcClient := arb.NewRPCClient(solClient, cfg.Solana, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := arb.CheckMinimumBalance(ctx, rpcClient, wallet, cfg.Wallet, log); err != nil {
		cancel()
		log.Fatal("startup balance check failed", zap.Error(err))
	}
	cancel()

	assets, err := buildAssetTable(cfg.Assets)
	if err != nil {
		log.Fatal("build asset table", zap.Error(err))
	}

	aggregator := arb.NewJupiterClient(cfg.Aggregator, log)

	flashLoanProvider, err := buildFlashLoanProvider(cfg.FlashLoan, assets)
	if err != nil {
		log.Fatal("build flash-loan provider", zap.Error(err))
	}
	flashLoanAdapter := arb.NewFlashLoanAdapter(flashLoanProvider, cfg.FlashLoan, log)

	preheatCtx, preheatCancel := context.WithTimeout(context.Background(), 15*time.Second)
	flashLoanAdapter.Preheat(preheatCtx, preheatAssets(cfg.FlashLoan.PreheatAssets, assets), wallet.PublicKey())
	preheatCancel()

	metrics := arb.NewMetrics()

	finder, err := arb.NewFinder(cfg.Finder, aggregator, metrics, assets, log)
	if err != nil {
		log.Fatal("build finder", zap.Error(err))
	}

	validator := arb.NewValidator(cfg.Economics, cfg.FlashLoan, log)

	var quoteCache *arb.QuoteCache
	if cfg.Redis.Enabled {
		quoteCache, err = arb.NewQuoteCacheFromConfig(&cfg.Redis, 0, log)
		if err != nil {
			log.Warn("quote cache disabled: connect redis failed", zap.Error(err))
			quoteCache = nil
		}
	}

	engine := arb.NewEngine(aggregator, flashLoanAdapter, arb.AssemblyConfig{
		MaxDexesZeroFee: cfg.Bundle.MaxDexesZeroFee,
		MaxDexesPaidFee: cfg.Bundle.MaxDexes,
		MaxAccounts:     cfg.Bundle.MaxAccounts,
	}, quoteCache, log)

	simulator := arb.NewSimulator(rpcClient, log)

	altWriter := arb.NewALTWriter(rpcClient, wallet, log)
	altManager := arb.NewALTManager(rpcClient, altWriter, cfg.Execution.DryRun, log)

	var existingALT solana.PublicKey
	if cfg.ALT.ExistingAddress != "" {
		existingALT, err = solana.PublicKeyFromBase58(cfg.ALT.ExistingAddress)
		if err != nil {
			log.Fatal("parse alt.existing_address", zap.Error(err))
		}
	}
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := altManager.Initialize(initCtx, cfg.FlashLoan.Provider, wallet.PublicKey(), existingALT); err != nil {
		initCancel()
		log.Fatal("initialize managed ALT", zap.Error(err))
	}
	initCancel()

	if len(cfg.ALT.WellKnownAddresses) > 0 {
		wellKnown := make([]solana.PublicKey, 0, len(cfg.ALT.WellKnownAddresses))
		for _, addr := range cfg.ALT.WellKnownAddresses {
			pk, err := solana.PublicKeyFromBase58(addr)
			if err != nil {
				log.Warn("skipping malformed well-known ALT address", zap.String("address", addr), zap.Error(err))
				continue
			}
			wellKnown = append(wellKnown, pk)
		}
		preloadCtx, preloadCancel := context.WithTimeout(context.Background(), 15*time.Second)
		altManager.Preload(preloadCtx, wellKnown)
		preloadCancel()
	}

	blockEngine := arb.NewBlockEngineClient(cfg.BlockEngine, log)
	executor, err := arb.NewExecutor(wallet, rpcClient, blockEngine, altManager, cfg.BlockEngine, cfg.Execution, log)
	if err != nil {
		log.Fatal("build executor", zap.Error(err))
	}

	breaker := arb.NewCircuitBreaker(cfg.CircuitBreaker, log)

	store, err := arb.NewStore(cfg.Database, log)
	if err != nil {
		log.Fatal("connect persistence store", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureSchema(schemaCtx); err != nil {
			log.Warn("ensure persistence schema failed", zap.Error(err))
		}
		schemaCancel()
	}

	notifier := arb.NewNotifier(cfg.Notification.Kafka, log)
	defer notifier.Close()

	pipeline := arb.NewPipeline(finder, validator, engine, simulator, executor, breaker, altManager, metrics, store, notifier, wallet, arb.PipelineConfig{
		ALTProvider:  cfg.FlashLoan.Provider,
		ALTAuthority: wallet.PublicKey(),
	}, log)

	runCtx, runCancel := context.WithCancel(context.Background())
	go runStatsReporter(runCtx, pipeline, log)
	go serveMonitoring(cfg, log)

	pipelineErr := make(chan error, 1)
	go func() { pipelineErr <- pipeline.Run(runCtx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received, draining in-flight opportunities")
	case err := <-pipelineErr:
		if err != nil {
			log.Error("pipeline exited", zap.Error(err))
		}
	}
	runCancel()
	pipeline.Stop()
	log.Info("arb-executor stopped")
}

// buildAssetTable resolves the declarative assets section into the
// mint/decimals table the Finder and flash-loan providers key off of by
// symbol (§6 Configuration surface).
func buildAssetTable(cfg map[string]config.AssetConfig) (map[string]arb.Asset, error) {
	assets := make(map[string]arb.Asset, len(cfg))
	for symbol, a := range cfg {
		mint, err := solana.PublicKeyFromBase58(a.Mint)
		if err != nil {
			return nil, fmt.Errorf("asset %s: parse mint: %w", symbol, err)
		}
		assets[symbol] = arb.Asset{Mint: mint, Decimals: a.Decimals, Symbol: symbol}
	}
	return assets, nil
}

func preheatAssets(symbols []string, assets map[string]arb.Asset) []arb.Asset {
	out := make([]arb.Asset, 0, len(symbols))
	for _, sym := range symbols {
		if a, ok := assets[sym]; ok {
			out = append(out, a)
		}
	}
	return out
}

// buildFlashLoanProvider selects between the fee-charging and zero-fee
// provider per cfg.Provider and resolves its on-chain account addresses
// (§4.7's provider abstraction).
func buildFlashLoanProvider(cfg config.FlashLoanConfig, assets map[string]arb.Asset) (arb.FlashLoanProviderAPI, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("flash_loan.program_id: %w", err)
	}
	liquidityVault, err := solana.PublicKeyFromBase58(cfg.LiquidityVault)
	if err != nil {
		return nil, fmt.Errorf("flash_loan.liquidity_vault: %w", err)
	}

	reserveAccounts := make(map[solana.PublicKey]solana.PublicKey, len(cfg.ReserveAccounts))
	for symbol, addr := range cfg.ReserveAccounts {
		asset, ok := assets[symbol]
		if !ok {
			return nil, fmt.Errorf("flash_loan.reserve_accounts: unknown asset %q", symbol)
		}
		reserve, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("flash_loan.reserve_accounts[%s]: %w", symbol, err)
		}
		reserveAccounts[asset.Mint] = reserve
	}

	switch cfg.Provider {
	case "zerofee":
		return arb.NewZeroFeeProvider(programID, reserveAccounts, liquidityVault), nil
	default:
		authorityPDA, err := solana.PublicKeyFromBase58(cfg.AuthorityPDA)
		if err != nil {
			return nil, fmt.Errorf("flash_loan.authority_pda: %w", err)
		}
		return arb.NewProtocolFeeProvider(programID, reserveAccounts, liquidityVault, authorityPDA, cfg.FeeBps), nil
	}
}

// runStatsReporter prints the periodic opportunity statistics §7 requires,
// until ctx is cancelled.
func runStatsReporter(ctx context.Context, pipeline *arb.Pipeline, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := pipeline.Snapshot()
			log.Info("pipeline stats",
				zap.Uint64("found", s.OpportunitiesFound),
				zap.Uint64("filtered", s.OpportunitiesFiltered),
				zap.Uint64("attempted", s.OpportunitiesAttempted),
				zap.Uint64("succeeded", s.Succeeded),
				zap.Uint64("failed", s.Failed),
				zap.Uint64("total_borrowed_lamports", s.TotalBorrowedLamports),
				zap.Uint64("total_profit_lamports", s.TotalProfitLamports),
				zap.Uint64("total_loss_lamports", s.TotalLossLamports),
			)
		}
	}
}

// serveMonitoring exposes Prometheus metrics and a liveness endpoint on the
// configured server port, matching the server section's role as an
// ambient observability surface.
func serveMonitoring(cfg *config.Config, log *logger.Logger) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Monitoring.Metrics.Endpoint, promhttp.Handler())
	mux.HandleFunc(cfg.Monitoring.HealthCheck.Endpoint, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port)
	log.Info("monitoring server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("monitoring server stopped", zap.Error(err))
	}
}
