package arb

import (
	"context"
	"testing"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlockhashSource struct {
	hash    solana.Hash
	failSig map[solana.Signature]bool
}

func (f *fakeBlockhashSource) RecentBlockhash(_ context.Context) (solana.Hash, error) {
	return f.hash, nil
}

func (f *fakeBlockhashSource) SignatureConfirmed(_ context.Context, sig solana.Signature) (bool, bool, error) {
	if f.failSig != nil && f.failSig[sig] {
		return false, true, nil
	}
	return true, false, nil
}

type fakeBundleSender struct {
	singleCalls int
	bundleCalls int
}

func (f *fakeBundleSender) SendSingle(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.singleCalls++
	return tx.Signatures[0], nil
}

func (f *fakeBundleSender) SendBundle(_ context.Context, tx1, tx2 *solana.Transaction) ([]solana.Signature, error) {
	f.bundleCalls++
	return []solana.Signature{tx1.Signatures[0], tx2.Signatures[0]}, nil
}

type fakeALTResolver struct{}

func (fakeALTResolver) Load(_ context.Context, addr solana.PublicKey) (*AddressLookupTable, error) {
	return &AddressLookupTable{Address: addr, Addresses: []solana.PublicKey{solana.NewWallet().PublicKey()}}, nil
}

func testWallet() *Wallet {
	w := solana.NewWallet()
	return &Wallet{secret: w.PrivateKey, public: w.PublicKey()}
}

func testExecutor(t *testing.T, sender *fakeBundleSender, blockhash *fakeBlockhashSource, exec config.ExecutionConfig) *Executor {
	t.Helper()
	e, err := NewExecutor(testWallet(), blockhash, sender, fakeALTResolver{}, config.BlockEngineConfig{
		MinTipLamports: 100,
		MaxTipLamports: 10_000,
		ConfirmTimeout: "2s",
		PollInterval:   "10ms",
	}, exec, logger.New("test"))
	require.NoError(t, err)
	return e
}

func TestExecutor_DryRunReturnsSyntheticSuccessWithoutSending(t *testing.T) {
	sender := &fakeBundleSender{}
	e := testExecutor(t, sender, &fakeBlockhashSource{}, config.ExecutionConfig{DryRun: true})

	outcome := e.Execute(context.Background(), smallAssembled(), 50_000, CompetitionMedium, UrgencyNormal, HistoricalTipData{})

	assert.True(t, outcome.Success)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, 0, sender.singleCalls)
	assert.Equal(t, 0, sender.bundleCalls)
}

func TestExecutor_SimulateToBundleSignsButDoesNotSend(t *testing.T) {
	sender := &fakeBundleSender{}
	e := testExecutor(t, sender, &fakeBlockhashSource{hash: solana.Hash{1}}, config.ExecutionConfig{SimulateToBundle: true})

	outcome := e.Execute(context.Background(), smallAssembled(), 50_000, CompetitionMedium, UrgencyNormal, HistoricalTipData{})

	assert.True(t, outcome.Success)
	assert.Equal(t, 0, sender.singleCalls)
	assert.Equal(t, 0, sender.bundleCalls)
}

func TestExecutor_SingleTransactionPathSendsAndConfirms(t *testing.T) {
	sender := &fakeBundleSender{}
	e := testExecutor(t, sender, &fakeBlockhashSource{hash: solana.Hash{1}}, config.ExecutionConfig{})

	outcome := e.Execute(context.Background(), smallAssembled(), 50_000, CompetitionMedium, UrgencyNormal, HistoricalTipData{})

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, sender.singleCalls)
	assert.Equal(t, 0, sender.bundleCalls)
	assert.Len(t, outcome.Signatures, 1)
}

func TestExecutor_BundlePathUsedWhenEstimateExceedsLimit(t *testing.T) {
	sender := &fakeBundleSender{}
	e := testExecutor(t, sender, &fakeBlockhashSource{hash: solana.Hash{1}}, config.ExecutionConfig{})

	a := smallAssembled()
	a.Estimate = SizeEstimate{RawBytes: MaxRawTransactionBytes + 1, Base64Bytes: MaxBase64TransactionBytes + 1}

	outcome := e.Execute(context.Background(), a, 50_000, CompetitionMedium, UrgencyNormal, HistoricalTipData{})

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 0, sender.singleCalls)
	assert.Equal(t, 1, sender.bundleCalls)
	assert.Len(t, outcome.Signatures, 2)
}

func TestExecutor_OnChainFailureReportsError(t *testing.T) {
	sender := &fakeBundleSender{}
	blockhash := &fakeBlockhashSource{hash: solana.Hash{1}}
	e := testExecutor(t, sender, blockhash, config.ExecutionConfig{})

	outcome := e.Execute(context.Background(), smallAssembled(), 50_000, CompetitionMedium, UrgencyNormal, HistoricalTipData{})
	require.NoError(t, outcome.Err)
	require.Len(t, outcome.Signatures, 1)

	blockhash.failSig = map[solana.Signature]bool{outcome.Signatures[0]: true}
	failing := e.awaitConfirmation(context.Background(), outcome.Signatures)
	assert.Error(t, failing.Err)
	assert.False(t, failing.Success)
}
