package arb

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJupiterConfig(baseURL string) config.AggregatorConfig {
	return config.AggregatorConfig{
		BaseURL:          baseURL,
		RequestTimeout:   "2s",
		RetryAttempts:    3,
		RetryBaseBackoff: "1ms",
		SlippageBps:      50,
	}
}

func TestJupiterClient_GetQuote_RoutePlanShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("maxAccounts"))
		fmt.Fprint(w, `{
			"outAmount": "1000000",
			"routePlan": [
				{"swapInfo": {"ammKey":"11111111111111111111111111111111111111111111","label":"Raydium","inputMint":"So11111111111111111111111111111111111111112","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","inAmount":"500000","outAmount":"1000000","feeAmount":"10"},"percent":100}
			]
		}`)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	input := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	output := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	quote, err := client.GetQuote(context.Background(), input, output, 500000, 50, true, DefaultStrategies()[0], nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), quote.OutAmountUint64())

	steps := quote.RoutePlan(input, output)
	require.Len(t, steps, 1)
	assert.Equal(t, "Raydium", steps[0].DexLabel)
	assert.Equal(t, uint64(500000), steps[0].InAmount)
}

func TestJupiterClient_GetQuote_FlatFieldShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"outAmount": "2000000", "inAmount": "1000000", "ammKey": "pool123", "label": "Orca"}`)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	input := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	output := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	quote, err := client.GetQuote(context.Background(), input, output, 1000000, 50, true, DefaultStrategies()[0], nil)
	require.NoError(t, err)

	steps := quote.RoutePlan(input, output)
	require.Len(t, steps, 1)
	assert.Equal(t, "Orca", steps[0].DexLabel)
	assert.True(t, steps[0].InputMint.Equals(input))
}

func TestJupiterClient_GetQuote_NoRouteDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	input := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	output := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	_, err := client.GetQuote(context.Background(), input, output, 1000000, 50, true, DefaultStrategies()[0], nil)
	require.Error(t, err)
	var aggErr *AggregatorError
	require.ErrorAs(t, err, &aggErr)
	assert.True(t, aggErr.NoRoute)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestJupiterClient_GetQuote_RetriesOn5xxAndDropsDexes(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			assert.Equal(t, "raydium,orca", r.URL.Query().Get("dexes"))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Empty(t, r.URL.Query().Get("dexes"))
		fmt.Fprint(w, `{"outAmount": "42"}`)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	input := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	output := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	quote, err := client.GetQuote(context.Background(), input, output, 1000, 50, true, DefaultStrategies()[0], []string{"raydium", "orca"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), quote.OutAmountUint64())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestJupiterClient_GetQuote_GivesUpAfterRetryAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	input := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	output := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	_, err := client.GetQuote(context.Background(), input, output, 1000, 50, true, DefaultStrategies()[0], nil)
	require.Error(t, err)
}

func TestJupiterClient_GetSwapInstructions(t *testing.T) {
	swapProgramID := "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	signerPub := "11111111111111111111111111111111111111111111"
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap-instructions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprintf(w, `{
			"computeBudgetInstructions": [{"programId":"ComputeBudget111111111111111111111111111111","accounts":[],"data":"%s"}],
			"setupInstructions": [],
			"swapInstruction": {"programId":"%s","accounts":[{"pubkey":"%s","isSigner":true,"isWritable":true}],"data":"%s"},
			"addressLookupTableAddresses": ["%s"]
		}`, data, swapProgramID, signerPub, data, signerPub)
	}))
	defer server.Close()

	client := NewJupiterClient(testJupiterConfig(server.URL), logger.New("test"))
	quote := &QuoteResponse{OutAmount: "100", raw: []byte(`{"outAmount":"100"}`)}
	signer := solana.MustPublicKeyFromBase58(signerPub)

	bundle, err := client.GetSwapInstructions(context.Background(), quote, signer)
	require.NoError(t, err)
	require.Len(t, bundle.MainInstructions, 1)
	assert.True(t, bundle.MainInstructions[0].ProgramID.Equals(solana.MustPublicKeyFromBase58(swapProgramID)))
	require.Len(t, bundle.ComputeBudgetInstructions, 1)
	require.Len(t, bundle.LookupTableAddresses, 1)
	assert.Equal(t, uint64(100), bundle.OutAmount)
}

func TestQuoteResponse_UnmarshalRetainsRawBytes(t *testing.T) {
	raw := []byte(`{"outAmount":"7"}`)
	var qr QuoteResponse
	require.NoError(t, qr.UnmarshalJSON(raw))
	assert.Equal(t, raw, []byte(qr.raw))
}
