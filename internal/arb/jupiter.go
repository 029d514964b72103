package arb

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
)

// JupiterClient talks to an aggregator exposing the two endpoints
// described in §6: GET /quote and POST /swap-instructions.
type JupiterClient struct {
	baseURL          string
	httpClient       *http.Client
	logger           *logger.Logger
	retryAttempts    int
	retryBaseBackoff time.Duration
	defaultDexes     []string
}

// NewJupiterClient builds an aggregator client from the declarative
// configuration surface (§6).
func NewJupiterClient(cfg config.AggregatorConfig, log *logger.Logger) *JupiterClient {
	timeout := 10 * time.Second
	if d, err := time.ParseDuration(cfg.RequestTimeout); err == nil && d > 0 {
		timeout = d
	}
	backoff := 200 * time.Millisecond
	if d, err := time.ParseDuration(cfg.RetryBaseBackoff); err == nil && d > 0 {
		backoff = d
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &JupiterClient{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       &http.Client{Timeout: timeout},
		logger:           log.Named("jupiter"),
		retryAttempts:    attempts,
		retryBaseBackoff: backoff,
		defaultDexes:     cfg.DefaultDexes,
	}
}

// swapInfoWire is the aggregator's per-hop descriptor inside routePlan.
type swapInfoWire struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
}

type routePlanStepWire struct {
	SwapInfo swapInfoWire `json:"swapInfo"`
	Percent  float64      `json:"percent"`
}

type marketInfoWire struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

// QuoteResponse is the raw aggregator /quote response. It is kept
// byte-exact (via raw) so it can be replayed verbatim into the
// swap-instructions request body, and tolerates both response shapes
// called out in §9's open questions: a routePlan array, or a flat
// single-hop response with ammKey/label fields at the top level.
type QuoteResponse struct {
	OutAmount    string              `json:"outAmount"`
	InAmount     string              `json:"inAmount,omitempty"`
	RoutePlanRaw []routePlanStepWire `json:"routePlan,omitempty"`
	MarketInfos  []marketInfoWire    `json:"marketInfos,omitempty"`
	AmmKey       string              `json:"ammKey,omitempty"`
	Label        string              `json:"label,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the response and retains the original bytes so
// the exact payload can be forwarded to /swap-instructions unmodified.
func (q *QuoteResponse) UnmarshalJSON(data []byte) error {
	type alias QuoteResponse
	aux := &struct{ *alias }{alias: (*alias)(q)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	q.raw = append([]byte(nil), data...)
	return nil
}

// RoutePlan normalizes either response shape into the spec's RouteStep
// sequence. inputMint/outputMint are used to fill the flat-field shape,
// which (per §9) omits per-hop mints when it has only one hop.
func (q *QuoteResponse) RoutePlan(inputMint, outputMint solana.PublicKey) []RouteStep {
	if len(q.RoutePlanRaw) > 0 {
		steps := make([]RouteStep, 0, len(q.RoutePlanRaw))
		for _, s := range q.RoutePlanRaw {
			in, _ := strconv.ParseUint(s.SwapInfo.InAmount, 10, 64)
			out, _ := strconv.ParseUint(s.SwapInfo.OutAmount, 10, 64)
			inMint, err := solana.PublicKeyFromBase58(s.SwapInfo.InputMint)
			if err != nil {
				inMint = inputMint
			}
			outMint, err := solana.PublicKeyFromBase58(s.SwapInfo.OutputMint)
			if err != nil {
				outMint = outputMint
			}
			steps = append(steps, RouteStep{
				DexLabel:   s.SwapInfo.Label,
				PoolID:     s.SwapInfo.AmmKey,
				InputMint:  inMint,
				OutputMint: outMint,
				InAmount:   in,
				OutAmount:  out,
			})
		}
		return steps
	}

	in, _ := strconv.ParseUint(q.InAmount, 10, 64)
	out, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	label := q.Label
	if label == "" {
		label = "unknown"
	}
	return []RouteStep{{
		DexLabel:   label,
		PoolID:     q.AmmKey,
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   in,
		OutAmount:  out,
	}}
}

// OutAmountUint64 parses OutAmount, the only field every shape carries.
func (q *QuoteResponse) OutAmountUint64() uint64 {
	v, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return v
}

// GetQuote issues GET /quote for a round-trip leg under the given
// strategy's account/route constraints (§6). Errors are retried with
// exponential backoff up to retryAttempts; the dexes constraint, if the
// caller supplied one, is dropped on retry attempts (§6, §9).
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int, restrictIntermediate bool, strategy Strategy, dexes []string) (*QuoteResponse, error) {
	if len(dexes) == 0 {
		dexes = c.defaultDexes
	}
	useDexes := len(dexes) > 0
	backoff := c.retryBaseBackoff
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			useDexes = false
		}

		qr, retryable, err := c.doQuote(ctx, inputMint, outputMint, amount, slippageBps, restrictIntermediate, strategy, dexes, useDexes)
		if err == nil {
			return qr, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, &AggregatorError{Op: "quote", Err: lastErr}
}

func (c *JupiterClient) doQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int, restrictIntermediate bool, strategy Strategy, dexes []string, useDexes bool) (*QuoteResponse, bool, error) {
	params := make(map[string]string, 8)
	params["inputMint"] = inputMint.String()
	params["outputMint"] = outputMint.String()
	params["amount"] = strconv.FormatUint(amount, 10)
	params["slippageBps"] = strconv.Itoa(slippageBps)
	params["onlyDirectRoutes"] = strconv.FormatBool(strategy.OnlyDirectRoutes)
	params["maxAccounts"] = strconv.Itoa(strategy.MaxAccounts)
	params["restrictIntermediateTokens"] = strconv.FormatBool(restrictIntermediate)
	if useDexes {
		params["dexes"] = strings.Join(dexes, ",")
	}

	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString("/quote?")
	first := true
	for k, v := range params {
		if !first {
			sb.WriteByte('&')
		}
		first = false
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sb.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &AggregatorError{StatusCode: resp.StatusCode, NoRoute: true, Op: "quote"}
	case resp.StatusCode >= 500:
		return nil, true, &AggregatorError{StatusCode: resp.StatusCode, Op: "quote"}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, &AggregatorError{StatusCode: resp.StatusCode, Op: "quote", Err: fmt.Errorf("%s", body)}
	}

	var qr QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, false, fmt.Errorf("decode quote response: %w", err)
	}
	if qr.OutAmount == "" {
		return nil, false, &AggregatorError{Op: "quote", NoRoute: true}
	}
	return &qr, false, nil
}

type accountMetaWire struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instructionWire struct {
	ProgramID string            `json:"programId"`
	Accounts  []accountMetaWire `json:"accounts"`
	Data      string            `json:"data"`
}

type swapInstructionsResponseWire struct {
	ComputeBudgetInstructions  []instructionWire `json:"computeBudgetInstructions"`
	SetupInstructions          []instructionWire `json:"setupInstructions"`
	SwapInstruction            instructionWire   `json:"swapInstruction"`
	CleanupInstruction         *instructionWire  `json:"cleanupInstruction,omitempty"`
	AddressLookupTableAddresses []string         `json:"addressLookupTableAddresses"`
}

type swapInstructionsRequest struct {
	QuoteResponse            json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string         `json:"userPublicKey"`
	WrapAndUnwrapSol          bool           `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool           `json:"dynamicComputeUnitLimit"`
	AsLegacyTransaction       bool           `json:"asLegacyTransaction"`
	UseSharedAccounts         bool           `json:"useSharedAccounts"`
	SkipUserAccountsRpcCalls  bool           `json:"skipUserAccountsRpcCalls"`
}

func toCompiledInstruction(w instructionWire) (CompiledInstruction, error) {
	programID, err := solana.PublicKeyFromBase58(w.ProgramID)
	if err != nil {
		return CompiledInstruction{}, fmt.Errorf("programId %q: %w", w.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return CompiledInstruction{}, fmt.Errorf("instruction data: %w", err)
	}
	refs := make([]AccountRef, 0, len(w.Accounts))
	for _, a := range w.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return CompiledInstruction{}, fmt.Errorf("account pubkey %q: %w", a.Pubkey, err)
		}
		refs = append(refs, AccountRef{PublicKey: pk, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}
	return CompiledInstruction{ProgramID: programID, AccountRefs: refs, Data: data}, nil
}

// GetSwapInstructions issues POST /swap-instructions for a previously
// fetched quote (§6), forwarding the quote response byte-for-byte so the
// aggregator can re-derive the exact route it priced.
func (c *JupiterClient) GetSwapInstructions(ctx context.Context, quote *QuoteResponse, userPublicKey solana.PublicKey) (*SwapInstructionBundle, error) {
	backoff := c.retryBaseBackoff
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		bundle, retryable, err := c.doSwapInstructions(ctx, quote, userPublicKey)
		if err == nil {
			return bundle, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, &AggregatorError{Op: "swap-instructions", Err: lastErr}
}

func (c *JupiterClient) doSwapInstructions(ctx context.Context, quote *QuoteResponse, userPublicKey solana.PublicKey) (*SwapInstructionBundle, bool, error) {
	reqBody := swapInstructionsRequest{
		QuoteResponse:            quote.raw,
		UserPublicKey:            userPublicKey.String(),
		WrapAndUnwrapSol:         false,
		DynamicComputeUnitLimit:  true,
		AsLegacyTransaction:      false,
		UseSharedAccounts:        true,
		SkipUserAccountsRpcCalls: true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("marshal swap-instructions request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap-instructions", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build swap-instructions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("swap-instructions request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &AggregatorError{StatusCode: resp.StatusCode, NoRoute: true, Op: "swap-instructions"}
	case resp.StatusCode >= 500:
		return nil, true, &AggregatorError{StatusCode: resp.StatusCode, Op: "swap-instructions"}
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, false, &AggregatorError{StatusCode: resp.StatusCode, Op: "swap-instructions", Err: fmt.Errorf("%s", respBody)}
	}

	var wire swapInstructionsResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, false, fmt.Errorf("decode swap-instructions response: %w", err)
	}

	bundle := &SwapInstructionBundle{OutAmount: quote.OutAmountUint64()}
	for _, w := range wire.ComputeBudgetInstructions {
		ci, err := toCompiledInstruction(w)
		if err != nil {
			return nil, false, err
		}
		bundle.ComputeBudgetInstructions = append(bundle.ComputeBudgetInstructions, ci)
	}
	for _, w := range wire.SetupInstructions {
		ci, err := toCompiledInstruction(w)
		if err != nil {
			return nil, false, err
		}
		bundle.SetupInstructions = append(bundle.SetupInstructions, ci)
	}
	main, err := toCompiledInstruction(wire.SwapInstruction)
	if err != nil {
		return nil, false, err
	}
	bundle.MainInstructions = []CompiledInstruction{main}
	if wire.CleanupInstruction != nil {
		cleanup, err := toCompiledInstruction(*wire.CleanupInstruction)
		if err != nil {
			return nil, false, err
		}
		bundle.CleanupInstructions = []CompiledInstruction{cleanup}
	}
	for _, addr := range wire.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, false, fmt.Errorf("lookup table address %q: %w", addr, err)
		}
		bundle.LookupTableAddresses = append(bundle.LookupTableAddresses, pk)
	}

	return bundle, false, nil
}
