package arb

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	solana "github.com/gagliardetto/solana-go"
)

// BlockEngineClient submits atomic transaction bundles to a Jito-style
// block engine over its JSON-RPC `sendBundle` method (§4.8).
type BlockEngineClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewBlockEngineClient builds a client for the block-engine endpoint.
func NewBlockEngineClient(cfg config.BlockEngineConfig, log *logger.Logger) *BlockEngineClient {
	timeout := 10 * time.Second
	if d, err := time.ParseDuration(cfg.RequestTimeout); err == nil && d > 0 {
		timeout = d
	}
	return &BlockEngineClient{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("block_engine"),
	}
}

type sendBundleRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type sendBundleResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SendSingle submits one signed transaction as a one-transaction
// sendBundle call, returning its signature.
func (c *BlockEngineClient) SendSingle(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sigs, err := c.send(ctx, []*solana.Transaction{tx})
	if err != nil {
		return solana.Signature{}, err
	}
	return sigs[0], nil
}

// SendBundle submits the two-transaction atomic pair to the block engine
// and returns each transaction's signature in TX1/TX2 order.
func (c *BlockEngineClient) SendBundle(ctx context.Context, tx1, tx2 *solana.Transaction) ([]solana.Signature, error) {
	return c.send(ctx, []*solana.Transaction{tx1, tx2})
}

func (c *BlockEngineClient) send(ctx context.Context, txs []*solana.Transaction) ([]solana.Signature, error) {
	encoded := make([]string, len(txs))
	sigs := make([]solana.Signature, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal bundle transaction %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(raw)
		if len(tx.Signatures) > 0 {
			sigs[i] = tx.Signatures[0]
		}
	}

	reqBody, err := json.Marshal(sendBundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []interface{}{encoded, map[string]string{"encoding": "base64"}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode sendBundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build sendBundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("block engine returned status %d: %s", resp.StatusCode, body)
	}

	var wire sendBundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode sendBundle response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("block engine rejected bundle: %s (code %d)", wire.Error.Message, wire.Error.Code)
	}

	return sigs, nil
}
