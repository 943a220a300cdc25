// internal/quote/jupiter.go
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// USDCMint используется как опорный актив для цены SOL.
var USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qJxvzKa6TXE8r1KdVw5Bqo6rYq")

const (
	lamportsPerSOL = 1_000_000_000
	usdcUnits      = 1_000_000
	maxErrorBody   = 512
)

// ErrRateLimited сигнализирует об ответе 429 от сервиса котировок.
var ErrRateLimited = errors.New("quote service rate limited")

// APIError неуспешный HTTP ответ сервиса котировок.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote api status %d: %s", e.Status, e.Body)
}

// Request параметры одной котировки.
type Request struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps int
}

// Result is a decoded quote. Raw keeps the full payload for the swap call.
type Result struct {
	InAmount  uint64
	OutAmount uint64
	// ReferenceUSD is the service's own USD estimate, when it reports one.
	ReferenceUSD *float64
	Raw          json.RawMessage
}

type quoteResponse struct {
	InAmount     string `json:"inAmount"`
	OutAmount    string `json:"outAmount"`
	SwapUsdValue string `json:"swapUsdValue"`
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SwapTransaction is an unsigned swap transaction returned by the aggregator.
type SwapTransaction struct {
	Tx                   *solana.Transaction
	LastValidBlockHeight uint64
}

// JupiterClient talks to a Jupiter-compatible quote/swap HTTP API.
type JupiterClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewJupiterClient создаёт клиент. httpClient может быть nil.
func NewJupiterClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *JupiterClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JupiterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger.Named("jupiter"),
	}
}

// Quote запрашивает котировку GET /quote.
func (c *JupiterClient) Quote(ctx context.Context, req Request) (*Result, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint.String())
	params.Set("outputMint", req.OutputMint.String())
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	in, err := strconv.ParseUint(resp.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inAmount %q: %w", resp.InAmount, err)
	}
	out, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid outAmount %q: %w", resp.OutAmount, err)
	}

	result := &Result{InAmount: in, OutAmount: out, Raw: body}
	if resp.SwapUsdValue != "" {
		if usd, err := strconv.ParseFloat(resp.SwapUsdValue, 64); err == nil {
			result.ReferenceUSD = &usd
		}
	}

	c.logger.Debug("Quote received",
		zap.String("input_mint", req.InputMint.String()),
		zap.Uint64("in_amount", in),
		zap.Uint64("out_amount", out))
	return result, nil
}

// SOLPrice returns the USD price of one SOL, quoted as SOL→USDC.
func (c *JupiterClient) SOLPrice(ctx context.Context) (float64, error) {
	res, err := c.Quote(ctx, Request{
		InputMint:   solana.SolMint,
		OutputMint:  USDCMint,
		Amount:      lamportsPerSOL,
		SlippageBps: 50,
	})
	if err != nil {
		return 0, fmt.Errorf("sol price: %w", err)
	}
	return float64(res.OutAmount) / usdcUnits, nil
}

// BuildSwap запрашивает готовую к подписи транзакцию обмена POST /swap.
func (c *JupiterClient) BuildSwap(ctx context.Context, q *Result, user solana.PublicKey) (*SwapTransaction, error) {
	if q == nil || len(q.Raw) == 0 {
		return nil, errors.New("swap requires a quote payload")
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           q.Raw,
		UserPublicKey:           user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	tx, err := solana.TransactionFromBase64(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	return &SwapTransaction{Tx: tx, LastValidBlockHeight: resp.LastValidBlockHeight}, nil
}

func (c *JupiterClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
