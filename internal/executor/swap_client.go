package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const swapClientTimeout = 30 * time.Second

// SwapClient talks to the external swap/broadcast service over HTTP. The
// service builds the transaction; the wallet signer signs it here so key
// material stays with the signing collaborator, and the signed transaction
// goes back for broadcast and confirmation.
type SwapClient struct {
	baseURL string
	client  *http.Client
}

// NewSwapClient creates a client for the swap service at baseURL.
func NewSwapClient(baseURL string) *SwapClient {
	return &SwapClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: swapClientTimeout},
	}
}

var _ SwapService = (*SwapClient)(nil)

type buildRequest struct {
	Side             string  `json:"side"`
	Mint             string  `json:"mint"`
	Quote            string  `json:"quote"`
	AmountUSD        float64 `json:"amountUsd,omitempty"`
	RawQuantity      uint64  `json:"rawQuantity,omitempty"`
	SlippageBps      int     `json:"slippageBps"`
	FeeMicroLamports *uint64 `json:"feeMicroLamports,omitempty"`
	Owner            string  `json:"owner"`
}

type buildResponse struct {
	Transaction string `json:"transaction"` // base64 unsigned message
}

type broadcastRequest struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"` // base64 detached signature
	Confirm     string `json:"confirm"`
}

type broadcastResponse struct {
	Signature   string  `json:"signature"` // base58 transaction signature
	Status      string  `json:"status"`
	RawQuantity uint64  `json:"rawQuantity"`
	UIQuantity  float64 `json:"uiQuantity"`
	FillPrice   float64 `json:"fillPrice"`
	Error       string  `json:"error,omitempty"`
}

// Swap builds, signs, broadcasts, and confirms one swap. Any failure along
// the way returns an error and means nothing was filled.
func (c *SwapClient) Swap(ctx context.Context, req *SwapRequest) (*SwapResult, error) {
	if req.Signer == nil {
		return nil, fmt.Errorf("swap request without signer")
	}

	var built buildResponse
	err := c.post(ctx, "/v1/swap", &buildRequest{
		Side:             string(req.Side),
		Mint:             req.Mint,
		Quote:            string(req.Quote),
		AmountUSD:        req.AmountUSD,
		RawQuantity:      req.RawQuantity,
		SlippageBps:      req.SlippageBps,
		FeeMicroLamports: req.FeeMicroLamports,
		Owner:            req.Signer.PublicKey(),
	}, &built)
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}

	message, err := base64.StdEncoding.DecodeString(built.Transaction)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	signature, err := req.Signer.Sign(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	var sent broadcastResponse
	err = c.post(ctx, "/v1/broadcast", &broadcastRequest{
		Transaction: built.Transaction,
		Signature:   base64.StdEncoding.EncodeToString(signature),
		Confirm:     string(req.Confirm),
	}, &sent)
	if err != nil {
		return nil, fmt.Errorf("broadcast swap: %w", err)
	}
	if sent.Status == "failed" {
		return nil, fmt.Errorf("swap failed: %s", sent.Error)
	}

	return &SwapResult{
		Signature:   sent.Signature,
		RawQuantity: sent.RawQuantity,
		UIQuantity:  sent.UIQuantity,
		FillPrice:   sent.FillPrice,
	}, nil
}

func (c *SwapClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
