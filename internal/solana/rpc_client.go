package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds every RPC call. A timed-out call is a failure for
// the current tick; the next scheduled tick is the retry mechanism.
const DefaultTimeout = 10 * time.Second

// HTTPClient implements BalanceReader using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ BalanceReader = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a single JSON-RPC call. No in-call retries: the scheduler's
// cadence bounds the latency of a tick.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// GetTokenBalances returns the aggregate balance per mint for a wallet,
// across both token program variants.
func (c *HTTPClient) GetTokenBalances(ctx context.Context, owner string) (map[string]uint64, error) {
	balances := make(map[string]uint64)

	for _, program := range []string{TokenProgramID, Token2022ProgramID} {
		accounts, err := c.getTokenAccountsByOwner(ctx, owner, program)
		if err != nil {
			return nil, fmt.Errorf("get token accounts (%s): %w", program, err)
		}
		for _, acc := range accounts {
			balances[acc.Mint] += acc.RawAmount
		}
	}

	return balances, nil
}

// getTokenAccountsByOwner lists all token accounts a wallet holds under one
// token program, in one batched call.
func (c *HTTPClient) getTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenBalance, error) {
	params := []interface{}{
		owner,
		map[string]interface{}{"programId": programID},
		map[string]interface{}{"encoding": "jsonParsed"},
	}

	var result getTokenAccountsResult
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, err
	}

	accounts := make([]TokenBalance, 0, len(result.Value))
	for _, v := range result.Value {
		info := v.Account.Data.Parsed.Info
		raw, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse token amount %q: %w", info.TokenAmount.Amount, err)
		}
		accounts = append(accounts, TokenBalance{
			Mint:         info.Mint,
			RawAmount:    raw,
			UIAmount:     info.TokenAmount.UIAmount,
			ProgramID:    programID,
			TokenAccount: v.Pubkey,
		})
	}

	return accounts, nil
}

// getTokenAccountsResult is the raw RPC response for getTokenAccountsByOwner.
type getTokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount   string  `json:"amount"`
							UIAmount float64 `json:"uiAmount"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}
