package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	dexScreenerBaseURL = "https://api.dexscreener.com"
	dexScreenerTimeout = 8 * time.Second
)

// DexScreener queries the DexScreener token endpoint. When a mint trades
// in multiple pairs the pair with the highest USD liquidity wins.
type DexScreener struct {
	baseURL string
	client  *http.Client
}

// NewDexScreener creates the primary price provider.
func NewDexScreener(baseURL string) *DexScreener {
	if baseURL == "" {
		baseURL = dexScreenerBaseURL
	}
	return &DexScreener{
		baseURL: baseURL,
		client:  &http.Client{Timeout: dexScreenerTimeout},
	}
}

var _ Source = (*DexScreener)(nil)

func (d *DexScreener) Name() string { return "dexscreener" }

type dexScreenerResponse struct {
	Pairs []struct {
		PriceUSD  string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

func (d *DexScreener) Price(ctx context.Context, mint string) (float64, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request dexscreener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("dexscreener status %d", resp.StatusCode)
	}

	var parsed dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode dexscreener response: %w", err)
	}

	best := 0.0
	bestLiquidity := -1.0
	for _, pair := range parsed.Pairs {
		price, err := strconv.ParseFloat(pair.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		if pair.Liquidity.USD > bestLiquidity {
			best = price
			bestLiquidity = pair.Liquidity.USD
		}
	}
	if best <= 0 {
		return 0, fmt.Errorf("no priced pairs for %s", mint)
	}
	return best, nil
}
