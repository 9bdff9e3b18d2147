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
	jupiterBaseURL = "https://api.jup.ag"
	jupiterTimeout = 8 * time.Second
)

// Jupiter queries the Jupiter price API, used as the secondary provider.
type Jupiter struct {
	baseURL string
	client  *http.Client
}

// NewJupiter creates the secondary price provider.
func NewJupiter(baseURL string) *Jupiter {
	if baseURL == "" {
		baseURL = jupiterBaseURL
	}
	return &Jupiter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: jupiterTimeout},
	}
}

var _ Source = (*Jupiter)(nil)

func (j *Jupiter) Name() string { return "jupiter" }

type jupiterResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

func (j *Jupiter) Price(ctx context.Context, mint string) (float64, error) {
	url := fmt.Sprintf("%s/price/v2?ids=%s", j.baseURL, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request jupiter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("jupiter status %d", resp.StatusCode)
	}

	var parsed jupiterResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode jupiter response: %w", err)
	}

	entry, ok := parsed.Data[mint]
	if !ok || entry.Price == "" {
		return 0, fmt.Errorf("no price entry for %s", mint)
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", entry.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %f for %s", price, mint)
	}
	return price, nil
}
