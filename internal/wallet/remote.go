package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const remoteTimeout = 10 * time.Second

// RemoteResolver resolves signers backed by an external signing service.
// The service holds the key material; this client only ever sees public
// keys and detached signatures.
type RemoteResolver struct {
	baseURL string
	client  *http.Client
}

// NewRemoteResolver creates a resolver for the signing service at baseURL.
func NewRemoteResolver(baseURL string) *RemoteResolver {
	return &RemoteResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: remoteTimeout},
	}
}

var _ SignerResolver = (*RemoteResolver)(nil)

type walletResponse struct {
	PublicKey string `json:"publicKey"`
}

// Resolve fetches the user's wallet public key and returns a signer that
// delegates to the signing service. The key is validated before use.
func (r *RemoteResolver) Resolve(ctx context.Context, userID string) (Signer, error) {
	url := fmt.Sprintf("%s/wallets/%s", r.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing service status %d for %s", resp.StatusCode, userID)
	}

	var parsed walletResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode wallet response: %w", err)
	}
	if err := ValidatePublicKey(parsed.PublicKey); err != nil {
		return nil, fmt.Errorf("wallet for %s: %w", userID, err)
	}

	return &remoteSigner{
		resolver:  r,
		userID:    userID,
		publicKey: parsed.PublicKey,
	}, nil
}

type remoteSigner struct {
	resolver  *RemoteResolver
	userID    string
	publicKey string
}

var _ Signer = (*remoteSigner)(nil)

func (s *remoteSigner) PublicKey() string { return s.publicKey }

type signRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func (s *remoteSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		UserID:  s.userID,
		Message: base64.StdEncoding.EncodeToString(message),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	url := s.resolver.baseURL + "/sign"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.resolver.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign for %s: %w", s.userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing service status %d", resp.StatusCode)
	}

	var parsed signResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}

	sig, err := base64.StdEncoding.DecodeString(parsed.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}
