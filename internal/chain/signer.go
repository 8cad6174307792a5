package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Signer is a client for the custodial signing service. Key material never
// enters this process; the service holds the platform wallet and returns a
// raw signed transaction for submission.
type Signer struct {
	endpoint string
	apiKey   string
	address  string
	client   *http.Client
}

func NewSigner(endpoint, apiKey, address string) *Signer {
	return &Signer{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		address:  address,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Address returns the signer's wallet address, needed for nonce lookups and
// as the key manager under delegated fulfillment.
func (s *Signer) Address() string { return s.address }

// SignRequest describes the unsigned transaction handed to the service.
type SignRequest struct {
	ChainID int64  `json:"chainId"`
	To      string `json:"to"`
	Nonce   uint64 `json:"nonce"`
	Data    string `json:"data"`
	Value   string `json:"value,omitempty"`
}

// SignerError is a non-2xx response from the signing service.
type SignerError struct {
	Status int
	Body   string
}

func (e *SignerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("signer http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("signer http status %d", e.Status)
}

// Sign returns the raw signed transaction hex for req.
func (s *Signer) Sign(ctx context.Context, req SignRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return "", &SignerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out struct {
		RawTransaction string `json:"rawTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.RawTransaction == "" {
		return "", fmt.Errorf("signer returned empty raw transaction")
	}
	return out.RawTransaction, nil
}
