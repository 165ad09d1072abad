package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/safar/go-storefront/internal/config"
	"github.com/shopspring/decimal"
)

// Gateway is the adapter over the external payment provider. All amounts
// cross the wire in minor units (cents).
type Gateway struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client
}

func NewGateway(cfg *config.PaymentConfig) *Gateway {
	return &Gateway{
		baseURL:       cfg.BaseURL,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateIntent registers a payment intent with the provider, carrying the
// internal order id in metadata so webhook callbacks can be correlated back.
func (g *Gateway) CreateIntent(ctx context.Context, orderID int64, amount decimal.Decimal, currency string) (*Intent, error) {
	body := map[string]any{
		"amount":   amount.Mul(decimal.NewFromInt(100)).IntPart(),
		"currency": currency,
		"metadata": map[string]string{"orderId": strconv.FormatInt(orderID, 10)},
	}

	intent := &Intent{}
	if err := g.post(ctx, "/payment_intents", body, intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intent, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payment_intents/"+intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	intent := &Intent{}
	if err := g.do(req, intent); err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return intent, nil
}

// Refund asks the provider to refund the full captured amount for the given
// intent. The caller decides what to do on failure; this adapter only
// reports it.
func (g *Gateway) Refund(ctx context.Context, intentID string) error {
	body := map[string]any{"payment_intent": intentID}
	if err := g.post(ctx, "/refunds", body, nil); err != nil {
		return fmt.Errorf("refund intent %s: %w", intentID, err)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	return g.do(req, out)
}

func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
