package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const DefaultBaseURL = "https://api.paystack.co"

// ErrVerificationFailed means Paystack answered but did not confirm the
// transaction as successful. No upgrade may happen on this error.
var ErrVerificationFailed = errors.New("payment verification failed")

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client verifies Paystack transaction references server-side. Webhook
// payloads are never trusted on their own; every upgrade goes through
// Verify first.
type Client struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("paystack secret key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Verification is the confirmed outcome of a charge.
type Verification struct {
	Reference string
	Email     string
	Amount    int64
	Currency  string
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// Verify confirms a transaction reference against Paystack's verify
// endpoint. Only a response with status=true and data.status=success counts
// as a confirmed charge.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrVerificationFailed)
	}

	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from provider", ErrVerificationFailed, resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	if !body.Status || body.Data.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, body.Message)
	}
	if body.Data.Customer.Email == "" {
		return nil, fmt.Errorf("%w: no customer email in response", ErrVerificationFailed)
	}

	return &Verification{
		Reference: reference,
		Email:     body.Data.Customer.Email,
		Amount:    body.Data.Amount,
		Currency:  body.Data.Currency,
	}, nil
}
