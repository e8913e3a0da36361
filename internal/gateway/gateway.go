package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/ticketing/config"
)

// Client is the payment gateway surface the engine consumes: payer
// account creation, payment transaction creation and status retrieval.
// The gateway additionally pushes lifecycle notifications to the
// webhook endpoint; those are parsed in notifications.go.
type Client interface {
	CreatePayerAccount(ctx context.Context, req CreatePayerAccountRequest) (*PayerAccount, error)
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// CreatePayerAccountRequest carries the buyer profile sent to the
// gateway when a payer account is first created.
type CreatePayerAccountRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PayerAccount is the gateway-side account reference for a buyer.
type PayerAccount struct {
	Ref    string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CreatePaymentRequest carries everything the gateway needs to open a
// transaction. Metadata must be sufficient for settlement to act
// without re-querying business data.
type CreatePaymentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	PayerRef string            `json:"payer"`
	Metadata map[string]string `json:"metadata"`
}

// Payment is a gateway transaction. ID is the idempotency key for all
// later notifications; ClientSecret is handed to the client app to
// complete the payment out-of-band.
type Payment struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// HTTPClient talks to the gateway's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a gateway client from configuration.
func NewHTTPClient(cfg config.GatewayConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreatePayerAccount registers a payer with the gateway.
func (c *HTTPClient) CreatePayerAccount(ctx context.Context, req CreatePayerAccountRequest) (*PayerAccount, error) {
	var account PayerAccount
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", req, &account); err != nil {
		return nil, errors.Wrap(err, "failed to create payer account")
	}
	return &account, nil
}

// CreatePayment opens a gateway transaction and returns its id and
// client secret synchronously.
func (c *HTTPClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req, &payment); err != nil {
		return nil, errors.Wrap(err, "failed to create payment")
	}
	return &payment, nil
}

// GetPayment retrieves the current status of a transaction. Used by the
// worker to resolve payments whose webhook never arrived.
func (c *HTTPClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, &payment); err != nil {
		return nil, errors.Wrap(err, "failed to get payment")
	}
	return &payment, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "gateway request failed")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return errors.Errorf("gateway returned %d: %s", res.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return errors.Wrap(err, "failed to decode gateway response")
		}
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)

// String renders a payment for log fields.
func (p *Payment) String() string {
	return fmt.Sprintf("%s (%s)", p.ID, p.Status)
}
