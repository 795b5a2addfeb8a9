// Package mobilemoney is the REST adapter for the mobile-money provider.
// A payment is requested synchronously; its outcome arrives later on the
// callback endpoint, so the only answer this client ever gives is
// "request accepted" or not.
package mobilemoney

import (
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ ports.PaymentProviderPort = (*Client)(nil)

// NewClient creates a mobile-money API client.
func NewClient(baseURL, apiKey string, baseLogger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: baseLogger.With().Str("component", "momo_client").Logger(),
	}
}

// paymentRequest is the provider's charge payload.
type paymentRequest struct {
	PayerPhone  string `json:"payer_phone"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url"`
}

// paymentResponse is the provider's answer to a charge request.
type paymentResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// statusResponse is the provider's answer to a status poll.
type statusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// errorResponse represents an error from the provider API.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *errorResponse) Error() string {
	return fmt.Sprintf("momo api error: %s - %s", e.Code, e.Message)
}

// RequestPayment asks the provider to charge the payer's wallet.
// accepted=false with a nil error means the provider refused outright
// (bad wallet, insufficient float); a refusal is not a transport error.
func (c *Client) RequestPayment(ctx context.Context, req ports.PaymentRequest) (bool, error) {
	payload := paymentRequest{
		PayerPhone:  req.PayerPhone,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return false, fmt.Errorf("failed to create payment request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to execute payment request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read payment response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			c.log.Warn().Int("status", resp.StatusCode).Msg("Non-2xx payment response with unparsable body")
			return false, fmt.Errorf("payment request failed with status %d", resp.StatusCode)
		}
		c.log.Warn().Int("status", resp.StatusCode).Str("code", errResp.Code).Str("message", errResp.Message).Msg("Provider rejected payment request")
		return false, &errResp
	}

	var payResp paymentResponse
	if err := json.Unmarshal(bodyBytes, &payResp); err != nil {
		return false, fmt.Errorf("failed to decode payment response: %w", err)
	}

	if !payResp.Accepted {
		c.log.Warn().Str("reference", req.Reference).Str("message", payResp.Message).Msg("Provider refused payment request")
	}
	return payResp.Accepted, nil
}

// CheckStatus polls the provider for the outcome of a known reference.
// Statuses the provider invents that we don't know map to PENDING.
func (c *Client) CheckStatus(ctx context.Context, reference string) (domain.PaymentStatus, error) {
	url := c.baseURL + "/v1/payments/" + reference

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute status request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status check failed with status %d", resp.StatusCode)
	}

	var statResp statusResponse
	if err := json.Unmarshal(bodyBytes, &statResp); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}

	switch domain.PaymentStatus(statResp.Status) {
	case domain.PaymentSuccessful:
		return domain.PaymentSuccessful, nil
	case domain.PaymentFailed:
		return domain.PaymentFailed, nil
	default:
		return domain.PaymentPending, nil
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
