package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clubside/regbot/internal/providers"
)

// PaymentProvider is the payment-provider adapter (GoCardless-shaped):
// billing requests, payment links, and the health probe the /health
// endpoint reports. It implements tools.PaymentProvider.
type PaymentProvider struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	retryConfig providers.RetryConfig
	// SigningFeePounds/MonthlyPounds are the fixed amounts this club
	// charges; a fuller integration would resolve these per team/age from
	// its own pricing table, but create_payment_token returns a single
	// club-wide figure.
	SigningFeePounds float64
	MonthlyPounds    float64
}

func NewPaymentProvider(apiKey, baseURL string) *PaymentProvider {
	if baseURL == "" {
		baseURL = "https://api.gocardless.com"
	}
	return &PaymentProvider{
		apiKey:           apiKey,
		baseURL:          baseURL,
		client:           &http.Client{Timeout: 20 * time.Second},
		retryConfig:      providers.DefaultRetryConfig(),
		SigningFeePounds: 25.00,
		MonthlyPounds:    27.50,
	}
}

func (p *PaymentProvider) Name() string          { return "payment_provider" }
func (p *PaymentProvider) Timeout() time.Duration { return 20 * time.Second }
func (p *PaymentProvider) Classify(err error) bool { return providers.IsRetryable(err) }

func (p *PaymentProvider) Healthy(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, "/billing_requests?limit=1", nil)
	return err
}

// CreatePaymentToken implements create_payment_token: it creates a
// billing request grouping the signing fee and mandate setup, and
// returns the parent-facing payment link.
func (p *PaymentProvider) CreatePaymentToken(ctx context.Context, preferredDay int) (string, string, float64, float64, error) {
	if preferredDay != -1 && (preferredDay < 1 || preferredDay > 28) {
		return "", "", 0, 0, fmt.Errorf("invalid_day: preferred payment day out of range")
	}

	payload := map[string]interface{}{
		"billing_requests": map[string]interface{}{
			"payment_request": map[string]interface{}{
				"amount":   int(p.SigningFeePounds * 100),
				"currency": "GBP",
			},
			"mandate_request": map[string]interface{}{"scheme": "bacs"},
			"metadata":        map[string]interface{}{"preferred_payment_day": preferredDay},
		},
	}
	body, err := providers.RetryDo(ctx, p.retryConfig, func() ([]byte, error) {
		return p.do(ctx, http.MethodPost, "/billing_requests", payload)
	})
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("provider_error: %w", err)
	}

	var decoded struct {
		BillingRequests struct {
			ID    string `json:"id"`
			Links struct {
				PaymentURL string `json:"payment_url"`
			} `json:"links"`
		} `json:"billing_requests"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", "", 0, 0, fmt.Errorf("provider_error: decode billing request: %w", err)
	}

	return decoded.BillingRequests.ID, decoded.BillingRequests.Links.PaymentURL, p.SigningFeePounds, p.MonthlyPounds, nil
}

// CreateSignupLink implements create_signup_payment_link: regenerate a
// fresh payment URL for an existing billing request (used by
// /reg_setup/{billing_request_id}).
func (p *PaymentProvider) CreateSignupLink(ctx context.Context, billingRequestID string) (string, error) {
	body, err := providers.RetryDo(ctx, p.retryConfig, func() ([]byte, error) {
		return p.do(ctx, http.MethodPost, "/billing_requests/"+billingRequestID+"/actions/collect_customer_details", nil)
	})
	if err != nil {
		return "", fmt.Errorf("provider_error: %w", err)
	}
	var decoded struct {
		BillingRequests struct {
			Links struct {
				PaymentURL string `json:"payment_url"`
			} `json:"links"`
		} `json:"billing_requests"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("provider_error: decode billing request: %w", err)
	}
	return decoded.BillingRequests.Links.PaymentURL, nil
}

// CreateSubscription creates the ongoing (and, when interim is non-nil,
// the pro-rata) subscription under a mandate, invoked from the webhook
// processor's mandates.active path once internal/subscription has
// decided the timing.
func (p *PaymentProvider) CreateSubscription(ctx context.Context, mandateID string, amountPounds float64, startDate, endDate time.Time) (string, error) {
	payload := map[string]interface{}{
		"subscriptions": map[string]interface{}{
			"amount":      int(amountPounds * 100),
			"currency":    "GBP",
			"interval_unit": "monthly",
			"day_of_month": startDate.Day(),
			"start_date":  startDate.Format("2006-01-02"),
			"end_date":    endDate.Format("2006-01-02"),
			"links":       map[string]interface{}{"mandate": mandateID},
		},
	}
	body, err := providers.RetryDo(ctx, p.retryConfig, func() ([]byte, error) {
		return p.do(ctx, http.MethodPost, "/subscriptions", payload)
	})
	if err != nil {
		return "", fmt.Errorf("provider_error: %w", err)
	}
	var decoded struct {
		Subscriptions struct {
			ID string `json:"id"`
		} `json:"subscriptions"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("provider_error: decode subscription: %w", err)
	}
	return decoded.Subscriptions.ID, nil
}

func (p *PaymentProvider) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("GoCardless-Version", "2015-07-06")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		herr := &providers.HTTPError{Status: resp.StatusCode, Body: string(body)}
		return nil, herr.AsAPIError()
	}
	return body, nil
}
