package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/clubside/regbot/internal/providers"
)

// SMSProvider sends the payment-link text at the end of step 29. It rate
// limits outbound sends; a single parent retrying the payment step
// should never be able to burst the club's SMS budget.
type SMSProvider struct {
	apiKey     string
	baseURL    string
	senderName string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewSMSProvider builds an SMSProvider limited to ratePerSecond sustained
// sends with a small burst allowance, throttled with
// golang.org/x/time/rate.
func NewSMSProvider(apiKey, baseURL, senderName string, ratePerSecond float64) *SMSProvider {
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &SMSProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		senderName: senderName,
		client:     &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond*2)),
	}
}

func (s *SMSProvider) Name() string          { return "sms_provider" }
func (s *SMSProvider) Timeout() time.Duration { return 20 * time.Second }
func (s *SMSProvider) Classify(err error) bool { return providers.IsRetryable(err) }

func (s *SMSProvider) Healthy(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

var ukMobilePattern = regexp.MustCompile(`^(?:\+44|0)7\d{9}$`)

// Send implements send_sms_payment_link: phone must be a UK mobile number.
func (s *SMSProvider) Send(ctx context.Context, phone, paymentURL, childName string) (string, error) {
	normalized := phone
	if !ukMobilePattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid_phone: %q is not a UK mobile number", phone)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("provider_error: rate limit wait: %w", err)
	}

	body := map[string]interface{}{
		"to":   normalized,
		"from": s.senderName,
		"body": fmt.Sprintf("Hi! Please complete %s's club registration payment here: %s", childName, paymentURL),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("provider_error: marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/Messages.json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("provider_error: create request: %w", err)
	}
	req.SetBasicAuth(s.senderName, s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider_error: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider_error: sms provider returned %d: %s", resp.StatusCode, respBody)
	}

	var decoded struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("provider_error: decode sms response: %w", err)
	}
	return decoded.SID, nil
}
