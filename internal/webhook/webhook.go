// Package webhook implements the payment-provider event processor (C9):
// signature verification, per-event idempotent state transitions on the
// registration record, the sibling-discount rule, and subscription
// creation via the Subscription Timer (C10).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/subscription"
)

const maxEvents = 100

// seasonMonths maps a calendar month to the season-month key used in
// MonthlyPaymentStatus (September through May).
var seasonMonths = map[time.Month]string{
	time.September: "september",
	time.October:   "october",
	time.November:  "november",
	time.December:  "december",
	time.January:   "january",
	time.February:  "february",
	time.March:     "march",
	time.April:     "april",
	time.May:       "may",
}

// SubscriptionCreator is the narrow contract the processor needs from the
// payment-provider adapter to create subscriptions.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, mandateID string, amountPounds float64, startDate, endDate time.Time) (string, error)
}

// Event is one parsed webhook event from the payment provider.
type Event struct {
	ID        string            `json:"id"`
	Resource  string            `json:"resource"`
	Action    string            `json:"action"`
	Links     map[string]string `json:"links"`
	CreatedAt time.Time         `json:"created_at"`
}

type payload struct {
	Events []Event `json:"events"`
}

// EventResult is the per-event outcome in the response body.
type EventResult struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "processed", "ignored", "error"
	Reason string `json:"reason,omitempty"`
}

// Processor owns signature verification and event routing.
type Processor struct {
	Records       record.Store
	Payments      SubscriptionCreator
	SharedSecret  string
	DevMode       bool // allows an empty SharedSecret in development
}

func New(records record.Store, payments SubscriptionCreator, sharedSecret string, devMode bool) *Processor {
	return &Processor{Records: records, Payments: payments, SharedSecret: sharedSecret, DevMode: devMode}
}

// ErrBadSignature is returned when the signature header doesn't match.
var ErrBadSignature = fmt.Errorf("signature_mismatch")

// VerifySignature checks HMAC-SHA256(body, secret),
// constant-time compared against the header's hex-encoded value. An
// empty SharedSecret is only accepted when DevMode is set.
func (p *Processor) VerifySignature(body []byte, signatureHeader string) error {
	if p.SharedSecret == "" {
		if p.DevMode {
			return nil
		}
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(p.SharedSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signatureHeader))) {
		return ErrBadSignature
	}
	return nil
}

// ErrTooManyEvents / ErrMalformed are returned by Parse.
var (
	ErrTooManyEvents = fmt.Errorf("too_many_events")
	ErrMalformed     = fmt.Errorf("malformed_payload")
)

// Parse rejects bodies without an events array or
// with more than maxEvents entries.
func Parse(body []byte) ([]Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}
	if p.Events == nil {
		return nil, ErrMalformed
	}
	if len(p.Events) > maxEvents {
		return nil, ErrTooManyEvents
	}
	return p.Events, nil
}

// Process dispatches every event by
// (resource, action), collecting a per-event result; one event's failure
// never aborts the rest.
func (p *Processor) Process(ctx context.Context, events []Event) []EventResult {
	results := make([]EventResult, 0, len(events))
	for _, ev := range events {
		results = append(results, p.processOne(ctx, ev))
	}
	return results
}

func (p *Processor) processOne(ctx context.Context, ev Event) EventResult {
	eventCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	billingRequestID := ev.Links["billing_request"]
	key := fmt.Sprintf("%s.%s", ev.Resource, ev.Action)

	var err error
	switch key {
	case "payments.confirmed":
		err = p.onPaymentConfirmed(eventCtx, billingRequestID, ev)
	case "mandates.active":
		err = p.onMandateActive(eventCtx, billingRequestID, ev)
	case "billing_requests.fulfilled":
		err = p.onBillingRequestFulfilled(eventCtx, billingRequestID, ev)
	case "subscriptions.payment_created":
		err = p.onSubscriptionPaymentCreated(eventCtx, billingRequestID, ev)
	case "subscriptions.created":
		err = p.Records.RecordSubscriptionLifecycle(eventCtx, billingRequestID, "created")
	case "subscriptions.cancelled":
		err = p.Records.RecordSubscriptionLifecycle(eventCtx, billingRequestID, "cancelled")
	default:
		return EventResult{ID: ev.ID, Status: "ignored", Reason: fmt.Sprintf("unhandled resource/action %s", key)}
	}

	if err != nil {
		slog.Error("webhook event failed", "id", ev.ID, "resource_action", key, "err", err)
		return EventResult{ID: ev.ID, Status: "error", Reason: err.Error()}
	}
	return EventResult{ID: ev.ID, Status: "processed"}
}

func (p *Processor) onPaymentConfirmed(ctx context.Context, billingRequestID string, ev Event) error {
	paymentID := ev.Links["payment"]
	return p.Records.ApplyPaymentConfirmed(ctx, billingRequestID, paymentID, ev.CreatedAt)
}

func (p *Processor) onMandateActive(ctx context.Context, billingRequestID string, ev Event) error {
	mandateID := ev.Links["mandate"]
	if err := p.Records.ApplyMandateAuthorised(ctx, billingRequestID, mandateID); err != nil {
		return err
	}
	return p.activateSubscription(ctx, billingRequestID, mandateID, ev.CreatedAt)
}

// onBillingRequestFulfilled is the legacy completion path: if
// mandates.active already ran, ActivateSubscription's idempotency makes
// this a no-op.
func (p *Processor) onBillingRequestFulfilled(ctx context.Context, billingRequestID string, ev Event) error {
	reg, err := p.Records.GetByBillingRequestID(ctx, billingRequestID)
	if err != nil {
		return err
	}
	if reg.SubscriptionActivated {
		return nil
	}
	mandateID := ev.Links["mandate"]
	if err := p.Records.ApplyMandateAuthorised(ctx, billingRequestID, mandateID); err != nil {
		return err
	}
	return p.activateSubscription(ctx, billingRequestID, mandateID, ev.CreatedAt)
}

// activateSubscription runs the sibling-discount query, the Subscription
// Timer, and creates the ongoing (and optional interim) subscription,
// and records the outcome on the registration row.
func (p *Processor) activateSubscription(ctx context.Context, billingRequestID, mandateID string, now time.Time) error {
	reg, err := p.Records.GetByBillingRequestID(ctx, billingRequestID)
	if err != nil {
		return err
	}
	if reg.SubscriptionActivated {
		return nil // idempotent: already done
	}

	monthly := reg.MonthlyAmount
	discountApplied := false
	surname := lastToken(reg.ChildFullName)
	siblings, siblingErr := p.Records.CountActiveSiblings(ctx, reg.ParentFullName, surname, billingRequestID)
	if siblingErr != nil {
		slog.Error("sibling discount query failed, proceeding without discount", "billing_request_id", billingRequestID, "err", siblingErr)
	} else if siblings > 0 {
		monthly *= 0.9
		discountApplied = true
	}

	plan := subscription.Compute(now, reg.PreferredPaymentDay, monthly)

	subscriptionID, err := p.Payments.CreateSubscription(ctx, mandateID, monthly, plan.OngoingStart, plan.EndDate)
	if err != nil {
		return fmt.Errorf("create ongoing subscription: %w", err)
	}

	var interimID string
	if plan.CreateInterim {
		interimID, err = p.Payments.CreateSubscription(ctx, mandateID, monthly, plan.InterimStart, plan.InterimEnd)
		if err != nil {
			return fmt.Errorf("create interim subscription: %w", err)
		}
	}

	return p.Records.ActivateSubscription(ctx, billingRequestID, record.ActivationParams{
		SubscriptionID:         subscriptionID,
		InterimSubscriptionID:  interimID,
		InterimStart:           plan.InterimStart,
		InterimEnd:             plan.InterimEnd,
		MonthlyAmount:          monthly,
		SiblingDiscountApplied: discountApplied,
	})
}

func (p *Processor) onSubscriptionPaymentCreated(ctx context.Context, billingRequestID string, ev Event) error {
	monthKey, ok := seasonMonths[ev.CreatedAt.Month()]
	if !ok {
		return fmt.Errorf("event date %s is outside the season month range", ev.CreatedAt.Format("2006-01-02"))
	}
	key := fmt.Sprintf("%s_%d", monthKey, ev.CreatedAt.Year())
	return p.Records.SetSeasonMonthPaymentStatus(ctx, billingRequestID, key)
}

// lastToken returns the last whitespace-delimited token of a full name,
// used as the sibling-matching surname.
func lastToken(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
