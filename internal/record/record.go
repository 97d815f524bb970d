// Package record implements the external Registration Record table (C11,
// record-table side): the row store keyed by billing_request_id that the
// chat flow and the webhook processor both mutate. Two implementations are
// provided: an in-memory MemStore (the default, and what the test suite
// exercises) and a Postgres-backed PGStore built on pgx/v5.
package record

import (
	"context"
	"time"

	"github.com/clubside/regbot/internal/tools"
)

// Registration is the full logical registration row.
type Registration struct {
	BillingRequestID string

	ParentFullName string
	ParentPhone    string
	ParentEmail    string
	ParentDOB      string
	ParentAddress  map[string]string
	Relationship   string

	ChildFullName string
	ChildDOB      string
	Gender        string
	Medical       string
	ChildAddress  map[string]string

	PlayerPhone string
	PlayerEmail string

	Team     string
	AgeGroup string
	Season   string

	PreferredPaymentDay int
	MonthlyAmount       float64

	KitSize     string
	ShirtNumber int
	KitType     string

	PhotoURL string

	SigningFeePaid        bool
	PaymentID             string
	PaymentAt             time.Time
	MandateAuthorised     bool
	MandateID             string
	SubscriptionActivated bool
	SubscriptionID        string
	InterimSubscriptionID string
	InterimStart          time.Time
	InterimEnd            time.Time

	SiblingDiscountApplied bool

	// Status is one of pending, incomplete, active, suspended.
	Status string

	PlayedLastSeason bool

	// MonthlyPaymentStatus maps "<month>_<year>" (e.g. "october_2025")
	// to "paid".
	MonthlyPaymentStatus map[string]string

	HistorySnapshot string

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	StatusPending    = "pending"
	StatusIncomplete = "incomplete"
	StatusActive     = "active"
	StatusSuspended  = "suspended"
)

// TeamRow is one (team, age group) the club fields a side for.
type TeamRow struct {
	Team         string
	AgeGroup     string
	KitRequired  bool
}

// Store is the Registration Record adapter (C11). It backs both the tool
// layer's RecordStore contract and the webhook processor's
// event-to-mutation operations. Ownership of the record is the external
// table's; the core mutates through this interface with optimistic
// last-writer-wins semantics; no in-process locks are assumed beyond
// what a given implementation uses internally for its own consistency.
type Store interface {
	tools.RecordStore

	// ResolveTeam validates a (team, ageGroup) pair against the team
	// table for the registration-code parser (C5); "mens" resolves to
	// "Open Age" regardless of the age token.
	ResolveTeam(team, age string) (canonicalAge string, ok bool)

	// GetByBillingRequestID fetches the full row for webhook processing.
	GetByBillingRequestID(ctx context.Context, billingRequestID string) (*Registration, error)

	// ApplyPaymentConfirmed implements the payments.confirmed handler:
	// idempotent, never regresses status from incomplete/active back to
	// pending.
	ApplyPaymentConfirmed(ctx context.Context, billingRequestID, paymentID string, at time.Time) error

	// ApplyMandateAuthorised implements the mandates.active handler's
	// record mutation (subscription creation itself is orchestrated by
	// internal/webhook, which calls ActivateSubscription below).
	ApplyMandateAuthorised(ctx context.Context, billingRequestID, mandateID string) error

	// ActivateSubscription records the outcome of subscription creation:
	// identifiers, the (possibly discounted) monthly amount, and moves
	// status to active. Idempotent: calling it twice with the same
	// arguments leaves the record unchanged the second time.
	ActivateSubscription(ctx context.Context, billingRequestID string, params ActivationParams) error

	// SetSeasonMonthPaymentStatus marks one season month as paid for
	// subscriptions.payment_created events.
	SetSeasonMonthPaymentStatus(ctx context.Context, billingRequestID, monthKey string) error

	// RecordSubscriptionLifecycle records a bare subscriptions.created /
	// subscriptions.cancelled state transition.
	RecordSubscriptionLifecycle(ctx context.Context, billingRequestID, state string) error

	// CountActiveSiblings implements the sibling-discount query: other
	// active rows with the same parent full name and child surname,
	// excluding billingRequestID itself.
	CountActiveSiblings(ctx context.Context, parentFullName, playerLastName, excludeBillingRequestID string) (int, error)
}

// ActivationParams is the payload ActivateSubscription persists.
type ActivationParams struct {
	SubscriptionID        string
	InterimSubscriptionID string
	InterimStart          time.Time
	InterimEnd            time.Time
	MonthlyAmount         float64
	SiblingDiscountApplied bool
}
