package record

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clubside/regbot/internal/tools"
)

// MemStore is an in-memory Store, the default wiring for development and
// the test suite. All operations are safe under concurrent access.
type MemStore struct {
	mu      sync.Mutex
	rows    map[string]*Registration // keyed by BillingRequestID
	teams   map[string]TeamRow       // keyed by lower(team)+"/"+upper(age)
	shirts  map[string]map[int]bool  // team/age -> taken shirt numbers
}

func NewMemStore() *MemStore {
	return &MemStore{
		rows:   make(map[string]*Registration),
		teams:  make(map[string]TeamRow),
		shirts: make(map[string]map[int]bool),
	}
}

// SeedTeam registers a (team, age group) as a valid row in the team table,
// used by tests and the default dev wiring in place of a real team-table
// query.
func (m *MemStore) SeedTeam(team, ageGroup string, kitRequired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[teamKey(team, ageGroup)] = TeamRow{Team: team, AgeGroup: ageGroup, KitRequired: kitRequired}
}

// SeedRegistration inserts a fully-formed row directly, used by tests to
// set up preconditions (e.g. an existing sibling, a returning player).
func (m *MemStore) SeedRegistration(r *Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.MonthlyPaymentStatus == nil {
		r.MonthlyPaymentStatus = make(map[string]string)
	}
	m.rows[r.BillingRequestID] = r
}

func teamKey(team, age string) string {
	return strings.ToLower(team) + "/" + strings.ToUpper(age)
}

func (m *MemStore) ResolveTeam(team, age string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.ToLower(team) == "mens" {
		return "Open Age", true
	}
	row, ok := m.teams[teamKey(team, age)]
	if !ok {
		return "", false
	}
	return row.AgeGroup, true
}

func (m *MemStore) CheckExists(ctx context.Context, parentName, childName string) (bool, string, bool, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if strings.EqualFold(r.ParentFullName, parentName) && strings.EqualFold(r.ChildFullName, childName) {
			return true, r.BillingRequestID, r.PlayedLastSeason, r.Team, r.AgeGroup, nil
		}
	}
	return false, "", false, "", "", nil
}

func (m *MemStore) CheckKitNeeded(ctx context.Context, team, ageGroup string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.teams[teamKey(team, ageGroup)]
	if !ok {
		return true, nil // unknown row: default to needing kit
	}
	return row.KitRequired, nil
}

func (m *MemStore) ShirtNumberAvailable(ctx context.Context, team, ageGroup string, number int) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taken := m.shirts[teamKey(team, ageGroup)]
	if taken == nil {
		return true, 0, nil
	}
	if taken[number] {
		return false, 1, nil
	}
	return true, 0, nil
}

func (m *MemStore) UpsertRegistration(ctx context.Context, payload tools.RegistrationPayload) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := payload.RecordID
	action := "updated"
	existing, ok := m.rows[id]
	if id == "" || !ok {
		if id == "" {
			id = uuid.NewString()
		}
		existing = &Registration{BillingRequestID: id, Status: StatusPending, MonthlyPaymentStatus: make(map[string]string)}
		m.rows[id] = existing
		action = "created"
	}

	existing.ParentFullName = payload.ParentName
	existing.ChildFullName = payload.ChildName
	existing.ChildDOB = payload.DOB
	existing.AgeGroup = payload.AgeGroup
	existing.Gender = payload.Gender
	existing.Medical = payload.Medical
	existing.Relationship = payload.Relationship
	existing.ParentPhone = payload.Mobile
	existing.ParentEmail = payload.Email
	existing.ParentDOB = payload.ParentDOB
	existing.Team = payload.Team
	existing.Season = payload.Season
	existing.PlayerPhone = payload.PlayerPhone
	existing.PlayerEmail = payload.PlayerEmail
	if payload.Address != nil {
		existing.ParentAddress = payload.Address
	}
	if payload.ChildAddress != nil {
		existing.ChildAddress = payload.ChildAddress
	}
	existing.UpdatedAt = m.now()
	if existing.CreatedAt.IsZero() {
		existing.CreatedAt = existing.UpdatedAt
	}

	return id, action, nil
}

func (m *MemStore) UpdateKitDetails(ctx context.Context, recordID, size string, number int, kitType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[recordID]
	if !ok {
		return fmt.Errorf("record not found: %s", recordID)
	}
	r.KitSize, r.ShirtNumber, r.KitType = size, number, kitType
	taken := m.shirts[teamKey(r.Team, r.AgeGroup)]
	if taken == nil {
		taken = make(map[int]bool)
		m.shirts[teamKey(r.Team, r.AgeGroup)] = taken
	}
	taken[number] = true
	return nil
}

func (m *MemStore) UpdatePhotoLink(ctx context.Context, recordID, url, historySnapshotJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[recordID]
	if !ok {
		return fmt.Errorf("record not found: %s", recordID)
	}
	r.PhotoURL = url
	if historySnapshotJSON != "" {
		r.HistorySnapshot = historySnapshotJSON
	}
	return nil
}

func (m *MemStore) GetByBillingRequestID(ctx context.Context, billingRequestID string) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", billingRequestID)
	}
	cp := *r
	return &cp, nil
}

// ApplyPaymentConfirmed is idempotent: once signing_fee_paid is set, a
// repeat event is a no-op, and status never regresses from
// incomplete/active back to pending.
func (m *MemStore) ApplyPaymentConfirmed(ctx context.Context, billingRequestID, paymentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return fmt.Errorf("record not found: %s", billingRequestID)
	}
	if r.SigningFeePaid {
		return nil
	}
	r.SigningFeePaid = true
	r.PaymentID = paymentID
	r.PaymentAt = at
	if r.Status == StatusPending {
		r.Status = StatusIncomplete
	}
	return nil
}

func (m *MemStore) ApplyMandateAuthorised(ctx context.Context, billingRequestID, mandateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return fmt.Errorf("record not found: %s", billingRequestID)
	}
	if r.MandateAuthorised {
		return nil
	}
	r.MandateAuthorised = true
	r.MandateID = mandateID
	return nil
}

func (m *MemStore) ActivateSubscription(ctx context.Context, billingRequestID string, params ActivationParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return fmt.Errorf("record not found: %s", billingRequestID)
	}
	if r.SubscriptionActivated {
		return nil
	}
	r.SubscriptionActivated = true
	r.SubscriptionID = params.SubscriptionID
	r.InterimSubscriptionID = params.InterimSubscriptionID
	r.InterimStart = params.InterimStart
	r.InterimEnd = params.InterimEnd
	r.MonthlyAmount = params.MonthlyAmount
	r.SiblingDiscountApplied = params.SiblingDiscountApplied
	r.Status = StatusActive
	return nil
}

func (m *MemStore) SetSeasonMonthPaymentStatus(ctx context.Context, billingRequestID, monthKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return fmt.Errorf("record not found: %s", billingRequestID)
	}
	if r.MonthlyPaymentStatus == nil {
		r.MonthlyPaymentStatus = make(map[string]string)
	}
	r.MonthlyPaymentStatus[monthKey] = "paid"
	return nil
}

func (m *MemStore) RecordSubscriptionLifecycle(ctx context.Context, billingRequestID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[billingRequestID]
	if !ok {
		return fmt.Errorf("record not found: %s", billingRequestID)
	}
	if state == "cancelled" {
		r.Status = StatusSuspended
	}
	return nil
}

// CountActiveSiblings implements the sibling-discount query:
// other rows with the same parent full name and child surname, a
// different billing_request_id, and registration_status == active.
func (m *MemStore) CountActiveSiblings(ctx context.Context, parentFullName, playerLastName, excludeBillingRequestID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, r := range m.rows {
		if id == excludeBillingRequestID {
			continue
		}
		if r.Status != StatusActive {
			continue
		}
		if !strings.EqualFold(r.ParentFullName, parentFullName) {
			continue
		}
		if !strings.EqualFold(surname(r.ChildFullName), playerLastName) {
			continue
		}
		count++
	}
	return count, nil
}

func surname(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func (m *MemStore) now() time.Time { return time.Now() }
