package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubside/regbot/internal/tools"
)

// PGStore is the production Registration Record adapter, backed by
// Postgres via pgx/v5. It implements the same Store contract as MemStore;
// production wiring picks whichever the config names (see cmd/serve.go).
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore opens a pooled connection to dsn and ensures the registration
// and team_table schemas exist.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("record: connect postgres: %w", err)
	}
	store := &PGStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS team_table (
	team TEXT NOT NULL,
	age_group TEXT NOT NULL,
	kit_required BOOLEAN NOT NULL DEFAULT true,
	PRIMARY KEY (team, age_group)
);

CREATE TABLE IF NOT EXISTS registrations (
	billing_request_id TEXT PRIMARY KEY,
	parent_full_name TEXT NOT NULL DEFAULT '',
	parent_phone TEXT NOT NULL DEFAULT '',
	parent_email TEXT NOT NULL DEFAULT '',
	parent_dob TEXT NOT NULL DEFAULT '',
	parent_address JSONB,
	relationship TEXT NOT NULL DEFAULT '',
	child_full_name TEXT NOT NULL DEFAULT '',
	child_dob TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	medical TEXT NOT NULL DEFAULT '',
	child_address JSONB,
	player_phone TEXT NOT NULL DEFAULT '',
	player_email TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	age_group TEXT NOT NULL DEFAULT '',
	season TEXT NOT NULL DEFAULT '',
	preferred_payment_day INTEGER NOT NULL DEFAULT -1,
	monthly_amount NUMERIC NOT NULL DEFAULT 0,
	kit_size TEXT NOT NULL DEFAULT '',
	shirt_number INTEGER NOT NULL DEFAULT 0,
	kit_type TEXT NOT NULL DEFAULT '',
	photo_url TEXT NOT NULL DEFAULT '',
	signing_fee_paid BOOLEAN NOT NULL DEFAULT false,
	payment_id TEXT NOT NULL DEFAULT '',
	payment_at TIMESTAMPTZ,
	mandate_authorised BOOLEAN NOT NULL DEFAULT false,
	mandate_id TEXT NOT NULL DEFAULT '',
	subscription_activated BOOLEAN NOT NULL DEFAULT false,
	subscription_id TEXT NOT NULL DEFAULT '',
	interim_subscription_id TEXT NOT NULL DEFAULT '',
	interim_start TIMESTAMPTZ,
	interim_end TIMESTAMPTZ,
	sibling_discount_applied BOOLEAN NOT NULL DEFAULT false,
	status TEXT NOT NULL DEFAULT 'pending',
	played_last_season BOOLEAN NOT NULL DEFAULT false,
	monthly_payment_status JSONB NOT NULL DEFAULT '{}',
	history_snapshot TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shirt_numbers (
	team TEXT NOT NULL,
	age_group TEXT NOT NULL,
	number INTEGER NOT NULL,
	PRIMARY KEY (team, age_group, number)
);
`)
	if err != nil {
		return fmt.Errorf("record: ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) ResolveTeam(team, age string) (string, bool) {
	if strings.ToLower(team) == "mens" {
		return "Open Age", true
	}
	var ageGroup string
	err := s.pool.QueryRow(context.Background(),
		`SELECT age_group FROM team_table WHERE lower(team) = lower($1) AND upper(age_group) = upper($2)`,
		team, age).Scan(&ageGroup)
	if err != nil {
		return "", false
	}
	return ageGroup, true
}

func (s *PGStore) CheckExists(ctx context.Context, parentName, childName string) (bool, string, bool, string, string, error) {
	var recordID, team, ageGroup string
	var played bool
	err := s.pool.QueryRow(ctx, `
SELECT billing_request_id, played_last_season, team, age_group
FROM registrations
WHERE lower(parent_full_name) = lower($1) AND lower(child_full_name) = lower($2)
ORDER BY updated_at DESC LIMIT 1`, parentName, childName).Scan(&recordID, &played, &team, &ageGroup)
	if err == pgx.ErrNoRows {
		return false, "", false, "", "", nil
	}
	if err != nil {
		return false, "", false, "", "", fmt.Errorf("record: check exists: %w", err)
	}
	return true, recordID, played, team, ageGroup, nil
}

func (s *PGStore) CheckKitNeeded(ctx context.Context, team, ageGroup string) (bool, error) {
	var kitRequired bool
	err := s.pool.QueryRow(ctx,
		`SELECT kit_required FROM team_table WHERE lower(team) = lower($1) AND upper(age_group) = upper($2)`,
		team, ageGroup).Scan(&kitRequired)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("record: check kit needed: %w", err)
	}
	return kitRequired, nil
}

func (s *PGStore) ShirtNumberAvailable(ctx context.Context, team, ageGroup string, number int) (bool, int, error) {
	var conflicts int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM shirt_numbers WHERE lower(team) = lower($1) AND upper(age_group) = upper($2) AND number = $3`,
		team, ageGroup, number).Scan(&conflicts)
	if err != nil {
		return false, 0, fmt.Errorf("record: shirt number availability: %w", err)
	}
	return conflicts == 0, conflicts, nil
}

func (s *PGStore) UpsertRegistration(ctx context.Context, payload tools.RegistrationPayload) (string, string, error) {
	id := payload.RecordID
	action := "updated"
	if id == "" {
		id = uuid.NewString()
		action = "created"
	}

	parentAddr, _ := json.Marshal(payload.Address)
	childAddr, _ := json.Marshal(payload.ChildAddress)

	tag, err := s.pool.Exec(ctx, `
INSERT INTO registrations (
	billing_request_id, parent_full_name, child_full_name, child_dob, age_group,
	gender, medical, relationship, parent_phone, parent_email, parent_dob,
	team, season, player_phone, player_email, parent_address, child_address, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17, now())
ON CONFLICT (billing_request_id) DO UPDATE SET
	parent_full_name = EXCLUDED.parent_full_name,
	child_full_name = EXCLUDED.child_full_name,
	child_dob = EXCLUDED.child_dob,
	age_group = EXCLUDED.age_group,
	gender = EXCLUDED.gender,
	medical = EXCLUDED.medical,
	relationship = EXCLUDED.relationship,
	parent_phone = EXCLUDED.parent_phone,
	parent_email = EXCLUDED.parent_email,
	parent_dob = EXCLUDED.parent_dob,
	team = EXCLUDED.team,
	season = EXCLUDED.season,
	player_phone = EXCLUDED.player_phone,
	player_email = EXCLUDED.player_email,
	parent_address = EXCLUDED.parent_address,
	child_address = EXCLUDED.child_address,
	updated_at = now()
`, id, payload.ParentName, payload.ChildName, payload.DOB, payload.AgeGroup,
		payload.Gender, payload.Medical, payload.Relationship, payload.Mobile, payload.Email, payload.ParentDOB,
		payload.Team, payload.Season, payload.PlayerPhone, payload.PlayerEmail, parentAddr, childAddr)
	if err != nil {
		return "", "", fmt.Errorf("record: upsert registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		action = "updated"
	}
	return id, action, nil
}

func (s *PGStore) UpdateKitDetails(ctx context.Context, recordID, size string, number int, kitType string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record: update kit details: %w", err)
	}
	defer tx.Rollback(ctx)

	var team, ageGroup string
	if err := tx.QueryRow(ctx, `UPDATE registrations SET kit_size=$2, shirt_number=$3, kit_type=$4, updated_at=now() WHERE billing_request_id=$1 RETURNING team, age_group`,
		recordID, size, number, kitType).Scan(&team, &ageGroup); err != nil {
		return fmt.Errorf("record: update kit details: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO shirt_numbers (team, age_group, number) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
		team, ageGroup, number); err != nil {
		return fmt.Errorf("record: reserve shirt number: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdatePhotoLink(ctx context.Context, recordID, url, historySnapshotJSON string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE registrations SET photo_url=$2, history_snapshot=$3, updated_at=now() WHERE billing_request_id=$1`,
		recordID, url, historySnapshotJSON)
	if err != nil {
		return fmt.Errorf("record: update photo link: %w", err)
	}
	return nil
}

func (s *PGStore) GetByBillingRequestID(ctx context.Context, billingRequestID string) (*Registration, error) {
	r := &Registration{BillingRequestID: billingRequestID, MonthlyPaymentStatus: make(map[string]string)}
	var monthly []byte
	err := s.pool.QueryRow(ctx, `
SELECT parent_full_name, child_full_name, team, age_group, season, status,
	signing_fee_paid, mandate_authorised, subscription_activated,
	sibling_discount_applied, monthly_amount, monthly_payment_status
FROM registrations WHERE billing_request_id = $1`, billingRequestID).Scan(
		&r.ParentFullName, &r.ChildFullName, &r.Team, &r.AgeGroup, &r.Season, &r.Status,
		&r.SigningFeePaid, &r.MandateAuthorised, &r.SubscriptionActivated,
		&r.SiblingDiscountApplied, &r.MonthlyAmount, &monthly)
	if err != nil {
		return nil, fmt.Errorf("record: get by billing request id: %w", err)
	}
	_ = json.Unmarshal(monthly, &r.MonthlyPaymentStatus)
	return r, nil
}

func (s *PGStore) ApplyPaymentConfirmed(ctx context.Context, billingRequestID, paymentID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE registrations SET
	payment_id = $2, payment_at = $3,
	status = CASE WHEN status = 'pending' THEN 'incomplete' ELSE status END,
	updated_at = now()
WHERE billing_request_id = $1 AND signing_fee_paid = false`, billingRequestID, paymentID, at)
	if err != nil {
		return fmt.Errorf("record: apply payment confirmed: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE registrations SET signing_fee_paid = true WHERE billing_request_id = $1`, billingRequestID)
	if err != nil {
		return fmt.Errorf("record: apply payment confirmed: %w", err)
	}
	return nil
}

func (s *PGStore) ApplyMandateAuthorised(ctx context.Context, billingRequestID, mandateID string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE registrations SET mandate_authorised = true, mandate_id = $2, updated_at = now()
WHERE billing_request_id = $1 AND mandate_authorised = false`, billingRequestID, mandateID)
	if err != nil {
		return fmt.Errorf("record: apply mandate authorised: %w", err)
	}
	return nil
}

func (s *PGStore) ActivateSubscription(ctx context.Context, billingRequestID string, params ActivationParams) error {
	var interimStart, interimEnd interface{}
	if params.InterimSubscriptionID != "" {
		interimStart, interimEnd = params.InterimStart, params.InterimEnd
	}
	_, err := s.pool.Exec(ctx, `
UPDATE registrations SET
	subscription_id = $2, interim_subscription_id = $3, interim_start = $4, interim_end = $5,
	monthly_amount = $6, sibling_discount_applied = $7, subscription_activated = true,
	status = 'active', updated_at = now()
WHERE billing_request_id = $1 AND subscription_activated = false`,
		billingRequestID, params.SubscriptionID, params.InterimSubscriptionID, interimStart, interimEnd,
		params.MonthlyAmount, params.SiblingDiscountApplied)
	if err != nil {
		return fmt.Errorf("record: activate subscription: %w", err)
	}
	return nil
}

func (s *PGStore) SetSeasonMonthPaymentStatus(ctx context.Context, billingRequestID, monthKey string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE registrations SET monthly_payment_status = jsonb_set(monthly_payment_status, $2, '"paid"', true), updated_at = now()
WHERE billing_request_id = $1`, billingRequestID, fmt.Sprintf("{%s}", monthKey))
	if err != nil {
		return fmt.Errorf("record: set season month payment status: %w", err)
	}
	return nil
}

func (s *PGStore) RecordSubscriptionLifecycle(ctx context.Context, billingRequestID, state string) error {
	status := ""
	if state == "cancelled" {
		status = StatusSuspended
	}
	if status == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE registrations SET status = $2, updated_at = now() WHERE billing_request_id = $1`,
		billingRequestID, status)
	if err != nil {
		return fmt.Errorf("record: record subscription lifecycle: %w", err)
	}
	return nil
}

// CountActiveSiblings fetches the candidate rows by parent name and status
// in SQL, then filters by surname in Go; Postgres's split_part has no
// negative-index form, and surname extraction (last whitespace token) is
// the same rule memstore.go uses, so both stay in sync.
func (s *PGStore) CountActiveSiblings(ctx context.Context, parentFullName, playerLastName, excludeBillingRequestID string) (int, error) {
	rows, err := s.pool.Query(ctx, `
SELECT child_full_name FROM registrations
WHERE lower(parent_full_name) = lower($1)
  AND billing_request_id != $2
  AND status = 'active'`, parentFullName, excludeBillingRequestID)
	if err != nil {
		return 0, fmt.Errorf("record: count active siblings: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var childFullName string
		if err := rows.Scan(&childFullName); err != nil {
			return 0, fmt.Errorf("record: count active siblings: %w", err)
		}
		if strings.EqualFold(surname(childFullName), playerLastName) {
			count++
		}
	}
	return count, rows.Err()
}
