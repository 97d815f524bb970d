package tools

import "context"

// RegistrationPayload is the structured payload for update_reg_details_to_db.
type RegistrationPayload struct {
	RecordID     string // empty for a new record
	ParentName   string
	ChildName    string
	DOB          string // DD-MM-YYYY
	AgeGroup     string
	Gender       string
	Medical      string
	PreviousTeam string
	Relationship string
	Mobile       string
	Email        string
	CommsConsent bool
	ParentDOB    string
	Team         string
	Season       string
	Address      map[string]string
	ChildAddress map[string]string
	PlayerPhone  string
	PlayerEmail  string
}

// RecordStore is C11's registration-record adapter, as seen by the tool
// layer. Implemented by internal/record.
type RecordStore interface {
	CheckExists(ctx context.Context, parentName, childName string) (found bool, recordID string, playedLastSeason bool, team string, ageGroup string, err error)
	CheckKitNeeded(ctx context.Context, team, ageGroup string) (bool, error)
	ShirtNumberAvailable(ctx context.Context, team, ageGroup string, number int) (available bool, conflicts int, err error)
	UpsertRegistration(ctx context.Context, payload RegistrationPayload) (recordID string, action string, err error)
	UpdateKitDetails(ctx context.Context, recordID, size string, number int, kitType string) error
	UpdatePhotoLink(ctx context.Context, recordID, url, historySnapshotJSON string) error
}

// AddressProvider is C11's address-lookup adapter.
type AddressProvider interface {
	Lookup(ctx context.Context, postcode, house string) (formatted string, components map[string]string, confidence string, err error)
	Validate(ctx context.Context, fullAddress string) (inUKArea bool, complete bool, err error)
}

// PaymentProvider is C11's billing adapter (GoCardless-shaped: billing
// request → payment link).
type PaymentProvider interface {
	CreatePaymentToken(ctx context.Context, preferredDay int) (billingRequestID, paymentURL string, signingFeePounds, monthlyPounds float64, err error)
	CreateSignupLink(ctx context.Context, billingRequestID string) (paymentURL string, err error)
}

// SMSProvider is C11's outbound SMS adapter.
type SMSProvider interface {
	Send(ctx context.Context, phone, paymentURL, childName string) (messageID string, err error)
}

// PhotoProcessor is C8's pipeline, invoked from the upload_photo_to_s3 tool.
type PhotoProcessor interface {
	Process(ctx context.Context, tempPath, playerName, team, ageGroup, recordID string) (url, key string, err error)
}
