package bags

import (
	"context"
	"time"
)

// =============================================================================
// DIRECTORY - Driver and client identity, owned by another service
// =============================================================================

type PartyKind string

const (
	KindDriver PartyKind = "driver"
	KindClient PartyKind = "client"
)

// Party is a driver or client as the identity service describes them.
type Party struct {
	ID             string
	OrganizationID OrganizationID
	Kind           PartyKind
	Name           string
	Email          string
}

// Directory resolves identities. Lookups of unknown ids return ErrNotFound.
type Directory interface {
	Driver(ctx context.Context, org OrganizationID, id DriverID) (Party, error)
	Client(ctx context.Context, org OrganizationID, id ClientID) (Party, error)
	// Search returns parties of the kind whose name contains query,
	// case-insensitively.
	Search(ctx context.Context, org OrganizationID, kind PartyKind, query string) ([]Party, error)
}

// openDirectory is used when no directory is configured: every id is known
// and named after itself, and searches find nothing.
type openDirectory struct{}

func (openDirectory) Driver(_ context.Context, org OrganizationID, id DriverID) (Party, error) {
	return Party{ID: string(id), OrganizationID: org, Kind: KindDriver, Name: string(id)}, nil
}

func (openDirectory) Client(_ context.Context, org OrganizationID, id ClientID) (Party, error) {
	return Party{ID: string(id), OrganizationID: org, Kind: KindClient, Name: string(id)}, nil
}

func (openDirectory) Search(context.Context, OrganizationID, PartyKind, string) ([]Party, error) {
	return nil, nil
}

// =============================================================================
// NOTIFIER - Delivers issuance codes to clients
// =============================================================================

// IssuanceCode is the message handed to the notifier. It is the only place
// the plain code exists outside the request that created it.
type IssuanceCode struct {
	IssueID        string    `json:"issue_id"`
	OrganizationID string    `json:"organization_id"`
	DriverID       string    `json:"driver_id"`
	ClientID       string    `json:"client_id"`
	ClientEmail    string    `json:"client_email"`
	NumberOfBags   int       `json:"number_of_bags"`
	Code           string    `json:"otp_code"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Notifier interface {
	SendIssuanceCode(ctx context.Context, msg IssuanceCode) error
}

type discardNotifier struct{}

func (discardNotifier) SendIssuanceCode(context.Context, IssuanceCode) error { return nil }
