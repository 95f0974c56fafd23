package cases

import "context"

type FindParams struct {
	Country     string
	Status      Status
	SubmittedBy string
	NeedsSync   *bool
	Q           string
	Limit       int
	Offset      int
}

// CreatedCase is the backend's answer to a create: canonical identifiers
// replacing the provisional ones the client minted.
type CreatedCase struct {
	ID              string
	ReferenceNumber string
}

// Repository is the remote backend. Every call can fail with a network
// error; callers run the result through Classify before deciding whether
// to queue or surface.
type Repository interface {
	Create(ctx context.Context, c Case) (CreatedCase, error)
	AllocateReference(ctx context.Context, country string) (string, error)
	AppendStatus(ctx context.Context, caseID string, e StatusHistoryEntry) error
	Amend(ctx context.Context, caseID string, e AmendmentEntry, values AmendableValues) error
	GetByID(ctx context.Context, id string) (Case, error)
	List(ctx context.Context, params *FindParams) ([]Case, error)
	Ping(ctx context.Context) error
}

// LocalRepository is the device-side snapshot store. It shares its database
// with the pending-operation queue so a snapshot write and its enqueue
// commit or roll back together.
type LocalRepository interface {
	Upsert(ctx context.Context, c Case) error
	GetByID(ctx context.Context, id string) (Case, error)
	List(ctx context.Context, params *FindParams) ([]Case, error)
	SetNeedsSync(ctx context.Context, id string, needsSync bool) error
	Promote(ctx context.Context, provisionalID string, c Case) error
	Delete(ctx context.Context, id string) error
}
