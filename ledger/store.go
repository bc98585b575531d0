/*
store.go - Persistence interfaces for the core entities

PURPOSE:
  Defines the interface between domain logic and the database. The core is
  storage-shape-agnostic: it needs keyed read-modify-write over members,
  packages, aggregates, and events, plus an idempotency-key registry. No
  range queries, no secondary indexes.

KEY INTERFACES:
  Store:   Keyed entity access + idempotency registry
  TxStore: Store plus WithTx for atomic multi-entity operations

TRANSACTION CONTRACT:
  Every operation touching more than one entity (member + package,
  member + event, package + aggregate) runs inside WithTx. If fn returns
  an error the transaction rolls back completely: no partial credit debit
  without its participant row, no aggregate delta without its package
  write. Two concurrent bookings against a member's last credit cannot
  both commit.

IDEMPOTENCY:
  Debits and refunds carry keys derived from (eventID, participantID).
  Applied/MarkApplied back the replay detection: a duplicate request is
  rejected with ErrAlreadyApplied instead of silently re-executed.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for tests/dev
*/
package ledger

import "context"

// Store provides keyed access to the persisted entities.
//
// Get methods return the package-level not-found sentinels. GetAggregate
// is the exception: an absent aggregate reads as the zero aggregate, since
// totals start at zero.
type Store interface {
	// Members
	GetMember(ctx context.Context, coachID CoachID, memberID MemberID) (*Member, error)
	PutMember(ctx context.Context, m *Member) error
	DeleteMember(ctx context.Context, coachID CoachID, memberID MemberID) error
	ListMembers(ctx context.Context, coachID CoachID) ([]*Member, error)

	// Packages
	GetPackage(ctx context.Context, coachID CoachID, packageID PackageID) (*Package, error)
	PutPackage(ctx context.Context, p *Package) error
	DeletePackage(ctx context.Context, coachID CoachID, packageID PackageID) error
	ListPackagesByMember(ctx context.Context, coachID CoachID, memberID MemberID) ([]*Package, error)
	ListPackagesByCoach(ctx context.Context, coachID CoachID) ([]*Package, error)

	// Aggregates
	GetAggregate(ctx context.Context, coachID CoachID) (*CoachAggregate, error)
	PutAggregate(ctx context.Context, a *CoachAggregate) error

	// Events
	GetEvent(ctx context.Context, coachID CoachID, eventID EventID) (*Event, error)
	PutEvent(ctx context.Context, e *Event) error
	DeleteEvent(ctx context.Context, coachID CoachID, eventID EventID) error
	ListEvents(ctx context.Context, coachID CoachID) ([]*Event, error)

	// Idempotency registry
	Applied(ctx context.Context, key string) (bool, error)
	MarkApplied(ctx context.Context, key string) error
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn against a transactional view of the store. If fn
// returns an error the transaction is rolled back; otherwise committed.
// All mutating operations in membership/ and booking/ go through WithTx.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
