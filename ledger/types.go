/*
Package ledger provides the core credit and commission bookkeeping engine.

PURPOSE:
  This package contains the domain-agnostic heart of the system: money
  arithmetic, the entity records everything else operates on (members,
  packages, coach aggregates, events), the commission calculator, the
  member credit ledger, and the aggregate reconciler.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal
  - CommissionRule: Tagged variant describing how a sale splits
  - Member/Package/CoachAggregate/Event: The persisted entities
  - Typed IDs: Prevent mixing coach, member, package, and event IDs

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Explicit variants: Commission rules and participant kinds are tagged
     enums with exhaustive switches, never string-sniffed records
  3. Pointer-to-current: A member carries CurrentPackageID instead of
     callers re-sorting packages to find "the latest"
  4. Single write discipline: RemainingCredits and the coach aggregate are
     only mutated through the operations in credits.go and aggregate.go

SEE ALSO:
  - commission.go: Split calculation
  - credits.go: Grant/debit/refund/adjust operations
  - aggregate.go: Coach aggregate reconciliation
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount (decimal-backed)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

// ParseMoney parses a decimal string, as persisted by the stores. A bad
// input is an error, never silently zero money.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals; it panics on a bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) String() string                 { return m.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CoachID string
type MemberID string
type PackageID string
type EventID string
type ParticipantID string

// Role is the actor role gating privileged operations.
// Authentication itself lives outside this core; callers tell us who acts.
type Role string

const (
	RoleCoach Role = "coach"
	RoleAdmin Role = "admin"
)

// =============================================================================
// COMMISSION RULE - Tagged variant, one of three kinds
// =============================================================================

type RuleKind string

const (
	// RuleNone means the whole price goes to the coach. A rule with value
	// zero computes the same split; both spellings are intended to mean
	// "100% to the coach", not missing data.
	RuleNone RuleKind = "none"

	// RuleFlatPerSession charges the company a fixed amount per session.
	RuleFlatPerSession RuleKind = "flat_per_session"

	// RulePercentOfPrice gives the company a percentage of the price.
	RulePercentOfPrice RuleKind = "percent_of_price"
)

type CommissionRule struct {
	Kind  RuleKind
	Value decimal.Decimal // per-session amount or percent, by kind
}

func NoRule() CommissionRule {
	return CommissionRule{Kind: RuleNone}
}

func FlatPerSession(amount float64) CommissionRule {
	return CommissionRule{Kind: RuleFlatPerSession, Value: decimal.NewFromFloat(amount)}
}

func PercentOfPrice(percent float64) CommissionRule {
	return CommissionRule{Kind: RulePercentOfPrice, Value: decimal.NewFromFloat(percent)}
}

// CommissionSplit is the result of applying a rule to a package sale.
type CommissionSplit struct {
	Company Money
	Coach   Money
}

// =============================================================================
// PACKAGE - One sale of a bundle of sessions to a member
// =============================================================================

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
)

// PaymentStatus is informational bookkeeping; it never gates the ledger.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

type Package struct {
	ID       PackageID
	CoachID  CoachID
	MemberID MemberID

	Price        Money
	SessionCount int
	DurationDays int
	Rule         CommissionRule

	Approval ApprovalStatus
	Payment  PaymentStatus

	// Sequence is monotone per member, assigned at creation. The current
	// package is the approved one with the highest sequence.
	Sequence int

	// StartDate is the effective start of the credit window.
	StartDate time.Time

	CreatedAt  time.Time
	ApprovedAt *time.Time
	ApprovedBy string
}

// EndDate is the last covered day: start + durationDays - 1.
func (p *Package) EndDate() time.Time {
	return p.StartDate.AddDate(0, 0, p.DurationDays-1)
}

// =============================================================================
// MEMBER - One client of a coach
// =============================================================================

type Member struct {
	ID      MemberID
	CoachID CoachID
	Name    string

	// RemainingCredits is the credit-ledger balance. Mutated only by
	// Grant/Debit/Refund/Adjust in credits.go.
	RemainingCredits int

	// Window of the currently governing package; nil until one is approved.
	WindowStart *time.Time
	WindowEnd   *time.Time

	// CurrentPackageID points at the governing approved package. Empty
	// while no package has been approved.
	CurrentPackageID PackageID

	// TotalPackages counts packages ever associated, approved or pending.
	TotalPackages int

	// NextSequence is the sequence number the next package will receive.
	// Allocated inside the same transaction that inserts the package.
	NextSequence int

	CreatedAt time.Time
}

// =============================================================================
// COACH AGGREGATE - Denormalized running totals
// =============================================================================

// CoachAggregate holds the incrementally maintained totals for one coach.
//
// INVARIANT: PendingCommissionTotal equals the sum of company cuts over all
// currently approved packages attributed to the coach. Every write that
// changes that set goes through Reconcile with a signed delta, in the same
// transaction as the package write.
type CoachAggregate struct {
	CoachID CoachID

	PendingCommissionTotal Money

	// Auxiliary counters, maintained with the same delta discipline.
	ActiveMemberCount      int
	TotalSessionsDelivered int
}

// AggregateDelta is a signed change applied through Reconcile.
type AggregateDelta struct {
	Commission        Money
	ActiveMembers     int
	SessionsDelivered int
}

func (d AggregateDelta) IsZero() bool {
	return d.Commission.IsZero() && d.ActiveMembers == 0 && d.SessionsDelivered == 0
}

// =============================================================================
// EVENT - A scheduled session slot
// =============================================================================

type EventKind string

const (
	// EventPersonal is a one-on-one session; quota is fixed at 1.
	EventPersonal EventKind = "personal"

	// EventGroup is a capacity-limited class; quota is configurable.
	EventGroup EventKind = "group"
)

type ParticipantKind string

const (
	ParticipantMember ParticipantKind = "member"
	ParticipantGuest  ParticipantKind = "guest"
)

type Participant struct {
	ID   ParticipantID
	Kind ParticipantKind

	// Member variant: consumes one credit for the duration of the booking.
	MemberID MemberID

	// Guest variant: never touches any ledger.
	GuestName    string
	GuestContact string

	AddedAt time.Time
}

type Event struct {
	ID      EventID
	CoachID CoachID
	Kind    EventKind

	Date      time.Time
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"

	Quota        int
	Participants []Participant

	CreatedAt time.Time
}

// IsFull reports whether the quota is exhausted.
func (e *Event) IsFull() bool {
	return len(e.Participants) >= e.Quota
}

// HasMember reports whether a member participant with the given ID is booked.
func (e *Event) HasMember(id MemberID) bool {
	for _, p := range e.Participants {
		if p.Kind == ParticipantMember && p.MemberID == id {
			return true
		}
	}
	return false
}

// FindParticipant returns the index of the participant with the given ID.
func (e *Event) FindParticipant(id ParticipantID) (int, bool) {
	for i, p := range e.Participants {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}
