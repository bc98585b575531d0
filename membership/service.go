/*
Package membership manages members and the package approval workflow.

PURPOSE:
  A member exists because a coach sold them a package; this package owns
  that lifecycle. It covers:
  1. Registration: member created together with an initial package
  2. Creation: admin packages are approved-with-creation, coach packages
     start pending with zero ledger effect
  3. Approval: pending -> approved, terminal, admin-only; grants credits,
     sets the member window, and admits the commission split into the
     coach aggregate - exactly once
  4. Edit: approved packages push a signed delta through the aggregate and
     recompute remaining credits from consumption
  5. Delete: approved packages retract their split; the last package
     cascades into member deletion

STATE MACHINE:

    coach creates            admin approves
  ──────────────▶ PENDING ─────────────────▶ APPROVED (terminal)
                     │                           │
                     │ delete (no ledger         │ delete (retract split,
                     │  effect)                  │  fall back or cascade)
                     ▼                           ▼
                  removed                     removed

  There is no rejected state: rejecting a package is deleting it. There is
  no transition back to pending.

ATOMICITY:
  Every operation runs in one TxStore.WithTx: package write, credit grant,
  window update, and aggregate delta commit together or not at all.

SEE ALSO:
  - ledger/commission.go: The split every admission derives from
  - ledger/aggregate.go: The delta discipline edits and deletes follow
*/
package membership

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitnessplus/coach-ledger/ledger"
)

// Service orchestrates member and package mutations over a TxStore.
type Service struct {
	store ledger.TxStore
	now   func() time.Time
}

func NewService(store ledger.TxStore) *Service {
	return &Service{store: store, now: time.Now}
}

// NewServiceAt injects a clock, for tests.
func NewServiceAt(store ledger.TxStore, now func() time.Time) *Service {
	return &Service{store: store, now: now}
}

// =============================================================================
// INPUTS
// =============================================================================

// PackageInput describes one package sale.
type PackageInput struct {
	Price        ledger.Money
	SessionCount int
	DurationDays int
	Rule         ledger.CommissionRule
	Paid         bool
	StartDate    time.Time // zero value means "today"
}

func (in *PackageInput) validate() error {
	if in.Price.IsNegative() {
		return ledger.Invalid("price", "must not be negative")
	}
	if in.SessionCount <= 0 {
		return ledger.Invalid("sessionCount", "must be positive")
	}
	if in.DurationDays <= 0 {
		return ledger.Invalid("durationDays", "must be positive")
	}
	// Dry-run the split so a package can never be stored with a rule that
	// has no derivable commission.
	if _, err := ledger.Split(in.Price, in.Rule, in.SessionCount); err != nil {
		return err
	}
	return nil
}

// PackageEdit carries the editable fields; nil means unchanged.
type PackageEdit struct {
	Price        *ledger.Money
	SessionCount *int
	DurationDays *int
	Rule         *ledger.CommissionRule
	Paid         *bool
}

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterMember creates a member together with their initial package.
// The actor role decides whether that package is admitted immediately
// (admin) or parked pending approval (coach).
func (s *Service) RegisterMember(
	ctx context.Context,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	name string,
	initial PackageInput,
	actor ledger.Role,
) (*ledger.Member, *ledger.Package, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, ledger.Invalid("name", "must not be empty")
	}
	if err := initial.validate(); err != nil {
		return nil, nil, err
	}
	if memberID == "" {
		memberID = ledger.MemberID(uuid.NewString())
	}

	var (
		member *ledger.Member
		pkg    *ledger.Package
	)
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetMember(ctx, coachID, memberID); err == nil {
			return ledger.ErrMemberExists
		}

		member = &ledger.Member{
			ID:           memberID,
			CoachID:      coachID,
			Name:         name,
			NextSequence: 1,
			CreatedAt:    s.now(),
		}
		if err := tx.PutMember(ctx, member); err != nil {
			return err
		}
		if err := ledger.Reconcile(ctx, tx, coachID, ledger.AggregateDelta{ActiveMembers: 1}); err != nil {
			return err
		}

		var err error
		pkg, err = s.createPackageTx(ctx, tx, coachID, memberID, initial, actor)
		if err != nil {
			return err
		}
		member, err = tx.GetMember(ctx, coachID, memberID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return member, pkg, nil
}

// =============================================================================
// PACKAGE CREATION
// =============================================================================

// CreatePackage sells another package to an existing member.
func (s *Service) CreatePackage(
	ctx context.Context,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	in PackageInput,
	actor ledger.Role,
) (*ledger.Package, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var pkg *ledger.Package
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		pkg, err = s.createPackageTx(ctx, tx, coachID, memberID, in, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *Service) createPackageTx(
	ctx context.Context,
	tx ledger.Store,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	in PackageInput,
	actor ledger.Role,
) (*ledger.Package, error) {
	member, err := tx.GetMember(ctx, coachID, memberID)
	if err != nil {
		return nil, err
	}

	start := in.StartDate
	if start.IsZero() {
		start = s.now()
	}
	start = dateOnly(start)

	payment := ledger.PaymentPending
	if in.Paid {
		payment = ledger.PaymentPaid
	}

	pkg := &ledger.Package{
		ID:           ledger.PackageID(uuid.NewString()),
		CoachID:      coachID,
		MemberID:     memberID,
		Price:        in.Price,
		SessionCount: in.SessionCount,
		DurationDays: in.DurationDays,
		Rule:         in.Rule,
		Approval:     ledger.ApprovalPending,
		Payment:      payment,
		Sequence:     member.NextSequence,
		StartDate:    start,
		CreatedAt:    s.now(),
	}

	member.NextSequence++
	member.TotalPackages++
	if err := tx.PutMember(ctx, member); err != nil {
		return nil, err
	}
	if err := tx.PutPackage(ctx, pkg); err != nil {
		return nil, err
	}

	// Privileged creation admits the package in the same transaction.
	if actor == ledger.RoleAdmin {
		if err := s.approveTx(ctx, tx, pkg, string(actor)); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

// =============================================================================
// APPROVAL
// =============================================================================

// ApprovePackage transitions a pending package to approved. Admin-only,
// terminal, and rejected with ErrAlreadyApproved on a second attempt.
func (s *Service) ApprovePackage(
	ctx context.Context,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	packageID ledger.PackageID,
	approver string,
	actor ledger.Role,
) (*ledger.Package, error) {
	if actor != ledger.RoleAdmin {
		return nil, ledger.ErrForbidden
	}

	var pkg *ledger.Package
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		pkg, err = tx.GetPackage(ctx, coachID, packageID)
		if err != nil {
			return err
		}
		if pkg.MemberID != memberID {
			return ledger.ErrPackageNotFound
		}
		return s.approveTx(ctx, tx, pkg, approver)
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// approveTx performs the admission: grant credits, set the member window
// and current-package pointer, and add the split to the coach aggregate.
func (s *Service) approveTx(ctx context.Context, tx ledger.Store, pkg *ledger.Package, approver string) error {
	if pkg.Approval == ledger.ApprovalApproved {
		return ledger.ErrAlreadyApproved
	}

	split, err := ledger.Split(pkg.Price, pkg.Rule, pkg.SessionCount)
	if err != nil {
		return err
	}

	now := s.now()
	pkg.Approval = ledger.ApprovalApproved
	pkg.ApprovedAt = &now
	pkg.ApprovedBy = approver
	if err := tx.PutPackage(ctx, pkg); err != nil {
		return err
	}

	if err := ledger.Grant(ctx, tx, pkg.CoachID, pkg.MemberID, pkg.SessionCount); err != nil {
		return err
	}

	member, err := tx.GetMember(ctx, pkg.CoachID, pkg.MemberID)
	if err != nil {
		return err
	}
	start := pkg.StartDate
	end := pkg.EndDate()
	member.WindowStart = &start
	member.WindowEnd = &end
	member.CurrentPackageID = pkg.ID
	if err := tx.PutMember(ctx, member); err != nil {
		return err
	}

	return ledger.Reconcile(ctx, tx, pkg.CoachID, ledger.AggregateDelta{Commission: split.Company})
}

// =============================================================================
// EDIT
// =============================================================================

// EditPackage changes price, session count, duration, rule, or payment
// status. For an approved package the commission change is applied as a
// signed delta (never a re-add), and remaining credits are recomputed
// from what the member already consumed. Pending packages just store the
// new fields; approval later uses them.
func (s *Service) EditPackage(
	ctx context.Context,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	packageID ledger.PackageID,
	edit PackageEdit,
) (*ledger.Package, error) {
	var pkg *ledger.Package
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		pkg, err = tx.GetPackage(ctx, coachID, packageID)
		if err != nil {
			return err
		}
		if pkg.MemberID != memberID {
			return ledger.ErrPackageNotFound
		}

		oldSessions := pkg.SessionCount
		oldSplit, err := ledger.Split(pkg.Price, pkg.Rule, pkg.SessionCount)
		if err != nil {
			return err
		}

		applyEdit(pkg, edit)

		merged := PackageInput{
			Price:        pkg.Price,
			SessionCount: pkg.SessionCount,
			DurationDays: pkg.DurationDays,
			Rule:         pkg.Rule,
		}
		if err := merged.validate(); err != nil {
			return err
		}

		if err := tx.PutPackage(ctx, pkg); err != nil {
			return err
		}
		if pkg.Approval != ledger.ApprovalApproved {
			return nil
		}

		// Admitted package: push the commission delta, never a re-add.
		newSplit, err := ledger.Split(pkg.Price, pkg.Rule, pkg.SessionCount)
		if err != nil {
			return err
		}
		delta := newSplit.Company.Sub(oldSplit.Company)
		if err := ledger.Reconcile(ctx, tx, coachID, ledger.AggregateDelta{Commission: delta}); err != nil {
			return err
		}

		member, err := tx.GetMember(ctx, coachID, memberID)
		if err != nil {
			return err
		}

		// Credits follow the governing package only. Sessions consumed so
		// far stay consumed: consumed = old - remaining, and the new
		// balance is the new count minus that, floored at zero. A
		// negative consumed means the balance carries surplus stacked
		// from an earlier package; the subtraction preserves it.
		if member.CurrentPackageID == pkg.ID {
			consumed := oldSessions - member.RemainingCredits
			newRemaining := pkg.SessionCount - consumed
			if newRemaining < 0 {
				newRemaining = 0
			}
			if err := ledger.Adjust(ctx, tx, coachID, memberID, newRemaining-member.RemainingCredits); err != nil {
				return err
			}

			member, err = tx.GetMember(ctx, coachID, memberID)
			if err != nil {
				return err
			}
			start := pkg.StartDate
			end := pkg.EndDate()
			member.WindowStart = &start
			member.WindowEnd = &end
			if err := tx.PutMember(ctx, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func applyEdit(pkg *ledger.Package, edit PackageEdit) {
	if edit.Price != nil {
		pkg.Price = *edit.Price
	}
	if edit.SessionCount != nil {
		pkg.SessionCount = *edit.SessionCount
	}
	if edit.DurationDays != nil {
		pkg.DurationDays = *edit.DurationDays
	}
	if edit.Rule != nil {
		pkg.Rule = *edit.Rule
	}
	if edit.Paid != nil {
		if *edit.Paid {
			pkg.Payment = ledger.PaymentPaid
		} else {
			pkg.Payment = ledger.PaymentPending
		}
	}
}

// =============================================================================
// DELETE
// =============================================================================

// DeletePackage removes a package. An approved package retracts its split
// from the aggregate first. Deleting the member's last package cascades
// into deleting the member and reversing their aggregate contribution;
// otherwise the next most recent approved package becomes current and the
// member's window and credits are reset to its full grant.
func (s *Service) DeletePackage(
	ctx context.Context,
	coachID ledger.CoachID,
	memberID ledger.MemberID,
	packageID ledger.PackageID,
) error {
	return s.store.WithTx(ctx, func(tx ledger.Store) error {
		pkg, err := tx.GetPackage(ctx, coachID, packageID)
		if err != nil {
			return err
		}
		if pkg.MemberID != memberID {
			return ledger.ErrPackageNotFound
		}
		member, err := tx.GetMember(ctx, coachID, memberID)
		if err != nil {
			return err
		}

		if pkg.Approval == ledger.ApprovalApproved {
			split, err := ledger.Split(pkg.Price, pkg.Rule, pkg.SessionCount)
			if err != nil {
				return err
			}
			delta := ledger.AggregateDelta{Commission: split.Company.Neg()}
			if err := ledger.Reconcile(ctx, tx, coachID, delta); err != nil {
				return err
			}
		}

		if err := tx.DeletePackage(ctx, coachID, packageID); err != nil {
			return err
		}

		rest, err := tx.ListPackagesByMember(ctx, coachID, memberID)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			// Last package: the member goes with it.
			if err := tx.DeleteMember(ctx, coachID, memberID); err != nil {
				return err
			}
			return ledger.Reconcile(ctx, tx, coachID, ledger.AggregateDelta{ActiveMembers: -1})
		}

		member.TotalPackages--
		if member.CurrentPackageID == pkg.ID {
			fallbackTo(member, rest)
		}
		return tx.PutMember(ctx, member)
	})
}

// fallbackTo rewires the member to the highest-sequence approved package
// among the survivors, restoring its full grant. With only pending
// packages left the member is back to the never-approved state.
func fallbackTo(member *ledger.Member, rest []*ledger.Package) {
	var next *ledger.Package
	for _, p := range rest {
		if p.Approval != ledger.ApprovalApproved {
			continue
		}
		if next == nil || p.Sequence > next.Sequence {
			next = p
		}
	}

	if next == nil {
		member.CurrentPackageID = ""
		member.RemainingCredits = 0
		member.WindowStart = nil
		member.WindowEnd = nil
		return
	}

	start := next.StartDate
	end := next.EndDate()
	member.CurrentPackageID = next.ID
	member.RemainingCredits = next.SessionCount
	member.WindowStart = &start
	member.WindowEnd = &end
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	return s.store.GetMember(ctx, coachID, memberID)
}

func (s *Service) ListMembers(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Member, error) {
	return s.store.ListMembers(ctx, coachID)
}

func (s *Service) GetPackage(ctx context.Context, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	return s.store.GetPackage(ctx, coachID, packageID)
}

func (s *Service) ListPackages(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) ([]*ledger.Package, error) {
	return s.store.ListPackagesByMember(ctx, coachID, memberID)
}

// Aggregate returns the coach's running totals (zero if nothing recorded)
// together with the recomputed commission total for drift auditing.
func (s *Service) Aggregate(ctx context.Context, coachID ledger.CoachID) (*ledger.CoachAggregate, ledger.Money, error) {
	agg, err := s.store.GetAggregate(ctx, coachID)
	if err != nil {
		return nil, ledger.Money{}, err
	}
	if agg == nil {
		agg = &ledger.CoachAggregate{CoachID: coachID, PendingCommissionTotal: ledger.ZeroMoney()}
	}
	check, err := ledger.RecomputeAggregate(ctx, s.store, coachID)
	if err != nil {
		return nil, ledger.Money{}, err
	}
	return agg, check, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
