/*
aggregate.go - Coach aggregate reconciliation

PURPOSE:
  The coach aggregate is the one piece of denormalized state in the
  system: a running total of company commission cuts plus two auxiliary
  counters. Denormalized counters drift when call sites each do their own
  delta math, so ALL aggregate mutation funnels through Reconcile.

DISCIPLINE:
  Every write that approves a package, changes an approved package's
  split, or deletes an approved package computes a signed delta and calls
  Reconcile in the same store transaction as the package write. There is
  no other writer of CoachAggregate.

DRIFT CHECK:
  RecomputeAggregate derives the commission total from the set of
  approved packages. The property tests assert incremental == recomputed
  after randomized operation sequences; operators can use it the same way
  when auditing a live aggregate.
*/
package ledger

import "context"

// Reconcile applies a signed delta to the coach's aggregate. Absent
// aggregates read as zero, so the first delta creates the record.
//
// A delta that would drive the commission total or a counter below zero
// indicates corrupted bookkeeping; Reconcile fails with ErrAggregateDrift
// and the surrounding transaction must abort.
func Reconcile(ctx context.Context, s Store, coachID CoachID, delta AggregateDelta) error {
	if delta.IsZero() {
		return nil
	}

	agg, err := s.GetAggregate(ctx, coachID)
	if err != nil {
		return err
	}
	if agg == nil {
		agg = &CoachAggregate{CoachID: coachID, PendingCommissionTotal: ZeroMoney()}
	}

	agg.PendingCommissionTotal = agg.PendingCommissionTotal.Add(delta.Commission)
	agg.ActiveMemberCount += delta.ActiveMembers
	agg.TotalSessionsDelivered += delta.SessionsDelivered

	if agg.PendingCommissionTotal.IsNegative() ||
		agg.ActiveMemberCount < 0 ||
		agg.TotalSessionsDelivered < 0 {
		return ErrAggregateDrift
	}

	return s.PutAggregate(ctx, agg)
}

// RecomputeAggregate derives the commission total from first principles:
// the sum of company cuts over every currently approved package belonging
// to the coach. This is the ground truth the incremental total must match.
func RecomputeAggregate(ctx context.Context, s Store, coachID CoachID) (Money, error) {
	pkgs, err := s.ListPackagesByCoach(ctx, coachID)
	if err != nil {
		return Money{}, err
	}

	total := ZeroMoney()
	for _, p := range pkgs {
		if p.Approval != ApprovalApproved {
			continue
		}
		split, err := Split(p.Price, p.Rule, p.SessionCount)
		if err != nil {
			return Money{}, err
		}
		total = total.Add(split.Company)
	}
	return total, nil
}
