package membership_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/ledger/store"
	"github.com/fitnessplus/coach-ledger/membership"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const coachDana = ledger.CoachID("coach-dana")

var testClock = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*membership.Service, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	svc := membership.NewServiceAt(s, func() time.Time { return testClock })
	return svc, s
}

func standardPackage() membership.PackageInput {
	return membership.PackageInput{
		Price:        ledger.NewMoneyFromInt(1000),
		SessionCount: 10,
		DurationDays: 90,
		Rule:         ledger.PercentOfPrice(40),
		Paid:         true,
	}
}

func mustAggregate(t *testing.T, s ledger.Store, coachID ledger.CoachID) *ledger.CoachAggregate {
	t.Helper()
	agg, err := s.GetAggregate(context.Background(), coachID)
	require.NoError(t, err)
	if agg == nil {
		return &ledger.CoachAggregate{CoachID: coachID, PendingCommissionTotal: ledger.ZeroMoney()}
	}
	return agg
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegisterMember_AdminApprovesImmediately(t *testing.T) {
	// GIVEN: A registration performed by an admin
	// WHEN: Registering with a 10-session package
	// THEN: Credits are granted, the window is set, and the aggregate
	//       carries the company cut and the member count

	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, ledger.ApprovalApproved, pkg.Approval)
	assert.Equal(t, 1, pkg.Sequence)
	assert.Equal(t, 10, member.RemainingCredits)
	assert.Equal(t, pkg.ID, member.CurrentPackageID)
	require.NotNil(t, member.WindowStart)
	require.NotNil(t, member.WindowEnd)
	assert.Equal(t, pkg.StartDate, *member.WindowStart)
	assert.Equal(t, pkg.StartDate.AddDate(0, 0, 89), *member.WindowEnd)

	agg := mustAggregate(t, s, coachDana)
	assert.Equal(t, "400", agg.PendingCommissionTotal.String())
	assert.Equal(t, 1, agg.ActiveMemberCount)
}

func TestRegisterMember_CoachLeavesPackagePending(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	assert.Equal(t, ledger.ApprovalPending, pkg.Approval)
	assert.Equal(t, 0, member.RemainingCredits)
	assert.Empty(t, member.CurrentPackageID)
	assert.Nil(t, member.WindowStart)

	// The member counts as active, but no commission is admitted yet.
	agg := mustAggregate(t, s, coachDana)
	assert.True(t, agg.PendingCommissionTotal.IsZero())
	assert.Equal(t, 1, agg.ActiveMemberCount)
}

func TestRegisterMember_DuplicateID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	_, _, err = svc.RegisterMember(ctx, coachDana, "m1", "Imposter", standardPackage(), ledger.RoleAdmin)
	assert.ErrorIs(t, err, ledger.ErrMemberExists)
}

func TestRegisterMember_InvalidInput_NothingStored(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	bad := standardPackage()
	bad.SessionCount = 0
	_, _, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", bad, ledger.RoleAdmin)
	assert.True(t, ledger.IsValidation(err))

	_, err = s.GetMember(ctx, coachDana, "m1")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

// =============================================================================
// APPROVAL WORKFLOW TESTS
// =============================================================================

func TestApprovePackage_CoachForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	_, err = svc.ApprovePackage(ctx, coachDana, "m1", pkg.ID, "dana", ledger.RoleCoach)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestApprovePackage_AdminAdmitsEffects(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	_, pending, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	approved, err := svc.ApprovePackage(ctx, coachDana, "m1", pending.ID, "hq-admin", ledger.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, ledger.ApprovalApproved, approved.Approval)
	assert.Equal(t, "hq-admin", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	member, err := svc.GetMember(ctx, coachDana, "m1")
	require.NoError(t, err)
	assert.Equal(t, 10, member.RemainingCredits)
	assert.Equal(t, approved.ID, member.CurrentPackageID)

	agg := mustAggregate(t, s, coachDana)
	assert.Equal(t, "400", agg.PendingCommissionTotal.String())
}

func TestApprovePackage_Twice(t *testing.T) {
	// Approval is terminal: a second approval must not double-grant
	// credits or double-count commission.
	svc, s := newTestService(t)
	ctx := context.Background()

	_, pending, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	_, err = svc.ApprovePackage(ctx, coachDana, "m1", pending.ID, "hq", ledger.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.ApprovePackage(ctx, coachDana, "m1", pending.ID, "hq", ledger.RoleAdmin)
	assert.ErrorIs(t, err, ledger.ErrAlreadyApproved)

	member, err := svc.GetMember(ctx, coachDana, "m1")
	require.NoError(t, err)
	assert.Equal(t, 10, member.RemainingCredits)
	assert.Equal(t, "400", mustAggregate(t, s, coachDana).PendingCommissionTotal.String())
}

func TestApprovePackage_WrongMember(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)
	_, _, err = svc.RegisterMember(ctx, coachDana, "m2", "Blair", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	_, err = svc.ApprovePackage(ctx, coachDana, "m2", pkg.ID, "hq", ledger.RoleAdmin)
	assert.ErrorIs(t, err, ledger.ErrPackageNotFound)
}

// =============================================================================
// EDIT TESTS
// =============================================================================

func TestEditPackage_RecomputesCreditsFromConsumption(t *testing.T) {
	// GIVEN: A 10-session approved package with 5 sessions consumed
	// WHEN: Editing down to 8 sessions
	// THEN: consumed stays 5, remaining becomes 3, and the aggregate moves
	//       by the split delta

	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	// Consume five credits the way bookings do.
	for i := 0; i < 5; i++ {
		key := ledger.DebitKey("evt", ledger.ParticipantID(rune('a'+i)))
		require.NoError(t, ledger.Debit(ctx, s, coachDana, member.ID, 1, key))
	}

	eight := 8
	edited, err := svc.EditPackage(ctx, coachDana, member.ID, pkg.ID, membership.PackageEdit{
		SessionCount: &eight,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, edited.SessionCount)

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.RemainingCredits)

	// 40% of 1000 is unchanged by session count under the percent rule.
	assert.Equal(t, "400", mustAggregate(t, s, coachDana).PendingCommissionTotal.String())
}

func TestEditPackage_RemainingFloorsAtZero(t *testing.T) {
	// Editing below what was already consumed cannot go negative.
	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		key := ledger.DebitKey("evt", ledger.ParticipantID(rune('a'+i)))
		require.NoError(t, ledger.Debit(ctx, s, coachDana, member.ID, 1, key))
	}

	five := 5
	_, err = svc.EditPackage(ctx, coachDana, member.ID, pkg.ID, membership.PackageEdit{
		SessionCount: &five,
	})
	require.NoError(t, err)

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.RemainingCredits)
}

func TestEditPackage_PreservesSurplusStackedFromEarlierPackage(t *testing.T) {
	// GIVEN: 3 credits left over from a first package, then a second
	//        10-session package approved on top (balance 13)
	// WHEN: Editing the second package down to 8 sessions
	// THEN: consumed is 10 - 13 = -3, so remaining becomes 8 + 3 = 11;
	//       the surplus survives the edit

	svc, s := newTestService(t)
	ctx := context.Background()

	member, _, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		key := ledger.DebitKey("evt", ledger.ParticipantID(rune('a'+i)))
		require.NoError(t, ledger.Debit(ctx, s, coachDana, member.ID, 1, key))
	}

	renewal, err := svc.CreatePackage(ctx, coachDana, member.ID, standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	stacked, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	require.Equal(t, 13, stacked.RemainingCredits)
	require.Equal(t, renewal.ID, stacked.CurrentPackageID)

	eight := 8
	_, err = svc.EditPackage(ctx, coachDana, member.ID, renewal.ID, membership.PackageEdit{
		SessionCount: &eight,
	})
	require.NoError(t, err)

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, after.RemainingCredits)
}

func TestEditPackage_RuleChange_AppliesCommissionDelta(t *testing.T) {
	// GIVEN: An approved package at 40% of 1000 (company 400)
	// WHEN: Changing the rule to flat 20 per session over 10 sessions
	// THEN: The aggregate moves by -200, not by a fresh re-add

	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	flat := ledger.FlatPerSession(20)
	_, err = svc.EditPackage(ctx, coachDana, member.ID, pkg.ID, membership.PackageEdit{
		Rule: &flat,
	})
	require.NoError(t, err)

	assert.Equal(t, "200", mustAggregate(t, s, coachDana).PendingCommissionTotal.String())
}

func TestEditPackage_PendingPackage_NoLedgerEffects(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	twelve := 12
	edited, err := svc.EditPackage(ctx, coachDana, member.ID, pkg.ID, membership.PackageEdit{
		SessionCount: &twelve,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, edited.SessionCount)

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.RemainingCredits)
	assert.True(t, mustAggregate(t, s, coachDana).PendingCommissionTotal.IsZero())
}

func TestEditPackage_InvalidMerge_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	zero := 0
	_, err = svc.EditPackage(ctx, coachDana, member.ID, pkg.ID, membership.PackageEdit{
		SessionCount: &zero,
	})
	assert.True(t, ledger.IsValidation(err))

	// The failed edit must leave the stored package untouched.
	stored, err := svc.GetPackage(ctx, coachDana, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.SessionCount)
}

// =============================================================================
// DELETE TESTS
// =============================================================================

func TestDeletePackage_LastPackage_RemovesMember(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	member, pkg, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, svc.DeletePackage(ctx, coachDana, member.ID, pkg.ID))

	_, err = svc.GetMember(ctx, coachDana, member.ID)
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)

	agg := mustAggregate(t, s, coachDana)
	assert.True(t, agg.PendingCommissionTotal.IsZero())
	assert.Equal(t, 0, agg.ActiveMemberCount)
}

func TestDeletePackage_CurrentFallsBackToPreviousApproved(t *testing.T) {
	// GIVEN: Two approved packages, the second one current with partial use
	// WHEN: Deleting the current package
	// THEN: The first becomes current again with its full grant restored

	svc, s := newTestService(t)
	ctx := context.Background()

	member, first, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)

	second := standardPackage()
	second.SessionCount = 6
	second.Rule = ledger.FlatPerSession(10)
	secondPkg, err := svc.CreatePackage(ctx, coachDana, member.ID, second, ledger.RoleAdmin)
	require.NoError(t, err)

	// Burn a couple of credits against the second package.
	require.NoError(t, ledger.Debit(ctx, s, coachDana, member.ID, 2, "debit:e:x"))

	require.NoError(t, svc.DeletePackage(ctx, coachDana, member.ID, secondPkg.ID))

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, after.CurrentPackageID)
	assert.Equal(t, 10, after.RemainingCredits, "fallback restores the full grant")
	require.NotNil(t, after.WindowStart)
	assert.Equal(t, first.StartDate, *after.WindowStart)
	assert.Equal(t, 1, after.TotalPackages)

	// Only the first package's 400 remains.
	assert.Equal(t, "400", mustAggregate(t, s, coachDana).PendingCommissionTotal.String())
}

func TestDeletePackage_OnlyPendingLeft_ClearsCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	member, approved, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreatePackage(ctx, coachDana, member.ID, standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	require.NoError(t, svc.DeletePackage(ctx, coachDana, member.ID, approved.ID))

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Empty(t, after.CurrentPackageID)
	assert.Equal(t, 0, after.RemainingCredits)
	assert.Nil(t, after.WindowStart)
}

// =============================================================================
// SEQUENCE TESTS
// =============================================================================

func TestCreatePackage_SequencesAreMonotone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	member, first, err := svc.RegisterMember(ctx, coachDana, "m1", "Alex", standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)
	second, err := svc.CreatePackage(ctx, coachDana, member.ID, standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)
	third, err := svc.CreatePackage(ctx, coachDana, member.ID, standardPackage(), ledger.RoleCoach)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, 3, third.Sequence)

	after, err := svc.GetMember(ctx, coachDana, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.TotalPackages)
}

// =============================================================================
// AGGREGATE PROPERTY TEST
// =============================================================================

// TestAggregate_MatchesRecomputationUnderRandomOps runs randomized
// create/approve/edit/delete sequences and checks after every step that
// the incrementally maintained commission total equals a from-scratch
// recomputation over approved packages.
func TestAggregate_MatchesRecomputationUnderRandomOps(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	type ref struct {
		memberID  ledger.MemberID
		packageID ledger.PackageID
	}
	var pkgs []ref
	nextMember := 0

	randomInput := func() membership.PackageInput {
		in := membership.PackageInput{
			Price:        ledger.NewMoneyFromInt(100 * (1 + rng.Intn(20))),
			SessionCount: 1 + rng.Intn(20),
			DurationDays: 30 + rng.Intn(90),
			Paid:         rng.Intn(2) == 0,
		}
		switch rng.Intn(3) {
		case 0:
			in.Rule = ledger.NoRule()
		case 1:
			in.Rule = ledger.FlatPerSession(float64(rng.Intn(20)))
		default:
			in.Rule = ledger.PercentOfPrice(float64(rng.Intn(101)))
		}
		return in
	}

	for step := 0; step < 300; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(pkgs) == 0:
			nextMember++
			id := ledger.MemberID(fmt.Sprintf("m-%03d", nextMember))
			role := ledger.RoleCoach
			if rng.Intn(2) == 0 {
				role = ledger.RoleAdmin
			}
			m, p, err := svc.RegisterMember(ctx, coachDana, id, "Member", randomInput(), role)
			require.NoError(t, err)
			pkgs = append(pkgs, ref{m.ID, p.ID})

		case op == 1:
			target := pkgs[rng.Intn(len(pkgs))]
			_, err := svc.ApprovePackage(ctx, coachDana, target.memberID, target.packageID, "hq", ledger.RoleAdmin)
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrAlreadyApproved)
			}

		case op == 2:
			target := pkgs[rng.Intn(len(pkgs))]
			sessions := 1 + rng.Intn(20)
			_, err := svc.EditPackage(ctx, coachDana, target.memberID, target.packageID, membership.PackageEdit{
				SessionCount: &sessions,
			})
			require.NoError(t, err)

		default:
			i := rng.Intn(len(pkgs))
			target := pkgs[i]
			require.NoError(t, svc.DeletePackage(ctx, coachDana, target.memberID, target.packageID))
			pkgs = append(pkgs[:i], pkgs[i+1:]...)
		}

		agg := mustAggregate(t, s, coachDana)
		recomputed, err := ledger.RecomputeAggregate(ctx, s, coachDana)
		require.NoError(t, err)
		require.True(t, agg.PendingCommissionTotal.Equal(recomputed),
			"step %d: incremental %s != recomputed %s",
			step, agg.PendingCommissionTotal, recomputed)
	}
}
