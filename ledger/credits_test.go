package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	coachA  = ledger.CoachID("coach-a")
	memberA = ledger.MemberID("member-a")
)

func newMemberStore(t *testing.T, credits int) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	err := s.PutMember(context.Background(), &ledger.Member{
		ID:               memberA,
		CoachID:          coachA,
		Name:             "Member A",
		RemainingCredits: credits,
	})
	require.NoError(t, err)
	return s
}

func balance(t *testing.T, s ledger.Store) int {
	t.Helper()
	m, err := s.GetMember(context.Background(), coachA, memberA)
	require.NoError(t, err)
	return m.RemainingCredits
}

// =============================================================================
// GRANT / DEBIT / REFUND
// =============================================================================

func TestGrant_AddsCredits(t *testing.T) {
	s := newMemberStore(t, 0)
	ctx := context.Background()

	require.NoError(t, ledger.Grant(ctx, s, coachA, memberA, 10))
	assert.Equal(t, 10, balance(t, s))
}

func TestGrant_NonPositive_Rejected(t *testing.T) {
	s := newMemberStore(t, 0)
	ctx := context.Background()

	assert.True(t, ledger.IsValidation(ledger.Grant(ctx, s, coachA, memberA, 0)))
	assert.True(t, ledger.IsValidation(ledger.Grant(ctx, s, coachA, memberA, -3)))
	assert.Equal(t, 0, balance(t, s))
}

func TestDebit_ConsumesCredit(t *testing.T) {
	s := newMemberStore(t, 5)
	ctx := context.Background()

	require.NoError(t, ledger.Debit(ctx, s, coachA, memberA, 1, "debit:e1:p1"))
	assert.Equal(t, 4, balance(t, s))
}

func TestDebit_InsufficientBalance(t *testing.T) {
	// GIVEN: A member with a single remaining credit
	// WHEN: Debiting two
	// THEN: InsufficientCreditError with the shortfall, balance untouched

	s := newMemberStore(t, 1)
	ctx := context.Background()

	err := ledger.Debit(ctx, s, coachA, memberA, 2, "debit:e1:p1")
	require.Error(t, err)

	var short *ledger.InsufficientCreditError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Requested)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	assert.Equal(t, 1, balance(t, s))
}

func TestDebit_Replay_AlreadyApplied(t *testing.T) {
	// GIVEN: A keyed debit that already went through
	// WHEN: Replaying the same key
	// THEN: ErrAlreadyApplied, no second debit

	s := newMemberStore(t, 5)
	ctx := context.Background()
	key := ledger.DebitKey("event-1", "participant-1")

	require.NoError(t, ledger.Debit(ctx, s, coachA, memberA, 1, key))
	err := ledger.Debit(ctx, s, coachA, memberA, 1, key)

	assert.ErrorIs(t, err, ledger.ErrAlreadyApplied)
	assert.Equal(t, 4, balance(t, s))
}

func TestRefund_InverseOfDebit(t *testing.T) {
	// GIVEN: A balance of 5 and a booked debit
	// WHEN: Refunding under the matching refund key
	// THEN: The balance is back where it started

	s := newMemberStore(t, 5)
	ctx := context.Background()

	require.NoError(t, ledger.Debit(ctx, s, coachA, memberA, 1,
		ledger.DebitKey("event-1", "p-1")))
	require.NoError(t, ledger.Refund(ctx, s, coachA, memberA, 1,
		ledger.RefundKey("event-1", "p-1")))

	assert.Equal(t, 5, balance(t, s))
}

func TestRefund_Replay_AlreadyApplied(t *testing.T) {
	s := newMemberStore(t, 5)
	ctx := context.Background()
	key := ledger.RefundKey("event-1", "p-1")

	require.NoError(t, ledger.Refund(ctx, s, coachA, memberA, 1, key))
	err := ledger.Refund(ctx, s, coachA, memberA, 1, key)

	assert.ErrorIs(t, err, ledger.ErrAlreadyApplied)
	assert.Equal(t, 6, balance(t, s))
}

func TestDebit_UnknownMember(t *testing.T) {
	s := store.NewMemory()
	err := ledger.Debit(context.Background(), s, coachA, "ghost", 1, "k")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_FloorsAtZero(t *testing.T) {
	s := newMemberStore(t, 3)
	ctx := context.Background()

	require.NoError(t, ledger.Adjust(ctx, s, coachA, memberA, -10))
	assert.Equal(t, 0, balance(t, s))

	require.NoError(t, ledger.Adjust(ctx, s, coachA, memberA, 4))
	assert.Equal(t, 4, balance(t, s))
}

func TestAdjust_ZeroDelta_NoOp(t *testing.T) {
	s := newMemberStore(t, 3)
	require.NoError(t, ledger.Adjust(context.Background(), s, coachA, memberA, 0))
	assert.Equal(t, 3, balance(t, s))
}
