package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	coachA  = ledger.CoachID("coach-a")
	memberA = ledger.MemberID("member-a")
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMember() *ledger.Member {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 89)
	return &ledger.Member{
		ID:               memberA,
		CoachID:          coachA,
		Name:             "Alex Rivera",
		RemainingCredits: 7,
		WindowStart:      &start,
		WindowEnd:        &end,
		CurrentPackageID: "pkg-1",
		TotalPackages:    2,
		NextSequence:     3,
		CreatedAt:        time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC),
	}
}

func samplePackage() *ledger.Package {
	approvedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return &ledger.Package{
		ID:           "pkg-1",
		CoachID:      coachA,
		MemberID:     memberA,
		Price:        ledger.MustParseMoney("1234.56"),
		SessionCount: 10,
		DurationDays: 90,
		Rule:         ledger.PercentOfPrice(33.5),
		Approval:     ledger.ApprovalApproved,
		Payment:      ledger.PaymentPaid,
		Sequence:     1,
		StartDate:    time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:    time.Date(2026, time.February, 28, 9, 0, 0, 0, time.UTC),
		ApprovedAt:   &approvedAt,
		ApprovedBy:   "hq-admin",
	}
}

// =============================================================================
// ROUND-TRIP TESTS
// =============================================================================

func TestMember_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleMember()
	require.NoError(t, s.PutMember(ctx, want))

	got, err := s.GetMember(ctx, coachA, memberA)
	require.NoError(t, err)

	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.RemainingCredits, got.RemainingCredits)
	assert.Equal(t, want.CurrentPackageID, got.CurrentPackageID)
	assert.Equal(t, want.TotalPackages, got.TotalPackages)
	assert.Equal(t, want.NextSequence, got.NextSequence)
	require.NotNil(t, got.WindowStart)
	assert.True(t, want.WindowStart.Equal(*got.WindowStart))
	require.NotNil(t, got.WindowEnd)
	assert.True(t, want.WindowEnd.Equal(*got.WindowEnd))
}

func TestMember_UpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := sampleMember()
	require.NoError(t, s.PutMember(ctx, m))

	m.RemainingCredits = 0
	m.WindowStart, m.WindowEnd = nil, nil
	m.CurrentPackageID = ""
	require.NoError(t, s.PutMember(ctx, m))

	got, err := s.GetMember(ctx, coachA, memberA)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingCredits)
	assert.Nil(t, got.WindowStart)
	assert.Empty(t, got.CurrentPackageID)
}

func TestPackage_RoundTrip_DecimalExact(t *testing.T) {
	// Money and rule values travel as decimal strings; no float drift.
	s := newTestStore(t)
	ctx := context.Background()

	want := samplePackage()
	require.NoError(t, s.PutPackage(ctx, want))

	got, err := s.GetPackage(ctx, coachA, "pkg-1")
	require.NoError(t, err)

	assert.Equal(t, "1234.56", got.Price.String())
	assert.Equal(t, ledger.RulePercentOfPrice, got.Rule.Kind)
	assert.Equal(t, "33.5", got.Rule.Value.String())
	assert.Equal(t, want.Approval, got.Approval)
	assert.Equal(t, want.Sequence, got.Sequence)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, want.ApprovedAt.Equal(*got.ApprovedAt))
	assert.Equal(t, "hq-admin", got.ApprovedBy)
}

func TestEvent_RoundTrip_ParticipantOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := &ledger.Event{
		ID:        "evt-1",
		CoachID:   coachA,
		Kind:      ledger.EventGroup,
		Date:      time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
		StartTime: "18:00",
		EndTime:   "19:00",
		Quota:     4,
		Participants: []ledger.Participant{
			{ID: "p1", Kind: ledger.ParticipantMember, MemberID: memberA},
			{ID: "p2", Kind: ledger.ParticipantGuest, GuestName: "Sam", GuestContact: "sam@example.com"},
			{ID: "p3", Kind: ledger.ParticipantMember, MemberID: "member-b"},
		},
		CreatedAt: time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutEvent(ctx, want))

	got, err := s.GetEvent(ctx, coachA, "evt-1")
	require.NoError(t, err)

	require.Len(t, got.Participants, 3)
	assert.Equal(t, ledger.ParticipantID("p1"), got.Participants[0].ID)
	assert.Equal(t, ledger.ParticipantID("p2"), got.Participants[1].ID)
	assert.Equal(t, ledger.ParticipantID("p3"), got.Participants[2].ID)
	assert.Equal(t, "Sam", got.Participants[1].GuestName)
}

func TestDeleteEvent_RemovesParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &ledger.Event{
		ID: "evt-1", CoachID: coachA, Kind: ledger.EventGroup,
		Date: time.Now().UTC(), StartTime: "10:00", EndTime: "11:00", Quota: 2,
		Participants: []ledger.Participant{
			{ID: "p1", Kind: ledger.ParticipantMember, MemberID: memberA},
		},
	}
	require.NoError(t, s.PutEvent(ctx, e))
	require.NoError(t, s.DeleteEvent(ctx, coachA, "evt-1"))

	_, err := s.GetEvent(ctx, coachA, "evt-1")
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)

	// Re-inserting under the same ID must start with a clean slate.
	e.Participants = nil
	require.NoError(t, s.PutEvent(ctx, e))
	got, err := s.GetEvent(ctx, coachA, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, got.Participants)
}

func TestAggregate_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agg, err := s.GetAggregate(ctx, coachA)
	require.NoError(t, err)
	assert.Nil(t, agg, "absent aggregate reads as nil")

	require.NoError(t, s.PutAggregate(ctx, &ledger.CoachAggregate{
		CoachID:                coachA,
		PendingCommissionTotal: ledger.MustParseMoney("402.75"),
		ActiveMemberCount:      3,
		TotalSessionsDelivered: 17,
	}))

	agg, err = s.GetAggregate(ctx, coachA)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, "402.75", agg.PendingCommissionTotal.String())
	assert.Equal(t, 3, agg.ActiveMemberCount)
	assert.Equal(t, 17, agg.TotalSessionsDelivered)
}

// =============================================================================
// IDEMPOTENCY REGISTRY TESTS
// =============================================================================

func TestAppliedKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	applied, err := s.Applied(ctx, "debit:e1:p1")
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.MarkApplied(ctx, "debit:e1:p1"))

	applied, err = s.Applied(ctx, "debit:e1:p1")
	require.NoError(t, err)
	assert.True(t, applied)

	// The primary key turns a replay into ErrAlreadyApplied.
	assert.ErrorIs(t, s.MarkApplied(ctx, "debit:e1:p1"), ledger.ErrAlreadyApplied)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutMember(ctx, sampleMember()))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		m, err := tx.GetMember(ctx, coachA, memberA)
		if err != nil {
			return err
		}
		m.RemainingCredits = 0
		if err := tx.PutMember(ctx, m); err != nil {
			return err
		}
		if err := tx.MarkApplied(ctx, "key-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m, err := s.GetMember(ctx, coachA, memberA)
	require.NoError(t, err)
	assert.Equal(t, 7, m.RemainingCredits)

	applied, err := s.Applied(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestWithTx_CommitAndReadOwnWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.PutPackage(ctx, samplePackage()); err != nil {
			return err
		}
		// Reads inside the transaction must see the uncommitted write.
		p, err := tx.GetPackage(ctx, coachA, "pkg-1")
		if err != nil {
			return err
		}
		p.SessionCount = 12
		return tx.PutPackage(ctx, p)
	})
	require.NoError(t, err)

	p, err := s.GetPackage(ctx, coachA, "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, 12, p.SessionCount)
}

// =============================================================================
// LIST / RESET TESTS
// =============================================================================

func TestListPackagesByMember_OrderedBySequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, seq := range []int{2, 1, 3} {
		p := samplePackage()
		p.ID = ledger.PackageID(string(rune('a' + seq)))
		p.Sequence = seq
		require.NoError(t, s.PutPackage(ctx, p))
	}

	pkgs, err := s.ListPackagesByMember(ctx, coachA, memberA)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	assert.Equal(t, 1, pkgs[0].Sequence)
	assert.Equal(t, 3, pkgs[2].Sequence)
}

func TestReset_ClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMember(ctx, sampleMember()))
	require.NoError(t, s.PutPackage(ctx, samplePackage()))
	require.NoError(t, s.MarkApplied(ctx, "k"))

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetMember(ctx, coachA, memberA)
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
	_, err = s.GetPackage(ctx, coachA, "pkg-1")
	assert.ErrorIs(t, err, ledger.ErrPackageNotFound)

	applied, err := s.Applied(ctx, "k")
	require.NoError(t, err)
	assert.False(t, applied)
}
