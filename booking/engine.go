/*
Package booking schedules session events against member credits.

PURPOSE:
  The booking engine owns the Event lifecycle and is the only caller of
  the credit ledger's debit and refund operations:

    CreateEvent       - personal (quota 1, one member whose debit gates
                        creation) or group (configurable quota)
    AddParticipant    - debit-then-append for members, append for guests
    RemoveParticipant - refund-or-burn, chosen explicitly by the caller
    CancelEvent       - the same choice applied to every member, then the
                        event record is deleted

EVENT LIFECYCLE:

    created ──▶ participants added/removed ──▶ cancelled (deleted)

  There is no completed state: completion is the passage of the scheduled
  time and nothing here depends on it. Removing the last participant from
  a group event does NOT delete it; an empty slot stays bookable.

INVARIANTS:
  - len(participants) <= quota after every operation
  - a member appears at most once per event
  - a member debit succeeds before the participant row exists, in the
    same transaction, so neither can exist without the other
  - replaying a booking or refund with the same (eventID, participantID)
    fails with ErrAlreadyApplied instead of moving credits twice

REFUND OR BURN:
  Whether a removal refunds the credit is a business decision, so it is a
  required argument everywhere, never a default. Burned credits stay
  burned.
*/
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fitnessplus/coach-ledger/ledger"
)

// Engine orchestrates event mutations over a TxStore.
type Engine struct {
	store ledger.TxStore
	now   func() time.Time
}

func NewEngine(store ledger.TxStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineAt injects a clock, for tests.
func NewEngineAt(store ledger.TxStore, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// =============================================================================
// INPUTS
// =============================================================================

// ParticipantInput is one requested participant. ID may be supplied by the
// caller so a retried request replays instead of double-booking; when
// empty a fresh ID is generated.
type ParticipantInput struct {
	ID           ledger.ParticipantID
	Kind         ledger.ParticipantKind
	MemberID     ledger.MemberID
	GuestName    string
	GuestContact string
}

func (in *ParticipantInput) validate() error {
	switch in.Kind {
	case ledger.ParticipantMember:
		if in.MemberID == "" {
			return ledger.Invalid("memberId", "required for member participants")
		}
	case ledger.ParticipantGuest:
		if in.GuestName == "" {
			return ledger.Invalid("guestName", "required for guest participants")
		}
	default:
		return ledger.Invalid("kind", "must be member or guest")
	}
	return nil
}

// EventInput describes a new event slot.
type EventInput struct {
	Kind         ledger.EventKind
	Date         time.Time
	StartTime    string // "HH:MM"
	EndTime      string // "HH:MM"
	Quota        int
	Participants []ParticipantInput
}

func (in *EventInput) validate() error {
	if in.Date.IsZero() {
		return ledger.Invalid("date", "required")
	}
	start, err := time.Parse("15:04", in.StartTime)
	if err != nil {
		return ledger.Invalid("startTime", "must be HH:MM")
	}
	end, err := time.Parse("15:04", in.EndTime)
	if err != nil {
		return ledger.Invalid("endTime", "must be HH:MM")
	}
	if !end.After(start) {
		return ledger.Invalid("endTime", "must be after startTime")
	}

	switch in.Kind {
	case ledger.EventPersonal:
		// Quota is forced to 1 regardless of the request; the shape of the
		// participant list is still the caller's responsibility.
		if len(in.Participants) != 1 || in.Participants[0].Kind != ledger.ParticipantMember {
			return ledger.Invalid("participants", "personal events take exactly one member participant")
		}
	case ledger.EventGroup:
		if in.Quota < 1 {
			return ledger.Invalid("quota", "must be at least 1")
		}
		if len(in.Participants) > in.Quota {
			return ledger.Invalid("participants", "more initial participants than quota")
		}
	default:
		return ledger.Invalid("kind", "must be personal or group")
	}

	for i := range in.Participants {
		if err := in.Participants[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateEvent books a new slot. Member debits run in the same transaction
// as the event insert: if any debit fails, the event is not created.
func (e *Engine) CreateEvent(ctx context.Context, coachID ledger.CoachID, in EventInput) (*ledger.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	quota := in.Quota
	if in.Kind == ledger.EventPersonal {
		quota = 1
	}

	event := &ledger.Event{
		ID:        ledger.EventID(uuid.NewString()),
		CoachID:   coachID,
		Kind:      in.Kind,
		Date:      in.Date,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Quota:     quota,
		CreatedAt: e.now(),
	}

	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		for i := range in.Participants {
			if _, err := e.appendParticipantTx(ctx, tx, event, in.Participants[i]); err != nil {
				return err
			}
		}
		return tx.PutEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// =============================================================================
// ADD / REMOVE PARTICIPANTS
// =============================================================================

// AddParticipant books one more participant into an existing event.
func (e *Engine) AddParticipant(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID, in ParticipantInput) (*ledger.Participant, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var added *ledger.Participant
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		event, err := tx.GetEvent(ctx, coachID, eventID)
		if err != nil {
			return err
		}
		added, err = e.appendParticipantTx(ctx, tx, event, in)
		if err != nil {
			return err
		}
		return tx.PutEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// appendParticipantTx enforces quota and member uniqueness, debits member
// credits, and appends the participant to the in-memory event. The caller
// persists the event.
func (e *Engine) appendParticipantTx(ctx context.Context, tx ledger.Store, event *ledger.Event, in ParticipantInput) (*ledger.Participant, error) {
	if event.IsFull() {
		return nil, ledger.ErrQuotaFull
	}

	p := ledger.Participant{
		ID:           in.ID,
		Kind:         in.Kind,
		MemberID:     in.MemberID,
		GuestName:    in.GuestName,
		GuestContact: in.GuestContact,
		AddedAt:      e.now(),
	}
	if p.ID == "" {
		p.ID = ledger.ParticipantID(uuid.NewString())
	}

	if p.Kind == ledger.ParticipantMember {
		key := ledger.DebitKey(event.ID, p.ID)
		// A caller-supplied ID makes the booking replayable; a replay is
		// reported as such, not as a duplicate member.
		if in.ID != "" {
			applied, err := tx.Applied(ctx, key)
			if err != nil {
				return nil, err
			}
			if applied {
				return nil, ledger.ErrAlreadyApplied
			}
		}
		if event.HasMember(p.MemberID) {
			return nil, &ledger.DuplicateParticipantError{EventID: event.ID, MemberID: p.MemberID}
		}
		// Debit first: a failed debit must leave no participant row.
		if err := ledger.Debit(ctx, tx, event.CoachID, p.MemberID, 1, key); err != nil {
			return nil, err
		}
		delta := ledger.AggregateDelta{SessionsDelivered: 1}
		if err := ledger.Reconcile(ctx, tx, event.CoachID, delta); err != nil {
			return nil, err
		}
	}

	event.Participants = append(event.Participants, p)
	return &p, nil
}

// RemoveParticipant takes a participant off the event. For a member the
// caller decides: refund restores the credit, otherwise it stays burned.
func (e *Engine) RemoveParticipant(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID, participantID ledger.ParticipantID, refund bool) error {
	return e.store.WithTx(ctx, func(tx ledger.Store) error {
		event, err := tx.GetEvent(ctx, coachID, eventID)
		if err != nil {
			return err
		}
		idx, ok := event.FindParticipant(participantID)
		if !ok {
			return ledger.ErrParticipantNotFound
		}

		if err := e.releaseParticipantTx(ctx, tx, event, event.Participants[idx], refund); err != nil {
			return err
		}

		event.Participants = append(event.Participants[:idx], event.Participants[idx+1:]...)
		// An emptied group event stays a valid, bookable slot.
		return tx.PutEvent(ctx, event)
	})
}

// releaseParticipantTx handles the credit side of removing one participant.
func (e *Engine) releaseParticipantTx(ctx context.Context, tx ledger.Store, event *ledger.Event, p ledger.Participant, refund bool) error {
	if p.Kind != ledger.ParticipantMember {
		return nil
	}
	if !refund {
		return nil // credit burned
	}
	key := ledger.RefundKey(event.ID, p.ID)
	err := ledger.Refund(ctx, tx, event.CoachID, p.MemberID, 1, key)
	if errors.Is(err, ledger.ErrMemberNotFound) {
		// The member was deleted while still booked; there is no balance
		// to return the credit to, so the refund degrades to a burn.
		return nil
	}
	if err != nil {
		return err
	}
	return ledger.Reconcile(ctx, tx, event.CoachID, ledger.AggregateDelta{SessionsDelivered: -1})
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelEvent applies the refund-or-burn choice to every member
// participant, then deletes the event record. Terminal.
func (e *Engine) CancelEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID, refund bool) error {
	return e.store.WithTx(ctx, func(tx ledger.Store) error {
		event, err := tx.GetEvent(ctx, coachID, eventID)
		if err != nil {
			return err
		}
		for _, p := range event.Participants {
			if err := e.releaseParticipantTx(ctx, tx, event, p, refund); err != nil {
				return err
			}
		}
		return tx.DeleteEvent(ctx, coachID, eventID)
	})
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) GetEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	return e.store.GetEvent(ctx, coachID, eventID)
}

func (e *Engine) ListEvents(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Event, error) {
	return e.store.ListEvents(ctx, coachID)
}
