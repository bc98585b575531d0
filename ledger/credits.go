/*
credits.go - The member credit ledger

PURPOSE:
  Owns every mutation of Member.RemainingCredits. Four operations exist:

    Grant  - package approval admits sessionCount credits
    Debit  - a member participant booked into an event burns one credit
    Refund - a removal where the operator elected to refund
    Adjust - package edit / delete-fallback recomputation

  Nothing else in the codebase writes RemainingCredits. A debit that is
  never matched by an explicit refund is permanent ("credit burned").

IDEMPOTENCY:
  Debit and Refund take a key derived from (eventID, participantID). A
  replayed request with the same key fails with ErrAlreadyApplied and
  leaves the balance untouched. Keys are recorded in the same transaction
  as the balance write, so a rolled-back debit does not poison its key.

NON-NEGATIVITY:
  Debit fails with InsufficientCreditError when the balance is short;
  the balance is checked and written inside one store transaction, so two
  concurrent debits of the last credit cannot both commit.
*/
package ledger

import (
	"context"
	"fmt"
)

// DebitKey is the idempotency key for booking a participant into an event.
func DebitKey(eventID EventID, participantID ParticipantID) string {
	return fmt.Sprintf("debit:%s:%s", eventID, participantID)
}

// RefundKey is the idempotency key for refunding a removed participant.
func RefundKey(eventID EventID, participantID ParticipantID) string {
	return fmt.Sprintf("refund:%s:%s", eventID, participantID)
}

// Grant adds amount credits to the member's balance. Called exactly once
// per package, when it transitions to approved; the approval state machine
// provides the once-only guarantee, so grants carry no idempotency key.
func Grant(ctx context.Context, s Store, coachID CoachID, memberID MemberID, amount int) error {
	if amount <= 0 {
		return Invalid("amount", "grant amount must be positive")
	}
	m, err := s.GetMember(ctx, coachID, memberID)
	if err != nil {
		return err
	}
	m.RemainingCredits += amount
	return s.PutMember(ctx, m)
}

// Debit removes amount credits, failing with InsufficientCreditError when
// the balance is short and ErrAlreadyApplied when key was already used.
func Debit(ctx context.Context, s Store, coachID CoachID, memberID MemberID, amount int, key string) error {
	if amount <= 0 {
		return Invalid("amount", "debit amount must be positive")
	}
	if key != "" {
		applied, err := s.Applied(ctx, key)
		if err != nil {
			return err
		}
		if applied {
			return ErrAlreadyApplied
		}
	}

	m, err := s.GetMember(ctx, coachID, memberID)
	if err != nil {
		return err
	}
	if m.RemainingCredits < amount {
		return &InsufficientCreditError{
			MemberID:  memberID,
			Available: m.RemainingCredits,
			Requested: amount,
		}
	}
	m.RemainingCredits -= amount
	if err := s.PutMember(ctx, m); err != nil {
		return err
	}
	if key != "" {
		return s.MarkApplied(ctx, key)
	}
	return nil
}

// Refund returns amount credits to the member. The refund-or-burn choice
// belongs to the caller; this function only executes a refund that was
// explicitly requested.
func Refund(ctx context.Context, s Store, coachID CoachID, memberID MemberID, amount int, key string) error {
	if amount <= 0 {
		return Invalid("amount", "refund amount must be positive")
	}
	if key != "" {
		applied, err := s.Applied(ctx, key)
		if err != nil {
			return err
		}
		if applied {
			return ErrAlreadyApplied
		}
	}

	m, err := s.GetMember(ctx, coachID, memberID)
	if err != nil {
		return err
	}
	m.RemainingCredits += amount
	if err := s.PutMember(ctx, m); err != nil {
		return err
	}
	if key != "" {
		return s.MarkApplied(ctx, key)
	}
	return nil
}

// Adjust sets the balance by a signed delta, flooring at zero. Reserved
// for the package-edit and delete-fallback recomputations, which replace
// the balance with a value derived from package state rather than moving
// it by a booked session.
func Adjust(ctx context.Context, s Store, coachID CoachID, memberID MemberID, delta int) error {
	if delta == 0 {
		return nil
	}
	m, err := s.GetMember(ctx, coachID, memberID)
	if err != nil {
		return err
	}
	m.RemainingCredits += delta
	if m.RemainingCredits < 0 {
		m.RemainingCredits = 0
	}
	return s.PutMember(ctx, m)
}
