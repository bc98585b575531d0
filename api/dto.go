/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching domain logic. Domain rules that cannot be
  expressed as tags (commission splits, time windows) stay in the domain
  packages and surface as ValidationError.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map to
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fitnessplus/coach-ledger/booking"
	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/membership"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RuleDTO is the wire form of a commission rule.
type RuleDTO struct {
	Kind  string `json:"kind" validate:"required,oneof=none flat_per_session percent_of_price"`
	Value string `json:"value,omitempty"`
}

// PackageRequest is the package portion of registration and sale requests.
type PackageRequest struct {
	Price        string  `json:"price" validate:"required"`
	SessionCount int     `json:"session_count" validate:"required,gt=0"`
	DurationDays int     `json:"duration_days" validate:"required,gt=0"`
	Rule         RuleDTO `json:"rule" validate:"required"`
	Paid         bool    `json:"paid"`
	StartDate    string  `json:"start_date,omitempty"` // YYYY-MM-DD, defaults to today
}

// RegisterMemberRequest creates a member together with their first package.
type RegisterMemberRequest struct {
	MemberID string         `json:"member_id,omitempty"`
	Name     string         `json:"name" validate:"required"`
	Package  PackageRequest `json:"package" validate:"required"`
}

// EditPackageRequest carries the editable package fields; omitted fields
// are left unchanged.
type EditPackageRequest struct {
	Price        *string  `json:"price,omitempty"`
	SessionCount *int     `json:"session_count,omitempty" validate:"omitempty,gt=0"`
	DurationDays *int     `json:"duration_days,omitempty" validate:"omitempty,gt=0"`
	Rule         *RuleDTO `json:"rule,omitempty"`
	Paid         *bool    `json:"paid,omitempty"`
}

// ApprovePackageRequest names the approver.
type ApprovePackageRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
}

// ParticipantRequest is one requested participant.
type ParticipantRequest struct {
	ID           string `json:"id,omitempty"`
	Kind         string `json:"kind" validate:"required,oneof=member guest"`
	MemberID     string `json:"member_id,omitempty"`
	GuestName    string `json:"guest_name,omitempty"`
	GuestContact string `json:"guest_contact,omitempty"`
}

// CreateEventRequest books a new event slot.
type CreateEventRequest struct {
	Kind         string               `json:"kind" validate:"required,oneof=personal group"`
	Date         string               `json:"date" validate:"required"` // YYYY-MM-DD
	StartTime    string               `json:"start_time" validate:"required"`
	EndTime      string               `json:"end_time" validate:"required"`
	Quota        int                  `json:"quota"`
	Participants []ParticipantRequest `json:"participants" validate:"dive"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID               string  `json:"id"`
	CoachID          string  `json:"coach_id"`
	Name             string  `json:"name"`
	RemainingCredits int     `json:"remaining_credits"`
	WindowStart      *string `json:"window_start,omitempty"`
	WindowEnd        *string `json:"window_end,omitempty"`
	CurrentPackageID string  `json:"current_package_id,omitempty"`
	TotalPackages    int     `json:"total_packages"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// PackageDTO represents a package in API responses.
type PackageDTO struct {
	ID           string  `json:"id"`
	CoachID      string  `json:"coach_id"`
	MemberID     string  `json:"member_id"`
	Price        string  `json:"price"`
	SessionCount int     `json:"session_count"`
	DurationDays int     `json:"duration_days"`
	Rule         RuleDTO `json:"rule"`
	Approval     string  `json:"approval"`
	Payment      string  `json:"payment"`
	Sequence     int     `json:"sequence"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	ApprovedAt   *string `json:"approved_at,omitempty"`
	ApprovedBy   string  `json:"approved_by,omitempty"`
}

// AggregateDTO represents a coach's running totals. Recomputed carries the
// from-scratch commission total so clients can audit for drift.
type AggregateDTO struct {
	CoachID                string `json:"coach_id"`
	PendingCommissionTotal string `json:"pending_commission_total"`
	ActiveMemberCount      int    `json:"active_member_count"`
	TotalSessionsDelivered int    `json:"total_sessions_delivered"`
	Recomputed             string `json:"recomputed"`
	InSync                 bool   `json:"in_sync"`
}

// ParticipantDTO represents a participant in API responses.
type ParticipantDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	MemberID     string `json:"member_id,omitempty"`
	GuestName    string `json:"guest_name,omitempty"`
	GuestContact string `json:"guest_contact,omitempty"`
	AddedAt      string `json:"added_at,omitempty"`
}

// EventDTO represents an event in API responses.
type EventDTO struct {
	ID           string           `json:"id"`
	CoachID      string           `json:"coach_id"`
	Kind         string           `json:"kind"`
	Date         string           `json:"date"`
	StartTime    string           `json:"start_time"`
	EndTime      string           `json:"end_time"`
	Quota        int              `json:"quota"`
	Participants []ParticipantDTO `json:"participants"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func ruleFromDTO(dto RuleDTO) (ledger.CommissionRule, error) {
	kind := ledger.RuleKind(dto.Kind)
	switch kind {
	case ledger.RuleNone:
		return ledger.NoRule(), nil
	case ledger.RuleFlatPerSession, ledger.RulePercentOfPrice:
		if dto.Value == "" {
			return ledger.CommissionRule{}, ledger.Invalid("rule.value", "required for "+dto.Kind)
		}
		value, err := decimal.NewFromString(dto.Value)
		if err != nil {
			return ledger.CommissionRule{}, ledger.Invalid("rule.value", "must be a decimal number")
		}
		return ledger.CommissionRule{Kind: kind, Value: value}, nil
	default:
		return ledger.CommissionRule{}, ledger.Invalid("rule.kind", "unknown rule kind")
	}
}

func ruleToDTO(rule ledger.CommissionRule) RuleDTO {
	dto := RuleDTO{Kind: string(rule.Kind)}
	if rule.Kind != ledger.RuleNone {
		dto.Value = rule.Value.String()
	}
	return dto
}

func parseMoney(field, s string) (ledger.Money, error) {
	value, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.Money{}, ledger.Invalid(field, "must be a decimal number")
	}
	return ledger.Money{Value: value}, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, ledger.Invalid(field, "must be YYYY-MM-DD")
	}
	return t, nil
}

func packageInputFromRequest(req PackageRequest) (membership.PackageInput, error) {
	price, err := parseMoney("package.price", req.Price)
	if err != nil {
		return membership.PackageInput{}, err
	}
	rule, err := ruleFromDTO(req.Rule)
	if err != nil {
		return membership.PackageInput{}, err
	}
	in := membership.PackageInput{
		Price:        price,
		SessionCount: req.SessionCount,
		DurationDays: req.DurationDays,
		Rule:         rule,
		Paid:         req.Paid,
	}
	if req.StartDate != "" {
		start, err := parseDate("package.start_date", req.StartDate)
		if err != nil {
			return membership.PackageInput{}, err
		}
		in.StartDate = start
	}
	return in, nil
}

func participantInputFromRequest(req ParticipantRequest) booking.ParticipantInput {
	return booking.ParticipantInput{
		ID:           ledger.ParticipantID(req.ID),
		Kind:         ledger.ParticipantKind(req.Kind),
		MemberID:     ledger.MemberID(req.MemberID),
		GuestName:    req.GuestName,
		GuestContact: req.GuestContact,
	}
}

func toMemberDTO(m *ledger.Member) MemberDTO {
	dto := MemberDTO{
		ID:               string(m.ID),
		CoachID:          string(m.CoachID),
		Name:             m.Name,
		RemainingCredits: m.RemainingCredits,
		CurrentPackageID: string(m.CurrentPackageID),
		TotalPackages:    m.TotalPackages,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
	if m.WindowStart != nil {
		s := m.WindowStart.Format("2006-01-02")
		dto.WindowStart = &s
	}
	if m.WindowEnd != nil {
		s := m.WindowEnd.Format("2006-01-02")
		dto.WindowEnd = &s
	}
	return dto
}

func toMemberDTOs(members []*ledger.Member) []MemberDTO {
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	return dtos
}

func toPackageDTO(p *ledger.Package) PackageDTO {
	dto := PackageDTO{
		ID:           string(p.ID),
		CoachID:      string(p.CoachID),
		MemberID:     string(p.MemberID),
		Price:        p.Price.String(),
		SessionCount: p.SessionCount,
		DurationDays: p.DurationDays,
		Rule:         ruleToDTO(p.Rule),
		Approval:     string(p.Approval),
		Payment:      string(p.Payment),
		Sequence:     p.Sequence,
		StartDate:    p.StartDate.Format("2006-01-02"),
		EndDate:      p.EndDate().Format("2006-01-02"),
		ApprovedBy:   p.ApprovedBy,
	}
	if p.ApprovedAt != nil {
		s := p.ApprovedAt.Format(time.RFC3339)
		dto.ApprovedAt = &s
	}
	return dto
}

func toPackageDTOs(pkgs []*ledger.Package) []PackageDTO {
	dtos := make([]PackageDTO, len(pkgs))
	for i, p := range pkgs {
		dtos[i] = toPackageDTO(p)
	}
	return dtos
}

func toEventDTO(e *ledger.Event) EventDTO {
	participants := make([]ParticipantDTO, len(e.Participants))
	for i, p := range e.Participants {
		participants[i] = ParticipantDTO{
			ID:           string(p.ID),
			Kind:         string(p.Kind),
			MemberID:     string(p.MemberID),
			GuestName:    p.GuestName,
			GuestContact: p.GuestContact,
			AddedAt:      p.AddedAt.Format(time.RFC3339),
		}
	}
	return EventDTO{
		ID:           string(e.ID),
		CoachID:      string(e.CoachID),
		Kind:         string(e.Kind),
		Date:         e.Date.Format("2006-01-02"),
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		Quota:        e.Quota,
		Participants: participants,
	}
}

func toEventDTOs(events []*ledger.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	return dtos
}

func toAggregateDTO(a *ledger.CoachAggregate, recomputed ledger.Money) AggregateDTO {
	return AggregateDTO{
		CoachID:                string(a.CoachID),
		PendingCommissionTotal: a.PendingCommissionTotal.String(),
		ActiveMemberCount:      a.ActiveMemberCount,
		TotalSessionsDelivered: a.TotalSessionsDelivered,
		Recomputed:             recomputed.String(),
		InSync:                 a.PendingCommissionTotal.Equal(recomputed),
	}
}
