/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates members, packages,
	and events that demonstrate specific features.

AVAILABLE SCENARIOS:

	studio-basics:     Two members with approved packages, a few bookings
	pending-approvals: Coach-sold packages waiting in the approval queue
	busy-week:         Group classes near quota plus personal sessions

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register members with their initial packages
 3. Approve packages as admin where the scenario wants active credits
 4. Book events that consume credits

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "studio-basics"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Router wiring and error helpers
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fitnessplus/coach-ledger/booking"
	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/membership"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "studio-basics",
		Name:        "Studio Basics",
		Description: "Two members with approved packages and a few bookings",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Coach-sold packages waiting in the approval queue",
	},
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "Group classes near quota plus personal sessions",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario resets the database and loads the requested scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "Scenario loading not available", nil)
		return
	}

	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "studio-basics":
		err = loadStudioBasics(ctx, h)
	case "pending-approvals":
		err = loadPendingApprovals(ctx, h)
	case "busy-week":
		err = loadBusyWeek(ctx, h)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase wipes all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "Reset not available", nil)
		return
	}
	if err := h.resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const demoCoach = ledger.CoachID("coach-dana")

// loadStudioBasics seeds two members with approved packages and bookings
// that have already consumed a few credits.
func loadStudioBasics(ctx context.Context, h *Handler) error {
	monday := nextMonday(time.Now())

	alex, _, err := h.Members.RegisterMember(ctx, demoCoach, "member-alex", "Alex Rivera",
		membership.PackageInput{
			Price:        ledger.NewMoneyFromInt(1200),
			SessionCount: 12,
			DurationDays: 90,
			Rule:         ledger.PercentOfPrice(20),
			Paid:         true,
		}, ledger.RoleAdmin)
	if err != nil {
		return err
	}

	blair, _, err := h.Members.RegisterMember(ctx, demoCoach, "member-blair", "Blair Chen",
		membership.PackageInput{
			Price:        ledger.NewMoneyFromInt(800),
			SessionCount: 8,
			DurationDays: 60,
			Rule:         ledger.FlatPerSession(15),
			Paid:         true,
		}, ledger.RoleAdmin)
	if err != nil {
		return err
	}

	// A personal session for Alex and a small group class for both.
	_, err = h.Bookings.CreateEvent(ctx, demoCoach, booking.EventInput{
		Kind:      ledger.EventPersonal,
		Date:      monday,
		StartTime: "09:00",
		EndTime:   "10:00",
		Participants: []booking.ParticipantInput{
			{Kind: ledger.ParticipantMember, MemberID: alex.ID},
		},
	})
	if err != nil {
		return err
	}

	_, err = h.Bookings.CreateEvent(ctx, demoCoach, booking.EventInput{
		Kind:      ledger.EventGroup,
		Date:      monday.AddDate(0, 0, 2),
		StartTime: "18:00",
		EndTime:   "19:00",
		Quota:     6,
		Participants: []booking.ParticipantInput{
			{Kind: ledger.ParticipantMember, MemberID: alex.ID},
			{Kind: ledger.ParticipantMember, MemberID: blair.ID},
			{Kind: ledger.ParticipantGuest, GuestName: "Sam Friend", GuestContact: "sam@example.com"},
		},
	})
	return err
}

// loadPendingApprovals seeds coach-sold packages that still need an admin.
func loadPendingApprovals(ctx context.Context, h *Handler) error {
	_, _, err := h.Members.RegisterMember(ctx, demoCoach, "member-casey", "Casey Morgan",
		membership.PackageInput{
			Price:        ledger.NewMoneyFromInt(600),
			SessionCount: 6,
			DurationDays: 45,
			Rule:         ledger.PercentOfPrice(25),
		}, ledger.RoleCoach)
	if err != nil {
		return err
	}

	// One member already active, with a renewal parked pending.
	drew, _, err := h.Members.RegisterMember(ctx, demoCoach, "member-drew", "Drew Okafor",
		membership.PackageInput{
			Price:        ledger.NewMoneyFromInt(1000),
			SessionCount: 10,
			DurationDays: 90,
			Rule:         ledger.FlatPerSession(12),
			Paid:         true,
		}, ledger.RoleAdmin)
	if err != nil {
		return err
	}
	_, err = h.Members.CreatePackage(ctx, demoCoach, drew.ID, membership.PackageInput{
		Price:        ledger.NewMoneyFromInt(1000),
		SessionCount: 10,
		DurationDays: 90,
		Rule:         ledger.FlatPerSession(12),
	}, ledger.RoleCoach)
	return err
}

// loadBusyWeek seeds a group class one seat short of quota plus daily
// personal sessions.
func loadBusyWeek(ctx context.Context, h *Handler) error {
	monday := nextMonday(time.Now())

	var members []ledger.MemberID
	roster := []struct {
		id   ledger.MemberID
		name string
	}{
		{"member-emery", "Emery Liu"},
		{"member-frankie", "Frankie Adams"},
		{"member-gale", "Gale Petrov"},
	}
	for _, entry := range roster {
		m, _, err := h.Members.RegisterMember(ctx, demoCoach, entry.id, entry.name,
			membership.PackageInput{
				Price:        ledger.NewMoneyFromInt(900),
				SessionCount: 10,
				DurationDays: 60,
				Rule:         ledger.PercentOfPrice(15),
				Paid:         true,
			}, ledger.RoleAdmin)
		if err != nil {
			return err
		}
		members = append(members, m.ID)
	}

	// Quota 4, three members booked: one seat left.
	class := booking.EventInput{
		Kind:      ledger.EventGroup,
		Date:      monday.AddDate(0, 0, 1),
		StartTime: "17:30",
		EndTime:   "18:30",
		Quota:     4,
	}
	for _, id := range members {
		class.Participants = append(class.Participants,
			booking.ParticipantInput{Kind: ledger.ParticipantMember, MemberID: id})
	}
	if _, err := h.Bookings.CreateEvent(ctx, demoCoach, class); err != nil {
		return err
	}

	for i, id := range members {
		_, err := h.Bookings.CreateEvent(ctx, demoCoach, booking.EventInput{
			Kind:      ledger.EventPersonal,
			Date:      monday.AddDate(0, 0, i),
			StartTime: "08:00",
			EndTime:   "09:00",
			Participants: []booking.ParticipantInput{
				{Kind: ledger.ParticipantMember, MemberID: id},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func nextMonday(from time.Time) time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
