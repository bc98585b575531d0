/*
handlers.go - HTTP API handlers for the coach ledger

PURPOSE:
  Exposes the credit ledger and booking engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members & packages:
    POST   /api/coaches/{coachID}/members                     Register member + initial package
    GET    /api/coaches/{coachID}/members                     List members
    GET    /api/coaches/{coachID}/members/{memberID}          Member detail
    GET    /api/coaches/{coachID}/members/{memberID}/packages Package history
    POST   /api/coaches/{coachID}/members/{memberID}/packages Sell another package
    POST   .../packages/{packageID}/approve                   Approve (admin)
    PUT    .../packages/{packageID}                           Edit
    DELETE .../packages/{packageID}                           Delete with fallback

  Aggregate:
    GET    /api/coaches/{coachID}/aggregate                   Running totals + drift audit

  Events:
    POST   /api/coaches/{coachID}/events                      Book event
    GET    /api/coaches/{coachID}/events                      List events
    GET    /api/coaches/{coachID}/events/{eventID}            Event detail
    POST   .../events/{eventID}/participants                  Join
    DELETE .../participants/{participantID}?refund=           Leave (refund or burn)
    DELETE .../events/{eventID}?refund=                       Cancel event

  Scenarios:
    GET    /api/scenarios                                     List demo scenarios
    POST   /api/scenarios/load                                Load a demo scenario
    POST   /api/scenarios/reset                               Wipe data (dev only)

ACTOR ROLE:
  Privileged operations read the X-Actor-Role header ("coach" or "admin",
  defaulting to coach). Authentication itself is out of scope here; a
  production deployment puts an auth middleware in front and derives the
  role from the session.

ERROR HANDLING:
  Domain errors map onto HTTP status via the ledger helpers:
  - 400: ValidationError, malformed bodies
  - 403: ErrForbidden
  - 404: *NotFound sentinels
  - 409: Conflicts (quota full, duplicate, insufficient credit,
         already approved, already applied, member exists)
  - 500: Everything else, including ErrAggregateDrift

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fitnessplus/coach-ledger/booking"
	"github.com/fitnessplus/coach-ledger/ledger"
	"github.com/fitnessplus/coach-ledger/membership"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all stored data. Implemented by the SQLite store and
// used only by the scenario endpoints.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Members  *membership.Service
	Bookings *booking.Engine

	store    ledger.TxStore
	resetter Resetter
	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services onto HTTP. The resetter may be nil
// when scenario loading is not wanted.
func NewHandler(store ledger.TxStore, resetter Resetter) *Handler {
	return &Handler{
		Members:  membership.NewService(store),
		Bookings: booking.NewEngine(store),
		store:    store,
		resetter: resetter,
		validate: validator.New(),
	}
}

// actorRole reads the acting role from the request. Unknown values fall
// back to coach, the least privileged role.
func actorRole(r *http.Request) ledger.Role {
	if ledger.Role(r.Header.Get("X-Actor-Role")) == ledger.RoleAdmin {
		return ledger.RoleAdmin
	}
	return ledger.RoleCoach
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// RegisterMember creates a member together with their initial package.
// POST /api/coaches/{coachID}/members
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))

	var req RegisterMemberRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	input, err := packageInputFromRequest(req.Package)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	member, pkg, err := h.Members.RegisterMember(r.Context(), coachID,
		ledger.MemberID(req.MemberID), req.Name, input, actorRole(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"member":  toMemberDTO(member),
		"package": toPackageDTO(pkg),
	})
}

// ListMembers returns all of a coach's members.
// GET /api/coaches/{coachID}/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))

	members, err := h.Members.ListMembers(r.Context(), coachID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTOs(members))
}

// GetMember returns one member.
// GET /api/coaches/{coachID}/members/{memberID}
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))

	member, err := h.Members.GetMember(r.Context(), coachID, memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(member))
}

// =============================================================================
// PACKAGE HANDLERS
// =============================================================================

// ListPackages returns a member's package history, oldest first.
// GET /api/coaches/{coachID}/members/{memberID}/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))

	pkgs, err := h.Members.ListPackages(r.Context(), coachID, memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTOs(pkgs))
}

// CreatePackage sells another package to an existing member.
// POST /api/coaches/{coachID}/members/{memberID}/packages
func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))

	var req PackageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	input, err := packageInputFromRequest(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pkg, err := h.Members.CreatePackage(r.Context(), coachID, memberID, input, actorRole(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageDTO(pkg))
}

// ApprovePackage admits a pending package. Admin only.
// POST /api/coaches/{coachID}/members/{memberID}/packages/{packageID}/approve
func (h *Handler) ApprovePackage(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))
	packageID := ledger.PackageID(chi.URLParam(r, "packageID"))

	var req ApprovePackageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	pkg, err := h.Members.ApprovePackage(r.Context(), coachID, memberID, packageID,
		req.ApprovedBy, actorRole(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(pkg))
}

// EditPackage updates package fields, recomputing commission deltas and
// remaining credits for approved packages.
// PUT /api/coaches/{coachID}/members/{memberID}/packages/{packageID}
func (h *Handler) EditPackage(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))
	packageID := ledger.PackageID(chi.URLParam(r, "packageID"))

	var req EditPackageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	edit := membership.PackageEdit{
		SessionCount: req.SessionCount,
		DurationDays: req.DurationDays,
		Paid:         req.Paid,
	}
	if req.Price != nil {
		price, err := parseMoney("price", *req.Price)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		edit.Price = &price
	}
	if req.Rule != nil {
		rule, err := ruleFromDTO(*req.Rule)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		edit.Rule = &rule
	}

	pkg, err := h.Members.EditPackage(r.Context(), coachID, memberID, packageID, edit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(pkg))
}

// DeletePackage removes a package, reversing its aggregate contribution
// and falling back to the previous approved package when it was current.
// DELETE /api/coaches/{coachID}/members/{memberID}/packages/{packageID}
func (h *Handler) DeletePackage(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	memberID := ledger.MemberID(chi.URLParam(r, "memberID"))
	packageID := ledger.PackageID(chi.URLParam(r, "packageID"))

	if err := h.Members.DeletePackage(r.Context(), coachID, memberID, packageID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// AGGREGATE HANDLERS
// =============================================================================

// GetAggregate returns the coach's running totals alongside a recomputed
// commission total so clients can audit for drift.
// GET /api/coaches/{coachID}/aggregate
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))

	agg, recomputed, err := h.Members.Aggregate(r.Context(), coachID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(agg, recomputed))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// CreateEvent books a new event slot, debiting member credits in the same
// transaction.
// POST /api/coaches/{coachID}/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))

	var req CreateEventRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	input := booking.EventInput{
		Kind:      ledger.EventKind(req.Kind),
		Date:      date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Quota:     req.Quota,
	}
	for _, p := range req.Participants {
		input.Participants = append(input.Participants, participantInputFromRequest(p))
	}

	event, err := h.Bookings.CreateEvent(r.Context(), coachID, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(event))
}

// ListEvents returns all of a coach's events.
// GET /api/coaches/{coachID}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))

	events, err := h.Bookings.ListEvents(r.Context(), coachID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// GetEvent returns one event with its participants.
// GET /api/coaches/{coachID}/events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	eventID := ledger.EventID(chi.URLParam(r, "eventID"))

	event, err := h.Bookings.GetEvent(r.Context(), coachID, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(event))
}

// AddParticipant joins a participant into an existing event.
// POST /api/coaches/{coachID}/events/{eventID}/participants
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	eventID := ledger.EventID(chi.URLParam(r, "eventID"))

	var req ParticipantRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	participant, err := h.Bookings.AddParticipant(r.Context(), coachID, eventID,
		participantInputFromRequest(req))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ParticipantDTO{
		ID:           string(participant.ID),
		Kind:         string(participant.Kind),
		MemberID:     string(participant.MemberID),
		GuestName:    participant.GuestName,
		GuestContact: participant.GuestContact,
	})
}

// RemoveParticipant takes a participant off an event. The refund query
// parameter decides whether a member credit comes back or is burned;
// there is no default.
// DELETE /api/coaches/{coachID}/events/{eventID}/participants/{participantID}?refund=true|false
func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	eventID := ledger.EventID(chi.URLParam(r, "eventID"))
	participantID := ledger.ParticipantID(chi.URLParam(r, "participantID"))

	refund, ok := refundParam(w, r)
	if !ok {
		return
	}

	if err := h.Bookings.RemoveParticipant(r.Context(), coachID, eventID, participantID, refund); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "refunded": refund})
}

// CancelEvent deletes an event, releasing every member participant.
// DELETE /api/coaches/{coachID}/events/{eventID}?refund=true|false
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	coachID := ledger.CoachID(chi.URLParam(r, "coachID"))
	eventID := ledger.EventID(chi.URLParam(r, "eventID"))

	refund, ok := refundParam(w, r)
	if !ok {
		return
	}

	if err := h.Bookings.CancelEvent(r.Context(), coachID, eventID, refund); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "refunded": refund})
}

// refundParam parses the mandatory refund query parameter. Forcing the
// caller to spell it out keeps "credit back or burned" an explicit
// decision rather than a default someone trips over.
func refundParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	switch r.URL.Query().Get("refund") {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		writeError(w, http.StatusBadRequest, "refund parameter must be true or false", nil)
		return false, false
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing the 400 response itself on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes with a
// machine-readable code clients can branch on.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case ledger.IsValidation(err):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case ledger.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case ledger.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
