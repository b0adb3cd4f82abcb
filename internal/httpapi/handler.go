package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartqueue/booking-service/internal/engine"
	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/store"
	"smartqueue/booking-service/internal/traffic"

	"github.com/google/uuid"
)

type Handler struct {
	engine *engine.Engine
	store  store.BookingStore
}

func NewHandler(eng *engine.Engine, st store.BookingStore) *Handler {
	return &Handler{engine: eng, store: st}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/bookings", h.handleCreateBooking)
	mux.HandleFunc("/api/bookings/", h.handleBookingSubtree)
	mux.HandleFunc("/api/checkin", h.handleCheckin)
	mux.HandleFunc("/api/slots", h.handleSlots)
	mux.HandleFunc("/api/slots/recommended", h.handleRecommended)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/blocked-dates", h.handleBlockedDates)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createBookingRequest struct {
	RequestID string `json:"request_id"`
	SlotID    string `json:"slot_id"`
	ClientID  string `json:"client_id"`
	Notes     string `json:"notes"`
}

func (h *Handler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.ClientID = strings.TrimSpace(req.ClientID)

	if req.RequestID == "" || req.SlotID == "" || req.ClientID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, slot_id, and client_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.SlotID) || !isValidUUID(req.ClientID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, slot_id, and client_id must be UUIDs")
		return
	}

	result, err := h.engine.Reserve(r.Context(), store.ReserveInput{
		RequestID: req.RequestID,
		SlotID:    req.SlotID,
		ClientID:  req.ClientID,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBookingSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	bookingID := parts[0]
	if !isValidUUID(bookingID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "booking_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetBooking(w, r, bookingID)
	case len(parts) == 2 && parts[1] == "wait" && r.Method == http.MethodGet:
		h.handleWaitEstimate(w, r, bookingID)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		h.handleBookingEvents(w, r, bookingID)
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleBookingAction(w, r, bookingID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request, bookingID string) {
	booking, err := h.store.GetBooking(r.Context(), bookingID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type waitResponse struct {
	BookingID   string `json:"booking_id"`
	WaitMinutes int    `json:"wait_minutes"`
}

func (h *Handler) handleWaitEstimate(w http.ResponseWriter, r *http.Request, bookingID string) {
	booking, err := h.store.GetBooking(r.Context(), bookingID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	wait, err := h.engine.Estimate(r.Context(), booking)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, waitResponse{BookingID: bookingID, WaitMinutes: int(wait / time.Minute)})
}

func (h *Handler) handleBookingEvents(w http.ResponseWriter, r *http.Request, bookingID string) {
	events, err := h.store.ListBookingEvents(r.Context(), bookingID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// actionTargets maps URL action names to target statuses.
var actionTargets = map[string]string{
	"approve":  models.StatusApproved,
	"reject":   models.StatusRejected,
	"cancel":   models.StatusCancelled,
	"checkin":  models.StatusCheckedIn,
	"complete": models.StatusCompleted,
}

type bookingActionRequest struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) handleBookingAction(w http.ResponseWriter, r *http.Request, bookingID, action string) {
	target, ok := actionTargets[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req bookingActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	booking, err := h.engine.Transition(r.Context(), store.TransitionInput{
		RequestID: req.RequestID,
		BookingID: bookingID,
		Target:    target,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

type checkinRequest struct {
	RequestID string `json:"request_id"`
	Token     string `json:"token"`
}

// handleCheckin resolves a check-in token (the payload behind the printed QR
// code) to its booking and drives it to checked_in.
func (h *Handler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req checkinRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || !isValidUUID(req.Token) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "token must be a UUID")
		return
	}

	booking, err := h.store.GetBookingByToken(r.Context(), req.Token)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	booking, err = h.engine.Transition(r.Context(), store.TransitionInput{
		RequestID: req.RequestID,
		BookingID: booking.BookingID,
		Target:    models.StatusCheckedIn,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	serviceID, from, to, ok := slotWindowParams(w, r)
	if !ok {
		return
	}

	candidates, err := h.engine.Recommend(r.Context(), serviceID, from, to)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	// Availability view hides fully booked slots unless asked not to; the
	// recommender itself never filters.
	includeFull := r.URL.Query().Get("include_full") == "true"
	if !includeFull {
		visible := candidates[:0]
		for _, candidate := range candidates {
			if candidate.Remaining > 0 {
				visible = append(visible, candidate)
			}
		}
		candidates = visible
	}

	writeJSON(w, http.StatusOK, candidates)
}

func (h *Handler) handleRecommended(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	serviceID, from, to, ok := slotWindowParams(w, r)
	if !ok {
		return
	}

	candidates, err := h.engine.Recommend(r.Context(), serviceID, from, to)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, candidates)
}

func slotWindowParams(w http.ResponseWriter, r *http.Request) (string, time.Time, time.Time, bool) {
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID != "" && !isValidUUID(serviceID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "service_id must be a UUID when provided")
		return "", time.Time{}, time.Time{}, false
	}

	now := time.Now().UTC()
	from := now
	to := now.AddDate(0, 0, 7)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "from must be RFC3339 timestamp")
			return "", time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "to must be RFC3339 timestamp")
			return "", time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	return serviceID, from, to, true
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	services, err := h.store.ListServices(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

type blockedDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (h *Handler) handleBlockedDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		writeError(w, "", http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	var req blockedDateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	if r.Method == http.MethodPost {
		err = h.store.BlockDate(r.Context(), date, req.Reason)
	} else {
		err = h.store.UnblockDate(r.Context(), date)
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrSlotFull):
		return http.StatusConflict, "slot_full", "slot is fully booked, choose another slot"
	case errors.Is(err, store.ErrSlotNotFound):
		return http.StatusNotFound, "slot_not_found", "slot not found"
	case errors.Is(err, store.ErrSlotRetired):
		return http.StatusConflict, "slot_retired", "slot is no longer bookable"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found", "booking not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "booking status does not allow this action"
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusForbidden, "forbidden", "actor role does not allow this action"
	case errors.Is(err, store.ErrDuplicateBooking):
		return http.StatusConflict, "duplicate_booking", "client already holds an active booking for this slot"
	case errors.Is(err, store.ErrDateBlocked):
		return http.StatusConflict, "date_blocked", "this date is not available for booking"
	case errors.Is(err, traffic.ErrUnavailable):
		return http.StatusServiceUnavailable, "history_unavailable", "booking history is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
