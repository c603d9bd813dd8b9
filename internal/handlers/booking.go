package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotwise/internal/model"
	"slotwise/internal/scheduling"
)

type BookingHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewBookingHandler(svc *scheduling.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type requestBookingBody struct {
	HostID          string `json:"host_id"`
	GuestID         string `json:"guest_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	BookingTypeID   string `json:"booking_type_id"`
}

type bookingItem struct {
	BookingID       string `json:"booking_id"`
	HostID          string `json:"host_id"`
	GuestID         string `json:"guest_id,omitempty"`
	BookingTypeID   string `json:"booking_type_id,omitempty"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	DurationMinutes int    `json:"duration_minutes"`
	ProposedStart   string `json:"proposed_start_time,omitempty"`
	ProposedEnd     string `json:"proposed_end_time,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func bookingToItem(b *model.Booking) bookingItem {
	item := bookingItem{
		BookingID:       b.ID,
		HostID:          b.HostID,
		BookingTypeID:   b.BookingTypeID,
		StartTime:       b.StartAt.UTC().Format(time.RFC3339),
		EndTime:         b.EndAt.UTC().Format(time.RFC3339),
		Status:          string(b.Status),
		DurationMinutes: b.DurationMinutes,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.GuestID != nil {
		item.GuestID = *b.GuestID
	}
	if b.ProposedStartAt != nil {
		item.ProposedStart = b.ProposedStartAt.UTC().Format(time.RFC3339)
	}
	if b.ProposedEndAt != nil {
		item.ProposedEnd = b.ProposedEndAt.UTC().Format(time.RFC3339)
	}
	if b.CancelledAt != nil {
		item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

// Request creates a PENDING booking for a slot the guest picked off the
// public listing.
func (h *BookingHandler) Request(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body requestBookingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	body.HostID = strings.TrimSpace(body.HostID)
	body.GuestID = strings.TrimSpace(body.GuestID)
	body.BookingTypeID = strings.TrimSpace(body.BookingTypeID)
	if body.HostID == "" || body.BookingTypeID == "" {
		http.Error(w, "host_id and booking_type_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, body.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	req := scheduling.BookingRequest{
		HostID:          body.HostID,
		Start:           start,
		DurationMinutes: body.DurationMinutes,
		BookingTypeID:   body.BookingTypeID,
	}
	if body.GuestID != "" {
		req.GuestID = &body.GuestID
	}

	booking, err := h.svc.RequestBooking(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingToItem(booking))
}

type bookingActionBody struct {
	BookingID string `json:"booking_id"`
	ActorID   string `json:"actor_id"`
}

func decodeAction(w http.ResponseWriter, r *http.Request) (bookingActionBody, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return bookingActionBody{}, false
	}
	var body bookingActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return bookingActionBody{}, false
	}
	body.BookingID = strings.TrimSpace(body.BookingID)
	body.ActorID = strings.TrimSpace(body.ActorID)
	if body.ActorID == "" {
		body.ActorID = strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	}
	if body.BookingID == "" || body.ActorID == "" {
		http.Error(w, "booking_id and actor_id required", http.StatusBadRequest)
		return bookingActionBody{}, false
	}
	return body, true
}

func (h *BookingHandler) Accept(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.AcceptBooking(r.Context(), body.BookingID, body.ActorID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingToItem(booking))
}

func (h *BookingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := h.svc.RejectBooking(r.Context(), body.BookingID, body.ActorID); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"booking_id": body.BookingID, "status": string(model.StatusRejected)})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelBooking(r.Context(), body.BookingID, body.ActorID); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"booking_id": body.BookingID, "status": string(model.StatusCancelled)})
}

type rescheduleBody struct {
	BookingID       string `json:"booking_id"`
	ActorID         string `json:"actor_id"`
	NewStartTime    string `json:"new_start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body rescheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	body.BookingID = strings.TrimSpace(body.BookingID)
	body.ActorID = strings.TrimSpace(body.ActorID)
	if body.BookingID == "" || body.ActorID == "" {
		http.Error(w, "booking_id and actor_id required", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, body.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}

	if err := h.svc.ProposeReschedule(r.Context(), body.BookingID, body.ActorID, newStart, body.DurationMinutes); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"booking_id": body.BookingID,
		"status":     string(model.StatusRescheduleProposed),
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostID := strings.TrimSpace(r.URL.Query().Get("host_id"))
	if hostID == "" {
		http.Error(w, "host_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.svc.ListHostBookings(r.Context(), hostID, limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	items := make([]bookingItem, 0, len(bookings))
	for i := range bookings {
		items = append(items, bookingToItem(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, items)
}
