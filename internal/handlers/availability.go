package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"slotwise/internal/availability"
	"slotwise/internal/scheduling"
)

type AvailabilityHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAvailabilityHandler(svc *scheduling.Service, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookingTypeItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type availabilityResponse struct {
	HostID           string            `json:"host_id"`
	TimeZone         string            `json:"time_zone"`
	SlotMinutes      int               `json:"slot_minutes"`
	BufferMinutes    int               `json:"buffer_minutes"`
	AllowedDurations []int             `json:"allowed_durations"`
	BookingTypes     []bookingTypeItem `json:"booking_types"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Slots            []slotItem        `json:"slots"`
}

// Get serves the public slot listing for a host. view is "week" or "month",
// anchor is any date inside the desired range, tz is the viewer's timezone.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	hostID := strings.TrimSpace(q.Get("host_id"))
	if hostID == "" {
		http.Error(w, "host_id required", http.StatusBadRequest)
		return
	}
	view := strings.TrimSpace(q.Get("view"))
	if view == "" {
		view = "week"
	}

	got, err := h.svc.ListAvailability(r.Context(), hostID, scheduling.ViewRequest{
		Kind:           availability.ViewKind(view),
		AnchorDate:     strings.TrimSpace(q.Get("anchor")),
		ViewerTimeZone: strings.TrimSpace(q.Get("tz")),
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	resp := availabilityResponse{
		HostID:           got.HostID,
		TimeZone:         got.TimeZone,
		SlotMinutes:      got.SlotMinutes,
		BufferMinutes:    got.BufferMinutes,
		AllowedDurations: got.AllowedDurations,
		BookingTypes:     make([]bookingTypeItem, 0, len(got.BookingTypes)),
		From:             got.From.UTC().Format(time.RFC3339),
		To:               got.To.UTC().Format(time.RFC3339),
		Slots:            make([]slotItem, 0, len(got.Slots)),
	}
	for _, bt := range got.BookingTypes {
		resp.BookingTypes = append(resp.BookingTypes, bookingTypeItem{
			ID: bt.ID, Name: bt.Name, Description: bt.Description,
		})
	}
	for _, s := range got.Slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
