package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"slotwise/internal/model"
	"slotwise/internal/scheduling"
)

type HostHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewHostHandler(svc *scheduling.Service, logger *slog.Logger) *HostHandler {
	return &HostHandler{svc: svc, logger: logger}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type windowBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ruleBody struct {
	HostID           string                  `json:"host_id"`
	TimeZone         string                  `json:"time_zone"`
	Weekly           map[string][]windowBody `json:"weekly"`
	AllowedDurations []int                   `json:"allowed_durations"`
	BufferMinutes    int                     `json:"buffer_minutes"`
	Active           bool                    `json:"active"`
}

// parseClock converts "HH:MM" to minutes from midnight; "24:00" marks an
// end-of-day window end.
func parseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if hh < 0 || hh > 24 || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return hh*60 + mm, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func ruleFromBody(body ruleBody) (model.AvailabilityRule, error) {
	rule := model.AvailabilityRule{
		HostID:           body.HostID,
		TimeZone:         body.TimeZone,
		Weekly:           map[time.Weekday][]model.Block{},
		AllowedDurations: body.AllowedDurations,
		BufferMinutes:    body.BufferMinutes,
		Active:           body.Active,
	}
	for name, windows := range body.Weekly {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return model.AvailabilityRule{}, fmt.Errorf("unknown weekday %q", name)
		}
		for _, win := range windows {
			start, err := parseClock(win.Start)
			if err != nil {
				return model.AvailabilityRule{}, err
			}
			end, err := parseClock(win.End)
			if err != nil {
				return model.AvailabilityRule{}, err
			}
			rule.Weekly[wd] = append(rule.Weekly[wd], model.Block{StartMinute: start, EndMinute: end})
		}
	}
	return rule, nil
}

func ruleToBody(rule model.AvailabilityRule) ruleBody {
	body := ruleBody{
		HostID:           rule.HostID,
		TimeZone:         rule.TimeZone,
		Weekly:           map[string][]windowBody{},
		AllowedDurations: rule.AllowedDurations,
		BufferMinutes:    rule.BufferMinutes,
		Active:           rule.Active,
	}
	for name, wd := range weekdayNames {
		for _, b := range rule.Weekly[wd] {
			body.Weekly[name] = append(body.Weekly[name], windowBody{
				Start: formatClock(b.StartMinute),
				End:   formatClock(b.EndMinute),
			})
		}
	}
	return body
}

// EnsureRule provisions the host's default rule; idempotent.
func (h *HostHandler) EnsureRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		HostID string `json:"host_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	body.HostID = strings.TrimSpace(body.HostID)
	if body.HostID == "" {
		http.Error(w, "host_id required", http.StatusBadRequest)
		return
	}
	rule, err := h.svc.EnsureRule(r.Context(), body.HostID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleToBody(rule))
}

func (h *HostHandler) Rule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hostID := strings.TrimSpace(r.URL.Query().Get("host_id"))
		if hostID == "" {
			http.Error(w, "host_id required", http.StatusBadRequest)
			return
		}
		rule, err := h.svc.GetRule(r.Context(), hostID)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ruleToBody(rule))

	case http.MethodPut:
		var body ruleBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		body.HostID = strings.TrimSpace(body.HostID)
		if body.HostID == "" {
			http.Error(w, "host_id required", http.StatusBadRequest)
			return
		}
		rule, err := ruleFromBody(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.svc.SaveRule(r.Context(), rule); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ruleToBody(rule))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type overrideBody struct {
	ID     string       `json:"id,omitempty"`
	HostID string       `json:"host_id"`
	Date   string       `json:"date"`
	Kind   string       `json:"kind"`
	Closed bool         `json:"closed,omitempty"`
	Blocks []windowBody `json:"blocks,omitempty"`
}

func (h *HostHandler) Overrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		hostID := strings.TrimSpace(q.Get("host_id"))
		from := strings.TrimSpace(q.Get("from"))
		to := strings.TrimSpace(q.Get("to"))
		if hostID == "" || from == "" || to == "" {
			http.Error(w, "host_id, from and to required", http.StatusBadRequest)
			return
		}
		overrides, err := h.svc.ListOverrides(r.Context(), hostID, from, to)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		items := make([]overrideBody, 0, len(overrides))
		for _, ov := range overrides {
			item := overrideBody{
				ID: ov.ID, HostID: ov.HostID, Date: ov.Date,
				Kind: string(ov.Kind), Closed: ov.Closed,
			}
			for _, b := range ov.Blocks {
				item.Blocks = append(item.Blocks, windowBody{
					Start: formatClock(b.StartMinute),
					End:   formatClock(b.EndMinute),
				})
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var body overrideBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		body.HostID = strings.TrimSpace(body.HostID)
		if body.HostID == "" {
			http.Error(w, "host_id required", http.StatusBadRequest)
			return
		}
		ov := model.Override{
			ID:     strings.TrimSpace(body.ID),
			HostID: body.HostID,
			Date:   strings.TrimSpace(body.Date),
			Kind:   model.OverrideKind(strings.TrimSpace(body.Kind)),
			Closed: body.Closed,
		}
		for _, win := range body.Blocks {
			start, err := parseClock(win.Start)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			end, err := parseClock(win.End)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ov.Blocks = append(ov.Blocks, model.Block{StartMinute: start, EndMinute: end})
		}
		id, err := h.svc.AddOverride(r.Context(), ov)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type bookingTypeBody struct {
	ID          string `json:"id,omitempty"`
	HostID      string `json:"host_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

func (h *HostHandler) BookingTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hostID := strings.TrimSpace(r.URL.Query().Get("host_id"))
		if hostID == "" {
			http.Error(w, "host_id required", http.StatusBadRequest)
			return
		}
		activeOnly := r.URL.Query().Get("active_only") == "true"
		types, err := h.svc.ListBookingTypes(r.Context(), hostID, activeOnly)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		items := make([]bookingTypeBody, 0, len(types))
		for _, bt := range types {
			items = append(items, bookingTypeBody{
				ID: bt.ID, HostID: bt.HostID, Name: bt.Name,
				Description: bt.Description, Active: bt.Active,
			})
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var body bookingTypeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		body.HostID = strings.TrimSpace(body.HostID)
		body.Name = strings.TrimSpace(body.Name)
		if body.HostID == "" || body.Name == "" {
			http.Error(w, "host_id and name required", http.StatusBadRequest)
			return
		}
		id, err := h.svc.CreateBookingType(r.Context(), model.BookingType{
			ID:          strings.TrimSpace(body.ID),
			HostID:      body.HostID,
			Name:        body.Name,
			Description: body.Description,
			Active:      body.Active,
		})
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
