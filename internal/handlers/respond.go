package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"slotwise/internal/scheduling"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps scheduling sentinels to HTTP statuses and a stable
// machine-readable code. Unexpected errors become an opaque 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := scheduling.ErrorCode(err)
	if code == "" {
		logger.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Error: "internal error"})
		return
	}
	writeJSON(w, statusFor(err), errorBody{Code: code, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduling.ErrRuleNotFound),
		errors.Is(err, scheduling.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrInvalidDuration),
		errors.Is(err, scheduling.ErrInvalidBookingType),
		errors.Is(err, scheduling.ErrInvalidTime):
		return http.StatusBadRequest
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduling.ErrHostOverlap),
		errors.Is(err, scheduling.ErrGuestOverlap),
		errors.Is(err, scheduling.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, scheduling.ErrNotHost),
		errors.Is(err, scheduling.ErrNotAllowed):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
