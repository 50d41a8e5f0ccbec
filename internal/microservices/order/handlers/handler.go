package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"restohub/internal/domain"
)

// writeJSON renders a response with the given status.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem renders a simplified problem+json error body.
func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	writeJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// writeError maps domain errors to client-correctable responses and hides
// infrastructure detail behind generic failures.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid *domain.InvalidTransitionError
		pin     *domain.PricingInputError
		conn    *domain.ConnectivityError
	)
	switch {
	case errors.As(err, &invalid):
		writeProblem(w, http.StatusConflict, "invalid_transition", invalid.Error())
	case errors.As(err, &pin):
		writeProblem(w, http.StatusBadRequest, "pricing_input", pin.Error())
	case errors.Is(err, domain.ErrUnknownItemStatus):
		writeProblem(w, http.StatusBadRequest, "unknown_item_status", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrLineNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		writeProblem(w, http.StatusConflict, "conflict", "order is being modified concurrently, retry")
	case errors.As(err, &conn):
		writeProblem(w, http.StatusServiceUnavailable, "storage_unavailable", "tenant storage unavailable")
	default:
		writeProblem(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
