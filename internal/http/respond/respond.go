// Package respond writes JSON responses and AppError bodies.
package respond

import (
	"encoding/json"
	"net/http"

	"live-transcript-service/internal/apperrors"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error renders err as {"error": {...}}. Errors that are not AppErrors are
// answered as INTERNAL_ERROR without leaking their text.
func Error(w http.ResponseWriter, err error) {
	appErr := apperrors.From(err)
	JSON(w, appErr.HTTPStatus, appErr.ToResponse())
}
