package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/apperrors"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("api: failed to encode response")
	}
}

// writeError maps an apperrors.Kind to the HTTP status spec.md §7 assigns
// it and writes {error, message}. Validation/Precondition are 400s,
// Transient/Fatal are 500s (the caller already logged the cause), Protocol
// carries its own status, and anything unrecognized is a 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Kind {
		case apperrors.KindValidation, apperrors.KindPrecondition:
			status = http.StatusBadRequest
		case apperrors.KindProtocol:
			status = appErr.Status
		case apperrors.KindAdapter, apperrors.KindTransient, apperrors.KindFatal:
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]string{"error": string(appErr.Kind), "message": appErr.Msg})
		return
	}

	var storErr *apperrors.StorageError
	if errors.As(err, &storErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage", "message": err.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("invalid request body: " + err.Error())
	}
	return nil
}
