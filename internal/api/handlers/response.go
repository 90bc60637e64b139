package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithCode(w, statusCode, string(apperrors.ErrorTypeValidation), message)
}

func respondWithCode(w http.ResponseWriter, statusCode int, code, message string) {
	respondWithJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

// respondWithAppError maps a service error to its HTTP status. Internal
// details are logged and never echoed.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := asAppError(err)
	if !ok {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		respondWithCode(w, http.StatusInternalServerError, string(apperrors.ErrorTypeInternal), "internal server error")
		return
	}

	status := StatusFor(appErr.Type)
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if appErr.Type == apperrors.ErrorTypeInternal {
			message = "internal server error"
		}
	}
	respondWithCode(w, status, string(appErr.Type), message)
}

// StatusFor returns the HTTP status for an error type
func StatusFor(errType apperrors.ErrorType) int {
	switch errType {
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeSlotUnavailable,
		apperrors.ErrorTypeInvalidTransition,
		apperrors.ErrorTypeProposalConflict,
		apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func asAppError(err error) (*apperrors.AppError, bool) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// parseTimeParam reads an optional RFC3339 query parameter
func parseTimeParam(r *http.Request, name string) (time.Time, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func parseIntParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperrors.NewValidationError("invalid " + name + " parameter")
	}
	return value, nil
}
