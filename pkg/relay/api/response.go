package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/pkg/relay/models"
	"github.com/ericyarmo/buds-relay/pkg/relay/service"
)

// Stable wire error codes. These are part of the client contract and
// must not change.
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeDeviceLimit    = "DEVICE_LIMIT_EXCEEDED"
	CodeCircleLimit    = "CIRCLE_LIMIT_EXCEEDED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// internalErrorMessage is the fixed user-facing message for 500s;
// details go to the logs only.
const internalErrorMessage = "an internal error occurred"

type errorBody struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Details []service.FieldError `json:"details,omitempty"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`, http.StatusInternalServerError)
	}
}

// writeErrorCode writes an error response with an explicit code.
func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string, details []service.FieldError) {
	writeJSON(w, status, errorResponse{
		Error:     errorBody{Code: code, Message: message, Details: details},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeError maps a domain error to its wire code and status. Unmapped
// errors become INTERNAL_ERROR with a fixed message; the cause is
// logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "request validation failed", verr.Fields)

	case errors.Is(err, service.ErrRecipientLimit):
		writeErrorCode(w, r, http.StatusBadRequest, CodeCircleLimit, err.Error(), nil)

	case errors.Is(err, models.ErrDeviceLimit):
		writeErrorCode(w, r, http.StatusBadRequest, CodeDeviceLimit, err.Error(), nil)

	case errors.Is(err, models.ErrDuplicateMessage),
		errors.Is(err, models.ErrInvalidRange):
		writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)

	case errors.Is(err, service.ErrPhoneMismatch),
		errors.Is(err, service.ErrSenderDevice),
		errors.Is(err, service.ErrNotMessageSender),
		errors.Is(err, models.ErrNotJarMember),
		errors.Is(err, models.ErrNoSigningKey),
		errors.Is(err, models.ErrBadSignature):
		writeErrorCode(w, r, http.StatusForbidden, CodeForbidden, err.Error(), nil)

	case errors.Is(err, models.ErrDeviceNotFound),
		errors.Is(err, models.ErrMappingNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrDeliveryNotFound),
		errors.Is(err, models.ErrReceiptNotFound):
		writeErrorCode(w, r, http.StatusNotFound, CodeNotFound, err.Error(), nil)

	default:
		logger.ErrorCtx(r.Context(), "request failed",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
		writeErrorCode(w, r, http.StatusInternalServerError, CodeInternalError, internalErrorMessage, nil)
	}
}
