package response

import (
	"encoding/json"
	"net/http"

	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/logger"
)

// Response is a standardized API response structure
type Response struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success writes a successful response with data
func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	resp := Response{
		Code:    statusCode,
		Success: true,
		Message: message,
		Data:    data,
	}
	WriteJSON(w, statusCode, resp)
}

// Error writes an error response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	resp := Response{
		Code:    statusCode,
		Success: false,
		Message: message,
	}

	if err != nil {
		resp.Error = err.Error()
	}

	WriteJSON(w, statusCode, resp)
}

// FromError maps a component error to its HTTP status and writes the envelope.
// Unexpected errors are logged and surfaced with a generic message.
func FromError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnexpected {
		logger.Error("unexpected error", err, logger.LogContext{})
	}

	resp := Response{
		Code:    status,
		Success: false,
		Message: apperr.MessageOf(err),
		Error:   string(kind),
	}
	WriteJSON(w, status, resp)
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindBusiness:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Envelope builds the success envelope bytes, used where a response must be
// stored and replayed verbatim.
func Envelope(statusCode int, message string, data any) ([]byte, error) {
	return json.Marshal(Response{Code: statusCode, Success: true, Message: message, Data: data})
}

// ErrorEnvelope is Envelope for failures.
func ErrorEnvelope(err error) (int, []byte, error) {
	status := StatusFor(err)
	body, mErr := json.Marshal(Response{
		Code:    status,
		Success: false,
		Message: apperr.MessageOf(err),
		Error:   string(apperr.KindOf(err)),
	})
	return status, body, mErr
}

// WriteJSON writes v as JSON with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.LogContext{Fields: map[string]any{"error": err.Error()}})
	}
}

// WriteRaw replays pre-encoded JSON bytes.
func WriteRaw(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
