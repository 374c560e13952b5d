package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

// Pagination is attached to list responses.
type Pagination struct {
	HasMore    bool   `json:"has_more"`
	TotalCount int    `json:"total_count"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	OK         bool        `json:"ok"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *errorBody  `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func writePage(w http.ResponseWriter, data any, page *Pagination) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, Pagination: page})
}

// writeError maps an error onto the envelope. internal_error hides the
// cause from the caller; everything is logged in full.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := apperr.CodeOf(err)
	message := apperr.MessageOf(err)
	var details map[string]any
	var ae *apperr.Error
	if errors.As(err, &ae) {
		details = ae.Details
	}
	if code == apperr.CodeInternal {
		logger.Error("internal error", zap.Error(err))
		message = "internal error"
		details = nil
	}
	writeJSON(w, apperr.HTTPStatus(code), envelope{OK: false, Error: &errorBody{
		Code:    string(code),
		Message: message,
		Details: details,
	}})
}

// decodeRaw parses a JSON request body without field checking, for
// free-form PATCH payloads.
func decodeRaw(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidationError, "invalid request body", err)
	}
	return nil
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidationError, "invalid request body", err)
	}
	return nil
}
