// Package httpx holds the JSON envelope helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the "error" field.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidID        = "invalid_id"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeTooManyAttempts  = "too_many_attempts"
	CodeInternal         = "internal_error"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// DataResponse wraps a single resource.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse wraps one page of resources.
type ListResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body := []byte("null")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			// avoid writing partial JSON
			http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func JSONError(w http.ResponseWriter, status int, code string, details any) {
	JSON(w, status, ErrorResponse{Error: code, Details: details})
}

// Data writes {"data": v}.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, DataResponse{Data: v})
}

// List writes {"data": items, "pagination": {...}}.
func List(w http.ResponseWriter, items any, p Pagination) {
	JSON(w, http.StatusOK, ListResponse{Data: items, Pagination: p})
}
