package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-boxoffice/internal/apperror"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, code string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WriteJSON writes v with the given status. Encoding failures are
// unrecoverable at this point; the status line is already out.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps an error through the taxonomy: the client sees the
// public message and code, never the internal detail.
func WriteError(w http.ResponseWriter, err error) {
	ae := apperror.From(err)
	WriteJSON(w, ae.Status(), ErrorResponse(ae.Public, ae.Code))
}
