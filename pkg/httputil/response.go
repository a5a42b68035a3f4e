package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
)

// ErrorBody is the JSON error envelope returned to API callers.
type ErrorBody struct {
	ID        string `json:"id,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteSuccess writes a 200 JSON response
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 JSON response
func WriteCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteError maps an error to its HTTP status and writes the JSON error
// envelope. Internal errors carry a correlation id and a generic message so
// that internals are never exposed to callers. The correlation id, if any,
// is returned so the caller can log it.
func WriteError(w http.ResponseWriter, err error) string {
	code := apierror.CodeOf(err)
	status := apierror.HTTPStatus(code)

	// expose only the coded message, never the wrapped cause
	message := err.Error()
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}

	body := ErrorBody{
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if code == apierror.CodeInternal {
		body.ID = uuid.New().String()
		body.Message = "An unexpected error has occurred"
	}

	WriteJSON(w, status, body)
	return body.ID
}

// WriteMessage writes a simple {message, timestamp} JSON body with the
// given status.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
