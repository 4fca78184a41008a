package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kiln-ai/kiln-go/internal/log"
)

// errorBody is the API error contract: a human readable message, plus the
// individual messages when a request fails several validations at once.
type errorBody struct {
	Message       string   `json:"message"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Message: fmt.Sprintf(format, args...)})
}

func writeValidationError(w http.ResponseWriter, messages ...string) {
	body := errorBody{Message: "Validation failed."}
	if len(messages) == 1 {
		body.Message = messages[0]
	} else {
		body.ErrorMessages = messages
	}
	writeJSON(w, http.StatusUnprocessableEntity, body)
}

func projectNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, "Project not found. ID: %s", id)
}

func taskNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, "Task not found. ID: %s", id)
}

func runNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, "Run not found. ID: %s", id)
}

// decodeBody parses a JSON request body into v, rejecting unknown garbage
// early with a 422.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body: %v", err)
		return false
	}
	return true
}
