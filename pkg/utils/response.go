package utils

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/docport/chat-relay/pkg/errors"
)

// RespondJSON writes a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError writes an {"error": message} envelope.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondAppError maps a pkg/errors code to its HTTP status.
func RespondAppError(w http.ResponseWriter, err error) {
	RespondError(w, apperrors.HTTPStatus(err), apperrors.MessageOf(err))
}
