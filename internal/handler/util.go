package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeModelError writes err with the status of its kind. Only the client
// safe reason is exposed.
func writeModelError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	writeJSON(w, model.HTTPStatus(kind), map[string]string{
		"error": model.ReasonOf(err),
		"code":  string(kind),
	})
}
