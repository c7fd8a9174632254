package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health reports process liveness; it never touches the repo tree or
// Redis, so it stays answerable even when config or the lock backend is
// unhappy.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
