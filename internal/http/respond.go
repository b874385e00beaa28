package httpx

import (
	"encoding/json"
	"mime"
	"net/http"
)

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError answers with {"error": msg, "status": status}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

// writeFile sends payload as a JSON attachment saved under name.
func writeFile(w http.ResponseWriter, name string, payload any) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	writeJSON(w, http.StatusOK, payload)
}
