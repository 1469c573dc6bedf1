package api

import (
	"encoding/json"
	"net/http"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// visible reports whether the caller may see data of a department. Requests
// that bypassed authentication see everything.
func visible(r *http.Request, department string) bool {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return true
	}
	return claims.CanSeeDepartment(department)
}
