package httpapi

import (
	"encoding/json"
	"net/http"
)

const (
	codeUnauthorized = "unauthorized"
	codeBadRequest   = "bad_request"
	codeNotFound     = "not_found"
	codeInternal     = "internal"
)

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON answers with v. Table views change every hand, so nothing is
// cached.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, ErrorResponse{Code: errCode, Message: msg})
}
