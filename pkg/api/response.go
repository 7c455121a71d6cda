package api

import (
	"encoding/json"
	"net/http"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// errorBody matches spec's {error: code, message: human} shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeClassifiedError maps a pkg/errors.Classified to an HTTP status and
// the standard error body. Any other error is reported as a 500 without
// leaking its text to the caller.
func writeClassifiedError(w http.ResponseWriter, err error) {
	code := ferrors.CodeOf(err)
	status, ok := statusForCode[code]
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, status, string(code), err.Error())
}

var statusForCode = map[ferrors.Code]int{
	ferrors.Transient:    http.StatusBadGateway,
	ferrors.Conflict:     http.StatusConflict,
	ferrors.Invalid:      http.StatusBadRequest,
	ferrors.Unauthorized: http.StatusUnauthorized,
	ferrors.Forbidden:    http.StatusForbidden,
	ferrors.NotFound:     http.StatusNotFound,
	ferrors.RateLimited:  http.StatusTooManyRequests,
	ferrors.Fatal:        http.StatusInternalServerError,
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
