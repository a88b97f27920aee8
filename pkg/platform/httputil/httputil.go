// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "familyledger/pkg/domain-errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err's domain code to a status and writes {"error": code}.
// Server-side failures omit the description so internals do not leak.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	msg := ""
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
		msg = de.Message
	}
	status := dErrors.ToHTTPStatus(code)
	resp := errorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		resp.ErrorDescription = msg
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid json body")
	}
	return nil
}
