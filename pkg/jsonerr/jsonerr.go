// Package jsonerr renders API errors as JSON bodies.
//
// Every error response has the shape {error, detail?}. The error string is
// stable API surface; handlers derive it from the error kind so clients can
// switch on it without parsing detail text.
package jsonerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netsift/netsift"
)

type Additional interface{}

// Response is the wire shape of an API error.
type Response struct {
	Code    string `json:"error"`
	Message string `json:"detail,omitempty"`
	// Additional must be json serializable or expect errors.
	Additional `json:"additional,omitempty"`
}

// Error works like [http.Error] but writes a Response as the body. Like
// http.Error, the handler still needs a bare return after calling it.
func Error(w http.ResponseWriter, r *Response, httpcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(r)

	w.Write(b)
}

// kind maps error kinds onto (code, HTTP status) pairs. Unknown kinds and
// non-domain errors report as internal.
func kind(err error) (string, int) {
	for _, m := range []struct {
		kind   netsift.ErrorKind
		status int
	}{
		{netsift.ErrBadInput, http.StatusBadRequest},
		{netsift.ErrNotFound, http.StatusNotFound},
		{netsift.ErrUnauthorized, http.StatusUnauthorized},
		{netsift.ErrRateLimited, http.StatusTooManyRequests},
		{netsift.ErrTimeout, http.StatusGatewayTimeout},
		{netsift.ErrUpstream, http.StatusBadGateway},
		{netsift.ErrTransient, http.StatusServiceUnavailable},
		{netsift.ErrCorrupt, http.StatusBadRequest},
	} {
		if errors.Is(err, m.kind) {
			return string(m.kind), m.status
		}
	}
	return string(netsift.ErrInternal), http.StatusInternalServerError
}

// Kind reports the stable code string err's kind implies.
func Kind(err error) string {
	code, _ := kind(err)
	return code
}

// Status reports the HTTP status code err's kind implies.
func Status(err error) int {
	_, status := kind(err)
	return status
}

// From renders err with the status its kind implies.
func From(w http.ResponseWriter, err error) {
	code, status := kind(err)
	Error(w, &Response{Code: code, Message: err.Error()}, status)
}
