// Package httpx writes JSON and RFC7807 problem responses and maps the
// shared error taxonomy onto HTTP status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"

	// MaxBodyBytes bounds decoded request bodies.
	MaxBodyBytes = 1 << 20
)

// errEmptyBody reports a request without a JSON document.
var errEmptyBody = errors.New("request body is empty")

// ProblemDetail is an RFC7807 problem document.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, contentTypeJSON, status, data)
}

// Problem writes a problem document without a type.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	write(w, contentTypeProblem, p.Status, p)
}

func write(w http.ResponseWriter, contentType string, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes at most MaxBodyBytes of the request body into target.
func DecodeJSON(r *http.Request, target any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(target)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}
