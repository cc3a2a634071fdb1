// Package response writes JSON and problem responses and decodes request
// bodies.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/breatheroute/airnav/internal/api/middleware"
	"github.com/breatheroute/airnav/internal/api/models"
)

// MaxBodyBytes bounds request bodies read by Decode.
const MaxBodyBytes = 64 << 10

// JSON writes data with the given status and the request ID header.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}

// Error writes a problem response for this request.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 validation problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errs))
}

// Forbidden writes a 403.
func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewForbidden(traceID(r), detail))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// Conflict writes a 409.
func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewConflict(traceID(r), detail))
}

// NoRoute writes a 422 for unroutable requests.
func NoRoute(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNoRoute(traceID(r), detail))
}

// InternalError writes a 500.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// ErrBodyTooLarge is returned by Decode for bodies over MaxBodyBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// Decode reads a single JSON object from the request body into v,
// rejecting unknown fields and trailing data.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("malformed JSON: %w", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
