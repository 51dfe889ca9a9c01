// Package middleware provides HTTP middleware and error translation for
// the API server.
package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/ingest"
)

// errorResponse is the JSON body written for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into an HTTP status and JSON body.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Debug("request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	WriteJSON(w, status, errorResponse{Error: err.Error()})
}

// WriteBadRequest writes a 400 response, used for malformed request
// bodies and parameters.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrDuplicateJob), errors.Is(err, job.ErrDuplicateRow):
		return http.StatusConflict
	case errors.Is(err, job.ErrJobNotReady),
		errors.Is(err, job.ErrNoEmbeddings),
		errors.Is(err, job.ErrEmptyJob),
		errors.Is(err, service.ErrUnknownFormat):
		return http.StatusBadRequest
	}

	var (
		colErr        *job.ColumnNotFoundError
		mismatchErr   *job.RowCountMismatchError
		parseErr      *ingest.ParseError
		cfgErr        *provider.ConfigurationError
		provErr       *provider.ProviderError
		transitionErr *job.InvalidTransitionError
	)
	switch {
	case errors.As(err, &transitionErr):
		return http.StatusConflict
	case errors.As(err, &colErr),
		errors.As(err, &mismatchErr),
		errors.As(err, &parseErr),
		errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &provErr):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
