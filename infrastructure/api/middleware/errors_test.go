package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/domain/provider"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", job.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get job: %w", job.ErrNotFound), http.StatusNotFound},
		{"duplicate job", job.ErrDuplicateJob, http.StatusConflict},
		{"invalid transition", &job.InvalidTransitionError{From: job.StatusCompleted, To: job.StatusProcessing}, http.StatusConflict},
		{"job not ready", job.ErrJobNotReady, http.StatusBadRequest},
		{"no embeddings", job.ErrNoEmbeddings, http.StatusBadRequest},
		{"unknown column", &job.ColumnNotFoundError{Column: "x"}, http.StatusBadRequest},
		{"configuration", provider.NewConfigurationError("missing key"), http.StatusBadRequest},
		{"provider failure", provider.NewProviderError("embedding", 503, "unavailable", nil), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)

			WriteError(rec, req, tc.err, nil)

			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error message missing from body")
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"n": 1})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}
