package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/tasks"
	"github.com/hyperengineering/nudge/internal/validation"
)

func TestWriteProblem(t *testing.T) {
	tests := []struct {
		status   int
		wantType string
		title    string
	}{
		{http.StatusNotFound, problemBase + "not-found", "Not Found"},
		{http.StatusConflict, problemBase + "conflict", "Conflict"},
		{http.StatusServiceUnavailable, problemBase + "service-unavailable", "Service Unavailable"},
		{http.StatusTeapot, problemBase + "unknown", "I'm a teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/tasks", nil)

			WriteProblem(w, r, tt.status, "detail text")

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var p Problem
			if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			want := Problem{Type: tt.wantType, Title: tt.title, Status: tt.status, Detail: "detail text", Instance: "/api/v1/users/1/tasks"}
			if p != want {
				t.Errorf("problem = %+v, want %+v", p, want)
			}
		})
	}
}

func TestWriteProblemWithErrors(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil)
	errs := []validation.ValidationError{{Field: "text", Message: "is required"}}

	WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != problemBase+"validation-error" || len(p.Errors) != 1 || p.Errors[0].Field != "text" {
		t.Errorf("problem = %+v", p)
	}
}

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{"terminal", store.ErrTerminal, http.StatusConflict},
		{"out of order", store.ErrOutOfOrder, http.StatusConflict},
		{"conflict", store.ErrConflict, http.StatusConflict},
		{"postpone range", tasks.ErrInvalidPostpone, http.StatusUnprocessableEntity},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLogs(t)
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/x", nil)

			MapStoreError(w, r, tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError {
				var p Problem
				json.Unmarshal(w.Body.Bytes(), &p)
				if p.Detail != "Internal Server Error" {
					t.Errorf("internal detail leaked: %q", p.Detail)
				}
			}
		})
	}
}
