package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/flagledger/internal/analytics"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/validation"
)

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed")

	if resp.Error != "Unprocessable Entity" {
		t.Errorf("Expected Error 'Unprocessable Entity', got '%s'", resp.Error)
	}
	if resp.Message != "Validation failed" {
		t.Errorf("Expected Message 'Validation failed', got '%s'", resp.Message)
	}
	if resp.Code != ErrCodeValidation {
		t.Errorf("Expected Code ErrCodeValidation, got '%s'", resp.Code)
	}
}

func TestErrorResponse_WithFieldsAndRequestID(t *testing.T) {
	resp := NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, "Validation failed").
		WithFields(map[string]string{"key": "Key is required"}).
		WithRequestID("req-123")

	if resp.Fields["key"] != "Key is required" {
		t.Errorf("Expected field 'key' to be 'Key is required', got '%s'", resp.Fields["key"])
	}
	if resp.RequestID != "req-123" {
		t.Errorf("Expected RequestID 'req-123', got '%s'", resp.RequestID)
	}
}

func TestWriteErrorResponse_RequestIDFromContext(t *testing.T) {
	var rec *httptest.ResponseRecorder
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		InternalError(w, r, "boom")
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("Expected request_id to be set from chi middleware")
	}
	if resp.Code != ErrCodeInternal {
		t.Errorf("Expected code INTERNAL_ERROR, got %s", resp.Code)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
		wantField  string
	}{
		{"field errors", validation.FieldErrors{"name": "Name is required"}, http.StatusUnprocessableEntity, ErrCodeValidation, "name"},
		{"store validation", &store.ValidationError{Field: "ends_at", Message: "before starts_at"}, http.StatusUnprocessableEntity, ErrCodeValidation, "ends_at"},
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, ErrCodeNotFound, ""},
		{"unavailable", fmt.Errorf("list: %w", store.ErrUnavailable), http.StatusServiceUnavailable, ErrCodeUnavailable, ""},
		{"invalid window", analytics.ErrInvalidWindow, http.StatusUnprocessableEntity, ErrCodeValidation, "hours"},
		{"missing identity", analytics.ErrMissingIdentity, http.StatusUnprocessableEntity, ErrCodeValidation, "user_id"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
			if tt.wantField != "" {
				if _, ok := resp.Fields[tt.wantField]; !ok {
					t.Errorf("expected field %q in %v", tt.wantField, resp.Fields)
				}
			}
		})
	}
}

func TestAuthError(t *testing.T) {
	w := httptest.NewRecorder()
	authError(w, httptest.NewRequest(http.MethodPost, "/flags", nil), http.StatusUnauthorized, "missing bearer token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	authError(w, httptest.NewRequest(http.MethodPost, "/flags", nil), http.StatusForbidden, "invalid token")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}
