package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/sturgeon/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func TestValidationErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	ve := domain.NewValidationError("UsageService.Record", "metadata", "Metadata must be an object")

	req := httptest.NewRequest("POST", "/record", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ValidationErrorResponse(rec, req, discardLogger(), ve)

	body := rec.Body.String()
	if strings.Contains(body, "UsageService") {
		t.Errorf("response exposes internal operation name: %s", body)
	}
	if !strings.Contains(body, "check your input") {
		t.Errorf("response should have helpful guidance, got: %s", body)
	}
}

func TestValidationErrorResponse_JSON(t *testing.T) {
	ve := domain.NewValidationError("UsageHandler.Record", "metadata", "Metadata must be an object")

	req := httptest.NewRequest("POST", "/api/usage/search", nil)
	rec := httptest.NewRecorder()

	ValidationErrorResponse(rec, req, discardLogger(), ve)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body JSONError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Fields["metadata"] != "Metadata must be an object" {
		t.Errorf("expected field error, got %+v", body.Error.Fields)
	}
	if strings.Contains(rec.Body.String(), "UsageHandler") {
		t.Errorf("JSON response exposes internal operation name: %s", rec.Body.String())
	}
}

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	dbErr := &mockDatabaseError{message: "ERROR: relation \"usage_events\" does not exist (SQLSTATE 42P01)"}
	internalErr := domain.Internal(dbErr, "UsageRepository.Insert", "Database query failed")

	for _, path := range []string{"/dashboard", "/api/usage"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()

		ErrorResponse(rec, req, discardLogger(), internalErr)

		body := rec.Body.String()
		if strings.Contains(body, "SQLSTATE") || strings.Contains(body, "usage_events") {
			t.Errorf("%s: response exposes database error: %s", path, body)
		}
		if strings.Contains(body, "UsageRepository") {
			t.Errorf("%s: response exposes internal operation: %s", path, body)
		}
		if !strings.Contains(body, "internal error") {
			t.Errorf("%s: response should contain generic message, got: %s", path, body)
		}
	}
}

func TestErrorResponse_UnwrappedErrorReturnsGeneric(t *testing.T) {
	rawErr := &mockDatabaseError{message: "FATAL: password authentication failed for user \"postgres\""}

	req := httptest.NewRequest("GET", "/data", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), rawErr)

	body := rec.Body.String()
	if strings.Contains(body, "FATAL") || strings.Contains(body, "postgres") {
		t.Errorf("response exposes raw error: %s", body)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestErrorResponse_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("op", "bad"), http.StatusBadRequest},
		{domain.Errorf(domain.EUNAUTHORIZED, "op", "login"), http.StatusUnauthorized},
		{domain.Errorf(domain.EPAYMENT, "op", "pay"), http.StatusPaymentRequired},
		{domain.QuotaExceeded("op", domain.EventTypeSearch, 100, 100), http.StatusPaymentRequired},
		{domain.Errorf(domain.EFORBIDDEN, "op", "no"), http.StatusForbidden},
		{domain.NotFound("op", "subscription", "x"), http.StatusNotFound},
		{domain.Errorf(domain.ERATELIMIT, "op", "slow down"), http.StatusTooManyRequests},
		{domain.UsageUnavailable(errors.New("dial tcp: refused"), "op"), http.StatusServiceUnavailable},
		{domain.Errorf("conflict", "op", "unmapped code"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/x", nil)
		rec := httptest.NewRecorder()

		ErrorResponse(rec, req, discardLogger(), tt.err)

		if rec.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%v: expected JSON content type, got %q", tt.err, ct)
		}
	}
}

func TestErrorResponse_UnavailableHidesCause(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/usage", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), domain.UsageUnavailable(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"), "usage.current_month"))

	var body JSONError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != domain.EUNAVAILABLE {
		t.Errorf("expected code %q, got %q", domain.EUNAVAILABLE, body.Error.Code)
	}
	if strings.Contains(body.Error.Message, "10.0.0.5") {
		t.Errorf("message exposes address: %s", body.Error.Message)
	}
}

func TestDeniedResponse_IncludesDetail(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/usage/export", nil)
	rec := httptest.NewRecorder()

	DeniedResponse(rec, req, discardLogger(), domain.QuotaExceeded("op", domain.EventTypeExport, 10, 10), map[string]int{"used": 10})

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}

	var body struct {
		Error    map[string]string `json:"error"`
		Decision map[string]int    `json:"decision"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error["code"] != domain.EQUOTA {
		t.Errorf("expected quota code, got %q", body.Error["code"])
	}
	if body.Decision["used"] != 10 {
		t.Errorf("expected decision detail, got %+v", body.Decision)
	}
}

// mockDatabaseError simulates a database error for testing
type mockDatabaseError struct {
	message string
}

func (e *mockDatabaseError) Error() string {
	return e.message
}
