package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Version: "1.0.0",
		Timeout: 5 * time.Second,
	})

	response := checker.Check(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
}

func TestChecker_DeepCheck_OnlyConfiguredComponents(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Checks: map[string]CheckFunc{
			"storage": func(ctx context.Context) error { return nil },
			"redis":   nil,
		},
	})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if len(response.Components) != 1 {
		t.Errorf("expected only storage to be reported, got %v", response.Components)
	}
	if response.Components["storage"].Status != StatusHealthy {
		t.Errorf("expected storage component healthy, got %s", response.Components["storage"].Status)
	}
}

func TestChecker_DeepCheck_Database(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(sqlmock.Sqlmock)
		status Status
	}{
		{
			name: "healthy",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing()
				m.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
			},
			status: StatusHealthy,
		},
		{
			name: "ping fails",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing().WillReturnError(errors.New("connection refused"))
			},
			status: StatusUnhealthy,
		},
		{
			name: "query fails",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing()
				m.ExpectQuery("SELECT 1").WillReturnError(errors.New("read-only"))
			},
			status: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
			defer db.Close()
			tt.setup(mock)

			response := NewChecker(&CheckerConfig{DB: db}).DeepCheck(context.Background())

			if got := response.Components["database"].Status; got != tt.status {
				t.Errorf("database status = %s, want %s", got, tt.status)
			}
			if response.Status != tt.status {
				t.Errorf("overall status = %s, want %s", response.Status, tt.status)
			}
		})
	}
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Version: "1.0.0"}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	handler.LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
}

func TestHandler_ReadinessHandler_Unhealthy(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{
		Checks: map[string]CheckFunc{
			"storage": func(ctx context.Context) error { return errors.New("storage down") },
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Components["storage"].Message != "storage check failed" {
		t.Errorf("unexpected message %q", response.Components["storage"].Message)
	}
}

func TestHandler_HealthHandler_DeepQuery(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{
		Checks: map[string]CheckFunc{
			"redis": func(ctx context.Context) error { return nil },
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/health?deep=true", nil)
	w := httptest.NewRecorder()

	handler.HealthHandler(w, req)

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Components) == 0 {
		t.Error("deep check should include components")
	}
}
