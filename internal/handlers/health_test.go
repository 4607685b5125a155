package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "production", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	want := map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     "1.0.0",
		"commitSha":   "abc123",
		"environment": "production",
		"uptime":      "1m30s",
		"timestamp":   "2024-01-01T00:01:30Z",
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s: expected %v, got %v", key, value, body[key])
		}
	}
}

func TestReadyzStatusMapping(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name       string
		svc        services.SystemService
		wantCode   int
		wantStatus string
		wantDetail string
	}{
		{
			name:       "no system service",
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
		},
		{
			name: "all checks ok",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				},
			}},
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
		},
		{
			name: "degraded dependency",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusDegraded, Error: "topic missing"},
				},
			}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: domain.HealthStatusDegraded,
			wantDetail: "pubsub: topic missing",
		},
		{
			name:       "report failure",
			svc:        &stubSystemService{err: errors.New("probes timed out")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: domain.HealthStatusError,
			wantDetail: "probes timed out",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.svc != nil {
				opts = append(opts, WithHealthSystemService(tc.svc))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			body := decodeEnvelope(t, rr)
			if body["status"] != tc.wantStatus {
				t.Fatalf("expected status %s, got %v", tc.wantStatus, body["status"])
			}
			details, _ := body["details"].([]any)
			if tc.wantDetail == "" {
				if len(details) != 0 {
					t.Fatalf("expected no details, got %v", details)
				}
				return
			}
			if len(details) != 1 || details[0] != tc.wantDetail {
				t.Fatalf("expected detail %q, got %v", tc.wantDetail, details)
			}
		})
	}
}

func TestReadyzReportsCheckLatency(t *testing.T) {
	svc := &stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK, Latency: 42 * time.Millisecond},
		},
	}}
	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(svc)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	checks, _ := decodeEnvelope(t, rr)["checks"].(map[string]any)
	firestore, _ := checks["firestore"].(map[string]any)
	if firestore["latencyMs"] != float64(42) {
		t.Fatalf("unexpected firestore check %v", firestore)
	}
}
