package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snarg/meetscribe/internal/transcribe"
)

type stubDB struct{ err error }

func (s stubDB) HealthCheck(ctx context.Context) error { return s.err }

type stubMQTT struct{ connected bool }

func (s stubMQTT) IsConnected() bool { return s.connected }

type stubQueue struct{ stats transcribe.QueueStats }

func (s stubQueue) Stats() transcribe.QueueStats { return s.stats }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		mqtt       ConnectionStatus
		queue      QueueStatsSource
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "nothing_configured",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "not_configured", "mqtt": "not_configured", "transcription": "not_configured"},
		},
		{
			name:       "all_ok",
			db:         stubDB{},
			mqtt:       stubMQTT{connected: true},
			queue:      stubQueue{stats: transcribe.QueueStats{Pending: 2, Active: 1}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "mqtt": "ok", "transcription": "ok"},
		},
		{
			name:       "mqtt_disconnected_degrades",
			mqtt:       stubMQTT{connected: false},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"mqtt": "disconnected"},
		},
		{
			name:       "database_down",
			db:         stubDB{err: errors.New("connection refused")},
			mqtt:       stubMQTT{connected: false},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.mqtt, tt.queue, "test", time.Now().Add(-time.Minute))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("JSON decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("Checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
			if resp.UptimeSeconds < 59 {
				t.Errorf("UptimeSeconds = %d, want >= 59", resp.UptimeSeconds)
			}
			if tt.queue != nil && (resp.Queue == nil || resp.Queue.Pending != 2) {
				t.Errorf("Queue = %+v, want pending 2", resp.Queue)
			}
		})
	}
}
