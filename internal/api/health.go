package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/transcribe"
)

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
}

// HealthChecker is implemented by *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus is implemented by *mqttclient.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// QueueStatsSource is implemented by *transcribe.WorkerPool.
type QueueStatsSource interface {
	Stats() transcribe.QueueStats
}

type HealthHandler struct {
	db        HealthChecker
	mqtt      ConnectionStatus
	queue     QueueStatsSource
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health endpoint. db, mqtt and queue may be nil.
func NewHealthHandler(db HealthChecker, mqtt ConnectionStatus, queue QueueStatsSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		queue:     queue,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	// Transcription queue
	if h.queue != nil {
		qs := h.queue.Stats()
		resp.Queue = &qs
		checks["transcription"] = "ok"
	} else {
		checks["transcription"] = "not_configured"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
