package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"watchover/internal/logger"
	"watchover/internal/model"
	"watchover/internal/service/pipeline"
)

// StopTimeout bounds how long a stop request waits for the in-flight cycle.
const StopTimeout = 15 * time.Second

// Pipeline is the control surface of the alerting loop.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Arm()
	Disarm()
	Toggle() bool
	IsArmed() bool
	RecentAlerts(n int) []model.AlertLogEntry
	Status() pipeline.Status
}

type alarmResponse struct {
	Message string `json:"message,omitempty"`
	Armed   bool   `json:"armed"`
}

func alarmMessage(armed bool) string {
	if armed {
		return "Alarm activated!"
	}
	return "Alarm deactivated!"
}

// ToggleAlarmHandler flips the armed flag.
func ToggleAlarmHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		armed := p.Toggle()
		writeJSON(w, http.StatusOK, alarmResponse{Message: alarmMessage(armed), Armed: armed})
	}
}

func ArmHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Arm()
		writeJSON(w, http.StatusOK, alarmResponse{Message: alarmMessage(true), Armed: true})
	}
}

func DisarmHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Disarm()
		writeJSON(w, http.StatusOK, alarmResponse{Message: alarmMessage(false), Armed: false})
	}
}

func AlarmStateHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, alarmResponse{Armed: p.IsArmed()})
	}
}

// RecentAlertsHandler serves GET /api/alerts?n=. Without n it returns defaultN entries.
func RecentAlertsHandler(p Pipeline, defaultN int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := defaultN
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "n must be an integer")
				return
			}
			n = parsed
		}

		entries := p.RecentAlerts(n)
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = e.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "lines": lines})
	}
}

func StatusHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func StartPipelineHandler(p Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.Start(r.Context())
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, pipeline.ErrStopping):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			logger.Error("Error starting pipeline: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		default:
			writeJSON(w, http.StatusOK, p.Status())
		}
	}
}

func StopPipelineHandler(p Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), StopTimeout)
		defer cancel()

		if err := p.Stop(ctx); err != nil {
			logger.Warning("Pipeline did not stop in time: %v", err)
			writeError(w, http.StatusServiceUnavailable, "pipeline is still stopping")
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

// HealthHandler reports liveness of the process.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler reports 503 unless the pipeline is running.
func ReadinessHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := p.Status()
		ready := status.State == pipeline.Running.String()

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"ready":    ready,
			"state":    status.State,
			"degraded": status.Degraded,
		})
	}
}
