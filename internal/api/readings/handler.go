// Package readings provides HTTP handlers for reading ingest and the
// baseline inspection endpoints.
package readings

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/api/alerts"
	"github.com/vigilant-otter/pulsefeed/internal/baseline"
	"github.com/vigilant-otter/pulsefeed/internal/detect"
	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeInternalError = "INTERNAL_ERROR"
)

// maxBodySize bounds ingest request bodies; readings are tiny.
const maxBodySize = 64 << 10

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Handler handles reading ingest and baseline endpoints.
type Handler struct {
	pipeline *engine.Engine
	logger   *zap.Logger
}

// NewHandler creates a new readings handler.
func NewHandler(pipeline *engine.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, logger: logger}
}

// IngestResponse reports what an ingested reading produced.
type IngestResponse struct {
	Reading metric.Reading          `json:"reading"`
	Alerts  []*alerts.AlertResponse `json:"alerts,omitempty"`
}

// Ingest handles POST /api/v1/readings - one reading over HTTP. Returns
// 202 with any alerts the reading produced.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "failed to read request body")
		return
	}

	reading, err := metric.ParseReading(body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.Ingest(reading)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	resp := &IngestResponse{Reading: result.Reading}
	for _, a := range result.Alerts {
		resp.Alerts = append(resp.Alerts, alerts.ToResponse(a))
	}
	jsonStatus(w, http.StatusAccepted, resp)
}

// LatestReading pairs a metric's most recent reading with its baseline.
type LatestReading struct {
	Metric      metric.Type       `json:"metric"`
	DisplayName string            `json:"display_name"`
	Unit        string            `json:"unit"`
	Reading     metric.Reading    `json:"reading"`
	Baseline    baseline.Snapshot `json:"baseline"`
}

// LatestResponse wraps the per-metric latest readings.
type LatestResponse struct {
	Readings []*LatestReading `json:"readings"`
}

// Latest handles GET /api/v1/readings/latest.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	latest := h.pipeline.LatestReadings()
	baselines := h.pipeline.Baselines()

	resp := &LatestResponse{Readings: make([]*LatestReading, 0, len(latest))}
	for mt, reading := range latest {
		resp.Readings = append(resp.Readings, &LatestReading{
			Metric:      mt,
			DisplayName: mt.DisplayName(),
			Unit:        mt.Unit(),
			Reading:     reading,
			Baseline:    baselines[mt],
		})
	}
	// Map iteration order is random; keep the response stable.
	sort.Slice(resp.Readings, func(i, j int) bool {
		return resp.Readings[i].Metric < resp.Readings[j].Metric
	})

	jsonStatus(w, http.StatusOK, resp)
}

// BaselinesResponse reports rolling statistics and active thresholds per
// metric.
type BaselinesResponse struct {
	Baselines  map[metric.Type]baseline.Snapshot `json:"baselines"`
	Thresholds map[metric.Type]detect.Thresholds `json:"thresholds"`
	UpdatedAt  string                            `json:"updated_at"`
}

// Baselines handles GET /api/v1/baselines.
func (h *Handler) Baselines(w http.ResponseWriter, r *http.Request) {
	jsonStatus(w, http.StatusOK, &BaselinesResponse{
		Baselines:  h.pipeline.Baselines(),
		Thresholds: h.pipeline.Thresholds(),
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}
