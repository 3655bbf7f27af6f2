// Package alerts provides HTTP handlers for the alert stream, history
// and stats endpoints.
package alerts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
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

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// AlertResponse is the wire form of an alert, flattened for dashboard
// consumption. The bus ID is rendered as a string and optional context
// fields are omitted rather than null.
type AlertResponse struct {
	ID        string `json:"id"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	Domain    string `json:"domain"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`

	// Anomaly context
	DataType  string   `json:"data_type,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Baseline  *float64 `json:"baseline,omitempty"`
	Deviation *float64 `json:"deviation,omitempty"`

	// Goal context
	GoalName   string   `json:"goal_name,omitempty"`
	GoalTarget *float64 `json:"goal_target,omitempty"`
}

// ToResponse converts a published alert to its wire form.
func ToResponse(a *alert.Alert) *AlertResponse {
	resp := &AlertResponse{
		ID:        strconv.FormatUint(a.ID, 10),
		AlertType: string(a.Type),
		Severity:  string(a.Severity),
		Domain:    a.Domain,
		Title:     a.Title,
		Message:   a.Message,
		Timestamp: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.Anomaly != nil {
		resp.DataType = string(a.Anomaly.Metric)
		resp.Value = &a.Anomaly.Value
		resp.Baseline = &a.Anomaly.Baseline
		resp.Deviation = &a.Anomaly.Deviation
	}
	if a.Goal != nil {
		resp.GoalName = a.Goal.Name
		resp.Value = &a.Goal.Value
		resp.GoalTarget = &a.Goal.Target
	}
	return resp
}

// Options configures streaming behavior.
type Options struct {
	// HeartbeatInterval is how often a heartbeat event keeps idle
	// streams alive through proxies.
	HeartbeatInterval time.Duration

	// MaxStreamDuration bounds a single SSE connection. Zero means
	// unlimited.
	MaxStreamDuration time.Duration

	// DefaultHistory is the backlog size when the client does not ask
	// for a specific history_count.
	DefaultHistory int
}

// DefaultOptions returns the shipped streaming configuration.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 15 * time.Second,
		MaxStreamDuration: 30 * time.Minute,
		DefaultHistory:    10,
	}
}

// Handler handles alert streaming and query endpoints.
type Handler struct {
	bus      *alert.Bus
	pipeline *engine.Engine
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new alerts handler.
func NewHandler(bus *alert.Bus, pipeline *engine.Engine, opts Options, logger *zap.Logger) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultOptions().HeartbeatInterval
	}
	if opts.DefaultHistory < 0 {
		opts.DefaultHistory = DefaultOptions().DefaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bus: bus, pipeline: pipeline, opts: opts, logger: logger}
}

// maxHistory is the largest backlog a client can request; requests above
// it are clamped to the bus ring capacity.
func maxHistory() int {
	return alert.DefaultOptions().HistorySize
}

// Stream handles GET /api/v1/alerts/stream - SSE streaming of alerts.
// Query: include_history (default true), history_count (default 10,
// clamped to the history ring capacity).
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "streaming not supported")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	includeHistory := true
	if v := q.Get("include_history"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "include_history must be a boolean")
			return
		}
		includeHistory = parsed
	}

	historyCount := h.opts.DefaultHistory
	if v := q.Get("history_count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "history_count must be an integer")
			return
		}
		historyCount = parsed
	}
	if historyCount < 0 {
		historyCount = 0
	}
	if historyCount > maxHistory() {
		historyCount = maxHistory()
	}
	if !includeHistory {
		historyCount = 0
	}

	// The subscription and its backlog are taken atomically, so no alert
	// is lost or duplicated between replay and live delivery.
	sub, backlog, err := h.bus.Subscribe(historyCount)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "alert stream unavailable")
		return
	}
	defer h.bus.Unsubscribe(sub.ID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := NewSSEWriter(w, flusher)

	h.logger.Debug("alert stream connected",
		zap.String("subscriber", sub.ID),
		zap.Int("backlog", len(backlog)))

	for _, a := range backlog {
		if err := h.sendAlert(sse, a); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	var deadline <-chan time.Time
	if h.opts.MaxStreamDuration > 0 {
		timer := time.NewTimer(h.opts.MaxStreamDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return

		case <-deadline:
			sse.SendEvent("close", `{"reason":"timeout"}`)
			return

		case <-heartbeat.C:
			data := `{"timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`
			if err := sse.SendEvent("heartbeat", data); err != nil {
				return
			}

		case a, ok := <-sub.Alerts():
			if !ok {
				// Bus shut down
				sse.SendEvent("close", `{"reason":"shutdown"}`)
				return
			}
			if err := h.sendAlert(sse, a); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendAlert(sse *SSEWriter, a *alert.Alert) error {
	data, err := json.Marshal(ToResponse(a))
	if err != nil {
		h.logger.Error("failed to marshal alert", zap.Uint64("id", a.ID), zap.Error(err))
		return nil
	}
	return sse.SendEvent("alert", string(data))
}

// HistoryResponse wraps the alert history list.
type HistoryResponse struct {
	Alerts []*AlertResponse `json:"alerts"`
	Count  int              `json:"count"`
}

// History handles GET /api/v1/alerts/history - recent alerts, newest
// first. Query: count (default 10, clamped to the ring capacity).
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	count := h.opts.DefaultHistory
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "count must be a non-negative integer")
			return
		}
		count = parsed
	}
	if count > maxHistory() {
		count = maxHistory()
	}

	history := h.bus.History(count)

	// The bus returns oldest first; the API serves newest first.
	items := make([]*AlertResponse, len(history))
	for i, a := range history {
		items[len(history)-1-i] = ToResponse(a)
	}

	jsonOK(w, &HistoryResponse{Alerts: items, Count: len(items)})
}

// StatsResponse aggregates bus and pipeline counters.
type StatsResponse struct {
	Bus    alert.BusStats `json:"bus"`
	Engine engine.Stats   `json:"engine"`
}

// Stats handles GET /api/v1/alerts/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, &StatsResponse{
		Bus:    h.bus.Stats(),
		Engine: h.pipeline.Stats(),
	})
}

// TestRequest is the optional body of POST /api/v1/alerts/test.
type TestRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Test handles POST /api/v1/alerts/test - publishes a synthetic alert so
// dashboards can verify their stream end to end.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
		return
	}

	severity := alert.SeverityInfo
	if req.Severity != "" {
		parsed, err := alert.ParseSeverity(req.Severity)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "severity must be info, warning or critical")
			return
		}
		severity = parsed
	}
	if req.Title == "" {
		req.Title = "Test Alert: Anomaly Detected"
	}
	if req.Message == "" {
		req.Message = "This is a test alert"
	}

	published, err := h.bus.Publish(alert.Draft{
		Type:     alert.TypeAnomaly,
		Severity: severity,
		Domain:   h.pipeline.Settings().Domain,
		Title:    req.Title,
		Message:  req.Message,
		Anomaly: &alert.AnomalyContext{
			Metric: metric.Type("test"),
			Value:  42.0,
		},
	})
	if err != nil {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to publish test alert")
		return
	}

	jsonOK(w, map[string]string{
		"status":   "published",
		"alert_id": strconv.FormatUint(published.ID, 10),
	})
}
