package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

func newTestHandler(t *testing.T, opts Options) (*Handler, *alert.Bus) {
	t.Helper()
	bus := alert.NewBus(nil, nil)
	eng, err := engine.New(engine.DefaultSettings(), bus, nil)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	return NewHandler(bus, eng, opts, nil), bus
}

func publishAnomaly(t *testing.T, bus *alert.Bus, severity alert.Severity) *alert.Alert {
	t.Helper()
	a, err := bus.Publish(alert.Draft{
		Type:     alert.TypeAnomaly,
		Severity: severity,
		Domain:   "fitness",
		Title:    "Anomaly Detected: Heart Rate",
		Message:  "heart_rate is high",
		Anomaly: &alert.AnomalyContext{
			Metric:    metric.TypeHeartRate,
			Value:     132,
			Baseline:  74.3,
			Deviation: 12.4,
		},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return a
}

func publishGoal(t *testing.T, bus *alert.Bus) *alert.Alert {
	t.Helper()
	a, err := bus.Publish(alert.Draft{
		Type:     alert.TypeGoalAchieved,
		Severity: alert.SeverityInfo,
		Domain:   "fitness",
		Title:    "Goal Achieved: Daily Steps!",
		Message:  "Step goal achieved",
		Goal:     &alert.GoalContext{Name: "daily_steps", Value: 10500, Target: 10000},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return a
}

type sseFrame struct {
	event string
	data  string
}

// parseFrames splits an SSE body into event/data frames.
func parseFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		var frame sseFrame
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = strings.TrimPrefix(line, "data: ")
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func alertFrames(frames []sseFrame) []sseFrame {
	var out []sseFrame
	for _, f := range frames {
		if f.event == "alert" {
			out = append(out, f)
		}
	}
	return out
}

func decodeAlert(t *testing.T, data string) *AlertResponse {
	t.Helper()
	var resp AlertResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		t.Fatalf("Failed to decode alert frame %q: %v", data, err)
	}
	return &resp
}

func TestStreamSSEHeaders(t *testing.T) {
	h, bus := newTestHandler(t, Options{})
	publishAnomaly(t, bus, alert.SeverityWarning)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/alerts/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	h.Stream(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Errorf("Connection = %q, want %q", conn, "keep-alive")
	}
	if ab := rec.Header().Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("X-Accel-Buffering = %q, want %q", ab, "no")
	}
}

func TestStreamReplaysBacklogThenLive(t *testing.T) {
	h, bus := newTestHandler(t, Options{})
	publishAnomaly(t, bus, alert.SeverityWarning)
	publishGoal(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/alerts/stream?history_count=10", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(40 * time.Millisecond)
		publishAnomaly(t, bus, alert.SeverityCritical)
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	h.Stream(rec, req)

	frames := alertFrames(parseFrames(t, rec.Body.String()))
	if len(frames) != 3 {
		t.Fatalf("Expected 3 alert frames, got %d: %q", len(frames), rec.Body.String())
	}

	wantIDs := []string{"1", "2", "3"}
	for i, f := range frames {
		got := decodeAlert(t, f.data)
		if got.ID != wantIDs[i] {
			t.Errorf("Frame %d: expected id %s, got %s", i, wantIDs[i], got.ID)
		}
	}

	// Wire shape: anomaly fields on the first, goal fields on the second.
	first := decodeAlert(t, frames[0].data)
	if first.DataType != "heart_rate" || first.Baseline == nil || *first.Baseline != 74.3 {
		t.Errorf("Expected anomaly context on first frame, got %+v", first)
	}
	if first.GoalName != "" {
		t.Errorf("Expected no goal context on anomaly frame, got %q", first.GoalName)
	}
	second := decodeAlert(t, frames[1].data)
	if second.GoalName != "daily_steps" || second.GoalTarget == nil || *second.GoalTarget != 10000 {
		t.Errorf("Expected goal context on second frame, got %+v", second)
	}
	if second.Baseline != nil {
		t.Errorf("Expected no baseline on goal frame, got %v", *second.Baseline)
	}
}

func TestStreamWithoutHistory(t *testing.T) {
	h, bus := newTestHandler(t, Options{})
	publishAnomaly(t, bus, alert.SeverityWarning)
	publishAnomaly(t, bus, alert.SeverityWarning)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/alerts/stream?include_history=false&history_count=10", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(40 * time.Millisecond)
		publishGoal(t, bus)
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	h.Stream(rec, req)

	frames := alertFrames(parseFrames(t, rec.Body.String()))
	if len(frames) != 1 {
		t.Fatalf("Expected only the live alert, got %d frames", len(frames))
	}
	if got := decodeAlert(t, frames[0].data); got.ID != "3" {
		t.Errorf("Expected live alert id 3, got %s", got.ID)
	}
}

func TestStreamRejectsInvalidParams(t *testing.T) {
	h, _ := newTestHandler(t, Options{})

	tests := []struct {
		name  string
		query string
	}{
		{"bad include_history", "?include_history=sometimes"},
		{"bad history_count", "?history_count=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/alerts/stream"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.Stream(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestStreamHeartbeat(t *testing.T) {
	h, _ := newTestHandler(t, Options{HeartbeatInterval: 30 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/alerts/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	h.Stream(rec, req)

	var heartbeats int
	for _, f := range parseFrames(t, rec.Body.String()) {
		if f.event == "heartbeat" {
			heartbeats++
		}
	}
	if heartbeats == 0 {
		t.Errorf("Expected at least one heartbeat frame, body: %q", rec.Body.String())
	}
}

func TestStreamTimeout(t *testing.T) {
	h, _ := newTestHandler(t, Options{MaxStreamDuration: 60 * time.Millisecond})

	req := httptest.NewRequest("GET", "/api/v1/alerts/stream", nil)
	rec := httptest.NewRecorder()

	// Returns on its own when the stream deadline fires.
	h.Stream(rec, req)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) == 0 {
		t.Fatal("Expected a close frame")
	}
	last := frames[len(frames)-1]
	if last.event != "close" || !strings.Contains(last.data, "timeout") {
		t.Errorf("Expected close/timeout frame, got %+v", last)
	}
}

func TestStreamBusShutdown(t *testing.T) {
	h, bus := newTestHandler(t, Options{})

	req := httptest.NewRequest("GET", "/api/v1/alerts/stream", nil)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(40 * time.Millisecond)
		bus.Close()
	}()

	h.Stream(rec, req)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) == 0 {
		t.Fatal("Expected a close frame")
	}
	last := frames[len(frames)-1]
	if last.event != "close" || !strings.Contains(last.data, "shutdown") {
		t.Errorf("Expected close/shutdown frame, got %+v", last)
	}

	// A closed bus refuses new streams.
	rec2 := httptest.NewRecorder()
	h.Stream(rec2, httptest.NewRequest("GET", "/api/v1/alerts/stream", nil))
	if rec2.Code != http.StatusInternalServerError {
		t.Errorf("status after close = %d, want %d", rec2.Code, http.StatusInternalServerError)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	h, bus := newTestHandler(t, Options{})
	publishAnomaly(t, bus, alert.SeverityInfo)
	publishAnomaly(t, bus, alert.SeverityWarning)
	publishGoal(t, bus)

	req := httptest.NewRequest("GET", "/api/v1/alerts/history?count=2", nil)
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var envelope struct {
		Data HistoryResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if envelope.Data.Count != 2 {
		t.Fatalf("Expected count 2, got %d", envelope.Data.Count)
	}
	if envelope.Data.Alerts[0].ID != "3" || envelope.Data.Alerts[1].ID != "2" {
		t.Errorf("Expected newest-first ids [3 2], got [%s %s]",
			envelope.Data.Alerts[0].ID, envelope.Data.Alerts[1].ID)
	}
}

func TestHistoryRejectsInvalidCount(t *testing.T) {
	h, _ := newTestHandler(t, Options{})

	for _, query := range []string{"?count=abc", "?count=-1"} {
		req := httptest.NewRequest("GET", "/api/v1/alerts/history"+query, nil)
		rec := httptest.NewRecorder()
		h.History(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want %d", query, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHistoryEmpty(t *testing.T) {
	h, _ := newTestHandler(t, Options{})

	req := httptest.NewRequest("GET", "/api/v1/alerts/history", nil)
	rec := httptest.NewRecorder()
	h.History(rec, req)

	var envelope struct {
		Data HistoryResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if envelope.Data.Count != 0 {
		t.Errorf("Expected empty history, got count %d", envelope.Data.Count)
	}
}

func TestStats(t *testing.T) {
	h, bus := newTestHandler(t, Options{})
	publishAnomaly(t, bus, alert.SeverityWarning)
	publishGoal(t, bus)

	req := httptest.NewRequest("GET", "/api/v1/alerts/stats", nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var envelope struct {
		Data StatsResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if envelope.Data.Bus.Published != 2 {
		t.Errorf("Expected 2 published alerts, got %d", envelope.Data.Bus.Published)
	}
	if envelope.Data.Bus.ByType[alert.TypeGoalAchieved] != 1 {
		t.Errorf("Expected 1 goal alert in stats, got %d", envelope.Data.Bus.ByType[alert.TypeGoalAchieved])
	}
}

func TestTestAlertEndpoint(t *testing.T) {
	h, bus := newTestHandler(t, Options{})

	body := bytes.NewBufferString(`{"severity":"warning","message":"smoke test"}`)
	req := httptest.NewRequest("POST", "/api/v1/alerts/test", body)
	rec := httptest.NewRecorder()
	h.Test(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if envelope.Data["status"] != "published" {
		t.Errorf("Expected status published, got %q", envelope.Data["status"])
	}
	if envelope.Data["alert_id"] != "1" {
		t.Errorf("Expected alert_id 1, got %q", envelope.Data["alert_id"])
	}

	history := bus.History(1)
	if len(history) != 1 {
		t.Fatal("Expected test alert in history")
	}
	if history[0].Severity != alert.SeverityWarning {
		t.Errorf("Expected warning severity, got %s", history[0].Severity)
	}
	if history[0].Message != "smoke test" {
		t.Errorf("Expected custom message, got %q", history[0].Message)
	}
	if history[0].Title != "Test Alert: Anomaly Detected" {
		t.Errorf("Expected default title, got %q", history[0].Title)
	}
}

func TestTestAlertDefaultsAndValidation(t *testing.T) {
	h, bus := newTestHandler(t, Options{})

	// Empty body uses defaults.
	req := httptest.NewRequest("POST", "/api/v1/alerts/test", nil)
	rec := httptest.NewRecorder()
	h.Test(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	history := bus.History(1)
	if history[0].Severity != alert.SeverityInfo {
		t.Errorf("Expected default info severity, got %s", history[0].Severity)
	}

	// Unknown severity is rejected.
	body := bytes.NewBufferString(`{"severity":"catastrophic"}`)
	rec = httptest.NewRecorder()
	h.Test(rec, httptest.NewRequest("POST", "/api/v1/alerts/test", body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestToResponseOmitsEmptyContext(t *testing.T) {
	a := &alert.Alert{
		ID:        7,
		Type:      alert.TypeAnomaly,
		Severity:  alert.SeverityCritical,
		Domain:    "fitness",
		Title:     "Critical Health Alert: Heart Rate",
		Message:   "heart_rate critically high: 155.0 (limit 150.0)",
		CreatedAt: time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC),
		Anomaly: &alert.AnomalyContext{
			Metric:    metric.TypeHeartRate,
			Value:     155,
			Baseline:  72.1,
			Deviation: 8.3,
		},
	}

	data, err := json.Marshal(ToResponse(a))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)

	if !strings.Contains(s, `"id":"7"`) {
		t.Errorf("Expected string id, got %s", s)
	}
	if !strings.Contains(s, `"timestamp":"2026-08-23T10:15:00Z"`) {
		t.Errorf("Expected RFC3339 UTC timestamp, got %s", s)
	}
	if strings.Contains(s, "goal_name") || strings.Contains(s, "goal_target") {
		t.Errorf("Expected goal fields omitted for anomaly alert, got %s", s)
	}
	if strings.Contains(s, "null") {
		t.Errorf("Expected omitted fields, not nulls: %s", s)
	}
}
