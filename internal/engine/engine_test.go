package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/detect"
	"github.com/vigilant-otter/pulsefeed/internal/goal"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

var testBase = time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// testSettings shortens warm-up so tests need few readings.
func testSettings() Settings {
	s := DefaultSettings()
	for _, mt := range []metric.Type{metric.TypeHeartRate, metric.TypeSteps} {
		th := s.Thresholds[mt]
		th.WarmUp = 3
		s.Thresholds[mt] = th
	}
	s.Goals = []goal.Definition{
		{
			Name:        "daily_steps",
			DisplayName: "Daily Steps",
			Metric:      metric.TypeSteps,
			Target:      15000,
			Unit:        "steps",
			Aggregation: goal.AggregationSum,
		},
	}
	return s
}

func newTestEngine(t *testing.T) (*Engine, *alert.Bus) {
	t.Helper()
	bus := alert.NewBus(nil, zap.NewNop())
	eng, err := New(testSettings(), bus, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return eng, bus
}

func hr(value float64, ts time.Time) metric.Reading {
	return metric.Reading{Type: metric.TypeHeartRate, Value: value, Timestamp: ts, SourceDevice: "test-watch"}
}

func steps(value float64, ts time.Time) metric.Reading {
	return metric.Reading{Type: metric.TypeSteps, Value: value, Timestamp: ts, SourceDevice: "test-watch"}
}

func mustIngest(t *testing.T, eng *Engine, r metric.Reading) IngestResult {
	t.Helper()
	res, err := eng.Ingest(r)
	if err != nil {
		t.Fatalf("Ingest(%s %v) error = %v", r.Type, r.Value, err)
	}
	return res
}

func TestNewValidation(t *testing.T) {
	if _, err := New(testSettings(), nil, nil); err == nil {
		t.Error("Expected error for nil bus")
	}

	bad := testSettings()
	bad.WindowSize = 1
	if _, err := New(bad, alert.NewBus(nil, nil), nil); err == nil {
		t.Error("Expected error for window size below 2")
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"window size below 2", func(s *Settings) { s.WindowSize = 1 }},
		{"zero epsilon", func(s *Settings) { s.Epsilon = 0 }},
		{"negative cooldown", func(s *Settings) { s.Cooldown = -time.Second }},
		{"empty domain", func(s *Settings) { s.Domain = "" }},
		{"unknown timezone", func(s *Settings) { s.Timezone = "Mars/Olympus" }},
		{"unknown threshold metric", func(s *Settings) {
			s.Thresholds[metric.Type("bogus")] = detect.Thresholds{Sigma: 2, WarmUp: 5}
		}},
		{"invalid threshold", func(s *Settings) {
			s.Thresholds[metric.TypeHeartRate] = detect.Thresholds{Sigma: -1, WarmUp: 5}
		}},
		{"invalid goal", func(s *Settings) {
			s.Goals = []goal.Definition{{Name: "g", Metric: metric.TypeSteps, Target: -1, Aggregation: goal.AggregationSum}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if err := testSettings().Validate(); err != nil {
		t.Errorf("Expected valid settings, got %v", err)
	}
}

func TestIngestRejectsInvalidReading(t *testing.T) {
	eng, bus := newTestEngine(t)

	_, err := eng.Ingest(metric.Reading{Type: metric.Type("bogus"), Value: 1, Timestamp: testBase})
	if err == nil {
		t.Fatal("Expected error for unknown metric")
	}

	stats := eng.Stats()
	if stats.ReadingsRejected != 1 {
		t.Errorf("Expected 1 rejected reading, got %d", stats.ReadingsRejected)
	}
	if stats.ReadingsIngested != 0 {
		t.Errorf("Expected 0 ingested readings, got %d", stats.ReadingsIngested)
	}
	if got := bus.History(0); len(got) != 0 {
		t.Errorf("Expected empty bus history, got %d alerts", len(got))
	}
}

func TestIngestHeartRateSpikePublishes(t *testing.T) {
	eng, bus := newTestEngine(t)

	calm := []float64{70, 72, 71, 72}
	for i, v := range calm {
		res := mustIngest(t, eng, hr(v, testBase.Add(time.Duration(i)*time.Minute)))
		if len(res.Alerts) != 0 {
			t.Fatalf("Expected calm reading %v to stay quiet, got %d alerts", v, len(res.Alerts))
		}
	}

	res := mustIngest(t, eng, hr(140, testBase.Add(5*time.Minute)))
	if len(res.Alerts) != 1 {
		t.Fatalf("Expected 1 alert for spike, got %d", len(res.Alerts))
	}
	a := res.Alerts[0]
	if a.Type != alert.TypeAnomaly {
		t.Errorf("Expected anomaly alert, got %s", a.Type)
	}
	if a.Severity != alert.SeverityWarning {
		t.Errorf("Expected warning severity, got %s", a.Severity)
	}
	if a.Anomaly == nil || a.Anomaly.Metric != metric.TypeHeartRate {
		t.Errorf("Expected heart_rate anomaly context, got %+v", a.Anomaly)
	}

	history := bus.History(0)
	if len(history) != 1 || history[0].ID != a.ID {
		t.Errorf("Expected published alert in bus history, got %d entries", len(history))
	}

	stats := eng.Stats()
	if stats.ReadingsIngested != 5 {
		t.Errorf("Expected 5 ingested readings, got %d", stats.ReadingsIngested)
	}
	if stats.AnomaliesFlagged != 1 {
		t.Errorf("Expected 1 flagged anomaly, got %d", stats.AnomaliesFlagged)
	}
}

func TestIngestAnomalyThenGoalSameReading(t *testing.T) {
	eng, _ := newTestEngine(t)

	for i := 0; i < 4; i++ {
		res := mustIngest(t, eng, steps(2000, testBase.Add(time.Duration(i)*time.Minute)))
		if len(res.Alerts) != 0 {
			t.Fatalf("Expected steady steps to stay quiet, got %d alerts", len(res.Alerts))
		}
	}

	// 8000 is a statistical outlier against the flat window and pushes
	// the daily sum past 15000, so one reading yields both alerts.
	res := mustIngest(t, eng, steps(8000, testBase.Add(4*time.Minute)))
	if len(res.Alerts) != 2 {
		t.Fatalf("Expected anomaly then goal alert, got %d alerts", len(res.Alerts))
	}
	if res.Alerts[0].Type != alert.TypeAnomaly {
		t.Errorf("Expected anomaly first, got %s", res.Alerts[0].Type)
	}
	if res.Alerts[1].Type != alert.TypeGoalAchieved {
		t.Errorf("Expected goal achievement second, got %s", res.Alerts[1].Type)
	}
	if res.Alerts[1].ID != res.Alerts[0].ID+1 {
		t.Errorf("Expected consecutive alert IDs, got %d and %d", res.Alerts[0].ID, res.Alerts[1].ID)
	}
	if res.Alerts[1].Goal == nil || res.Alerts[1].Goal.Value != 16000 {
		t.Errorf("Expected goal value 16000, got %+v", res.Alerts[1].Goal)
	}

	// An echo inside the cooldown is counted but not published, and the
	// latched goal stays silent.
	res = mustIngest(t, eng, steps(20000, testBase.Add(5*time.Minute)))
	if len(res.Alerts) != 0 {
		t.Fatalf("Expected suppressed echo, got %d alerts", len(res.Alerts))
	}

	stats := eng.Stats()
	if stats.AnomaliesFlagged != 2 {
		t.Errorf("Expected 2 flagged anomalies, got %d", stats.AnomaliesFlagged)
	}
	if stats.AnomaliesSuppressed != 1 {
		t.Errorf("Expected 1 suppressed anomaly, got %d", stats.AnomaliesSuppressed)
	}
	if stats.GoalsAchieved != 1 {
		t.Errorf("Expected 1 achieved goal, got %d", stats.GoalsAchieved)
	}
}

func TestLatestReadings(t *testing.T) {
	eng, _ := newTestEngine(t)

	mustIngest(t, eng, hr(70, testBase))
	mustIngest(t, eng, hr(74, testBase.Add(time.Minute)))
	mustIngest(t, eng, steps(3000, testBase.Add(2*time.Minute)))

	latest := eng.LatestReadings()
	if len(latest) != 2 {
		t.Fatalf("Expected 2 metrics with readings, got %d", len(latest))
	}
	if latest[metric.TypeHeartRate].Value != 74 {
		t.Errorf("Expected latest heart rate 74, got %v", latest[metric.TypeHeartRate].Value)
	}
	if latest[metric.TypeSteps].Value != 3000 {
		t.Errorf("Expected latest steps 3000, got %v", latest[metric.TypeSteps].Value)
	}
}

func TestBaselinesTrackIngestedReadings(t *testing.T) {
	eng, _ := newTestEngine(t)

	for i, v := range []float64{70, 72, 71} {
		mustIngest(t, eng, hr(v, testBase.Add(time.Duration(i)*time.Minute)))
	}

	snap := eng.Baselines()[metric.TypeHeartRate]
	if snap.Count != 3 {
		t.Errorf("Expected 3 readings in window, got %d", snap.Count)
	}
	if snap.Min != 70 || snap.Max != 72 {
		t.Errorf("Expected min 70 max 72, got %v/%v", snap.Min, snap.Max)
	}
}

func TestApplySettingsHotReload(t *testing.T) {
	eng, _ := newTestEngine(t)

	for i, v := range []float64{70, 72, 71, 74} {
		mustIngest(t, eng, hr(v, testBase.Add(time.Duration(i)*time.Minute)))
	}

	next := testSettings()
	hrTh := next.Thresholds[metric.TypeHeartRate]
	hrTh.Sigma = 50
	hrTh.WatchHigh = f(200)
	next.Thresholds[metric.TypeHeartRate] = hrTh
	next.Cooldown = time.Minute
	next.WindowSize = 99

	if err := eng.ApplySettings(next); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}

	// Baselines survive the reload.
	if got := eng.Baselines()[metric.TypeHeartRate].Count; got != 4 {
		t.Errorf("Expected baseline to survive reload with 4 readings, got %d", got)
	}
	if got := eng.Thresholds()[metric.TypeHeartRate].Sigma; got != 50 {
		t.Errorf("Expected sigma 50 after reload, got %v", got)
	}
	// Window size is not hot-swappable.
	if got := eng.Settings().WindowSize; got != testSettings().WindowSize {
		t.Errorf("Expected window size unchanged, got %d", got)
	}

	// 140 flagged under the old thresholds but is quiet under sigma 50
	// with the watch band out of the way.
	res := mustIngest(t, eng, hr(140, testBase.Add(5*time.Minute)))
	if len(res.Alerts) != 0 {
		t.Errorf("Expected relaxed thresholds to stay quiet, got %d alerts", len(res.Alerts))
	}
}

func TestApplySettingsRejectsInvalid(t *testing.T) {
	eng, _ := newTestEngine(t)

	bad := testSettings()
	bad.Epsilon = -1
	if err := eng.ApplySettings(bad); err == nil {
		t.Fatal("Expected error for invalid settings")
	}

	if got := eng.Thresholds()[metric.TypeHeartRate].Sigma; got != 2.0 {
		t.Errorf("Expected thresholds untouched after rejected reload, got sigma %v", got)
	}
}

func TestApplySettingsReconcilesGoals(t *testing.T) {
	eng, _ := newTestEngine(t)

	mustIngest(t, eng, steps(4000, testBase))

	next := testSettings()
	next.Goals = []goal.Definition{
		{
			Name:        "daily_steps",
			DisplayName: "Daily Steps",
			Metric:      metric.TypeSteps,
			Target:      5000,
			Unit:        "steps",
			Aggregation: goal.AggregationSum,
		},
		{
			Name:        "sleep_duration",
			DisplayName: "Sleep Duration",
			Metric:      metric.TypeSleep,
			Target:      7,
			Unit:        "hours",
			Aggregation: goal.AggregationMax,
		},
	}
	if err := eng.ApplySettings(next); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}

	progress := eng.GoalProgress()
	if len(progress) != 2 {
		t.Fatalf("Expected 2 goals after reload, got %d", len(progress))
	}
	byName := make(map[string]goal.Progress, len(progress))
	for _, p := range progress {
		byName[p.Name] = p
	}
	if p := byName["daily_steps"]; p.Current != 4000 || p.Target != 5000 {
		t.Errorf("Expected surviving goal to keep progress 4000 with target 5000, got %+v", p)
	}
	if p := byName["sleep_duration"]; p.Current != 0 {
		t.Errorf("Expected fresh goal to start at 0, got %+v", p)
	}

	// The retargeted goal fires against the preserved progress.
	res := mustIngest(t, eng, steps(1500, testBase.Add(time.Hour)))
	if len(res.Alerts) != 1 || res.Alerts[0].Type != alert.TypeGoalAchieved {
		t.Fatalf("Expected goal achievement after retarget, got %+v", res.Alerts)
	}
	if res.Alerts[0].Goal.Value != 5500 {
		t.Errorf("Expected goal value 5500, got %v", res.Alerts[0].Goal.Value)
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("Expected default settings to validate, got %v", err)
	}
	if s.WindowSize != 20 {
		t.Errorf("Expected default window size 20, got %d", s.WindowSize)
	}
	if s.Cooldown != 5*time.Minute {
		t.Errorf("Expected default cooldown 5m, got %v", s.Cooldown)
	}
}
