// Package goal tracks daily wellness goals against the reading stream.
// Each tracker accumulates one goal's progress for the current day and
// fires a single achievement alert when the target is reached; the day
// boundary is judged per reading timestamp in a configured location.
package goal

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

const dayLayout = "2006-01-02"

// Aggregation decides how readings fold into daily progress.
type Aggregation string

const (
	// AggregationSum accumulates reading values: step counts, active
	// minutes.
	AggregationSum Aggregation = "sum"

	// AggregationMax keeps the largest reading of the day: a re-reported
	// sleep session must not double-count.
	AggregationMax Aggregation = "max"
)

// Valid reports whether the aggregation is known.
func (a Aggregation) Valid() bool {
	return a == AggregationSum || a == AggregationMax
}

// Definition describes one daily goal.
type Definition struct {
	// Name is the goal identifier used on the wire, e.g. "daily_steps".
	Name string `yaml:"name" json:"name"`

	// DisplayName is used in alert titles, e.g. "Daily Steps".
	DisplayName string `yaml:"display_name" json:"display_name"`

	// Metric is the reading type that feeds this goal.
	Metric metric.Type `yaml:"metric" json:"metric"`

	// Target is the daily target in the metric's unit.
	Target float64 `yaml:"target" json:"target"`

	// Unit labels progress in API responses.
	Unit string `yaml:"unit" json:"unit"`

	// Aggregation is how readings fold into progress.
	Aggregation Aggregation `yaml:"aggregation" json:"aggregation"`

	// Message is the celebration text of the achievement alert.
	Message string `yaml:"message" json:"message"`
}

// Validate checks the definition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("goal name is required")
	}
	if !d.Metric.Valid() {
		return fmt.Errorf("goal %s: %w: %q", d.Name, metric.ErrUnknownMetric, d.Metric)
	}
	if d.Target <= 0 {
		return fmt.Errorf("goal %s: target must be positive, got %v", d.Name, d.Target)
	}
	if !d.Aggregation.Valid() {
		return fmt.Errorf("goal %s: unknown aggregation %q", d.Name, d.Aggregation)
	}
	return nil
}

// DefaultDefinitions returns the shipped goals.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        "daily_steps",
			DisplayName: "Daily Steps",
			Metric:      metric.TypeSteps,
			Target:      10000,
			Unit:        "steps",
			Aggregation: AggregationSum,
			Message:     "Congratulations! Daily step goal achieved - excellent work!",
		},
		{
			Name:        "active_minutes",
			DisplayName: "Active Minutes",
			Metric:      metric.TypeWorkout,
			Target:      30,
			Unit:        "minutes",
			Aggregation: AggregationSum,
			Message:     "Daily activity goal reached - keep up the movement!",
		},
		{
			Name:        "sleep_duration",
			DisplayName: "Sleep Duration",
			Metric:      metric.TypeSleep,
			Target:      7.0,
			Unit:        "hours",
			Aggregation: AggregationMax,
			Message:     "Healthy sleep duration achieved - well rested!",
		},
	}
}

// Progress is a point-in-time view of one goal.
type Progress struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Metric      metric.Type `json:"metric"`
	Current     float64     `json:"current"`
	Target      float64     `json:"target"`
	Percent     float64     `json:"percent"`
	Achieved    bool        `json:"achieved"`
	Unit        string      `json:"unit"`
	Day         string      `json:"day"`
}

// Tracker accumulates one goal's progress. It is not safe for concurrent
// use; the pipeline serializes updates.
type Tracker struct {
	def    Definition
	loc    *time.Location
	domain string
	logger *zap.Logger

	day        string
	current    float64
	achieved   bool
	achievedAt time.Time
}

// NewTracker creates a tracker for one goal definition.
func NewTracker(def Definition, loc *time.Location, domain string, logger *zap.Logger) (*Tracker, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Name
	}
	if def.Message == "" {
		def.Message = fmt.Sprintf("Daily goal reached: %.0f %s", def.Target, def.Unit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		def:    def,
		loc:    loc,
		domain: domain,
		logger: logger,
	}, nil
}

// Update folds one reading into the day's progress. It returns an
// achievement draft the first time the target is reached on a given day,
// and nil otherwise. Readings for other metrics are ignored; readings
// dated before the current day are discarded silently.
func (t *Tracker) Update(r metric.Reading) *alert.Draft {
	if r.Type != t.def.Metric {
		return nil
	}

	day := r.Timestamp.In(t.loc).Format(dayLayout)
	switch {
	case day > t.day:
		// New day: progress and the achievement latch reset.
		if t.day != "" {
			t.logger.Debug("goal day rollover",
				zap.String("goal", t.def.Name),
				zap.String("from", t.day),
				zap.String("to", day))
		}
		t.day = day
		t.current = 0
		t.achieved = false
		t.achievedAt = time.Time{}
	case day < t.day:
		// Straggler from a previous day.
		return nil
	}

	switch t.def.Aggregation {
	case AggregationSum:
		t.current += r.Value
	case AggregationMax:
		if r.Value > t.current {
			t.current = r.Value
		}
	}

	if t.achieved || t.current < t.def.Target {
		return nil
	}

	t.achieved = true
	t.achievedAt = r.Timestamp
	metrics.GoalsAchievedTotal.WithLabelValues(t.def.Name).Inc()
	t.logger.Info("goal achieved",
		zap.String("goal", t.def.Name),
		zap.Float64("value", t.current),
		zap.Float64("target", t.def.Target),
		zap.String("day", t.day))

	return &alert.Draft{
		Type:     alert.TypeGoalAchieved,
		Severity: alert.SeverityInfo,
		Domain:   t.domain,
		Title:    fmt.Sprintf("Goal Achieved: %s!", t.def.DisplayName),
		Message:  t.def.Message,
		Goal: &alert.GoalContext{
			Name:   t.def.Name,
			Value:  t.current,
			Target: t.def.Target,
		},
	}
}

// Progress reports the tracker's current state.
func (t *Tracker) Progress() Progress {
	percent := 0.0
	if t.def.Target > 0 {
		percent = t.current / t.def.Target * 100
		if percent > 100 {
			percent = 100
		}
	}
	return Progress{
		Name:        t.def.Name,
		DisplayName: t.def.DisplayName,
		Metric:      t.def.Metric,
		Current:     t.current,
		Target:      t.def.Target,
		Percent:     percent,
		Achieved:    t.achieved,
		Unit:        t.def.Unit,
		Day:         t.day,
	}
}

// Definition returns the tracked goal's definition.
func (t *Tracker) Definition() Definition {
	return t.def
}

// SetTarget adjusts the target at runtime. An already-achieved day stays
// achieved even if the new target is higher.
func (t *Tracker) SetTarget(target float64) error {
	if target <= 0 {
		return fmt.Errorf("goal %s: target must be positive, got %v", t.def.Name, target)
	}
	t.def.Target = target
	return nil
}
