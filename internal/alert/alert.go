// Package alert defines the alert model and the in-process fan-out bus
// that delivers alerts to streaming subscribers.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Severity is the urgency of an alert, ordered info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a wire string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for escalation comparisons. Higher is more urgent;
// unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// Type discriminates the alert variants.
type Type string

const (
	TypeAnomaly      Type = "anomaly"
	TypeGoalAchieved Type = "goal_achieved"
)

// Valid reports whether the type is a known alert variant.
func (t Type) Valid() bool {
	return t == TypeAnomaly || t == TypeGoalAchieved
}

// AnomalyContext carries the detection details of an anomaly alert.
type AnomalyContext struct {
	// Metric is the metric type the anomaly was observed on.
	Metric metric.Type `json:"data_type"`

	// Value is the reading that triggered the alert.
	Value float64 `json:"value"`

	// Baseline is the window mean the value was judged against.
	Baseline float64 `json:"baseline"`

	// Deviation is the distance from the baseline in standard deviations.
	Deviation float64 `json:"deviation"`
}

// GoalContext carries the progress details of a goal achievement alert.
type GoalContext struct {
	// Name is the goal identifier, e.g. "daily_steps".
	Name string `json:"goal_name"`

	// Value is the accumulated progress when the goal was reached.
	Value float64 `json:"value"`

	// Target is the goal's target value.
	Target float64 `json:"goal_target"`
}

// Draft is an alert as produced by a detector or goal tracker, before the
// bus assigns identity. Exactly one of Anomaly or Goal must match Type.
type Draft struct {
	Type     Type
	Severity Severity
	Domain   string
	Title    string
	Message  string
	Anomaly  *AnomalyContext
	Goal     *GoalContext
}

// Validate checks the draft is publishable.
func (d Draft) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("unknown alert type %q", d.Type)
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", d.Severity)
	}
	if d.Title == "" {
		return errors.New("title is required")
	}
	switch d.Type {
	case TypeAnomaly:
		if d.Anomaly == nil {
			return errors.New("anomaly alert requires anomaly context")
		}
		if d.Goal != nil {
			return errors.New("anomaly alert must not carry goal context")
		}
	case TypeGoalAchieved:
		if d.Goal == nil {
			return errors.New("goal alert requires goal context")
		}
		if d.Anomaly != nil {
			return errors.New("goal alert must not carry anomaly context")
		}
	}
	return nil
}

// Alert is a published alert. IDs are assigned by the bus and strictly
// increase in publish order.
type Alert struct {
	ID        uint64    `json:"id"`
	Type      Type      `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	Domain    string    `json:"domain"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`

	// Anomaly is set iff Type is TypeAnomaly.
	Anomaly *AnomalyContext `json:"anomaly,omitempty"`

	// Goal is set iff Type is TypeGoalAchieved.
	Goal *GoalContext `json:"goal,omitempty"`
}
