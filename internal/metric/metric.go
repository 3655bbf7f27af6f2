// Package metric contains the wearable reading model and metric taxonomy.
package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type identifies the kind of measurement a wearable reading carries.
type Type string

const (
	TypeHeartRate Type = "heart_rate"
	TypeSteps     Type = "steps"
	TypeSleep     Type = "sleep"
	TypeWorkout   Type = "workout"
	TypeStress    Type = "stress"
)

// Sentinel errors returned by validation. Transports branch on these to
// classify rejected readings.
var (
	ErrUnknownMetric = errors.New("unknown metric type")
	ErrInvalidValue  = errors.New("invalid metric value")
)

// AllTypes returns every supported metric type in stable order.
func AllTypes() []Type {
	return []Type{TypeHeartRate, TypeSteps, TypeSleep, TypeWorkout, TypeStress}
}

// ParseType converts a wire string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
	return t, nil
}

// Valid reports whether the type is one of the supported metrics.
func (t Type) Valid() bool {
	switch t {
	case TypeHeartRate, TypeSteps, TypeSleep, TypeWorkout, TypeStress:
		return true
	}
	return false
}

// Unit returns the measurement unit readings of this type are expressed in.
func (t Type) Unit() string {
	switch t {
	case TypeHeartRate:
		return "bpm"
	case TypeSteps:
		return "steps"
	case TypeSleep:
		return "hours"
	case TypeWorkout:
		return "minutes"
	case TypeStress:
		return "level"
	default:
		return ""
	}
}

// DisplayName returns the human-readable name used in alert titles.
func (t Type) DisplayName() string {
	switch t {
	case TypeHeartRate:
		return "Heart Rate"
	case TypeSteps:
		return "Steps"
	case TypeSleep:
		return "Sleep"
	case TypeWorkout:
		return "Workout"
	case TypeStress:
		return "Stress"
	default:
		return string(t)
	}
}

// Reading is a single measurement reported by a wearable device.
type Reading struct {
	// Type is the metric this reading measures.
	Type Type `json:"data_type"`

	// Value is the measured quantity in the type's unit.
	Value float64 `json:"value"`

	// Timestamp is when the device recorded the measurement.
	Timestamp time.Time `json:"timestamp"`

	// SourceDevice names the reporting device, when known.
	SourceDevice string `json:"source_device,omitempty"`
}

// Validate checks that the reading can be processed. All metrics are
// non-negative quantities, so negative values are rejected alongside
// NaN and infinities.
func (r Reading) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, r.Type)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidValue)
	}
	if r.Value < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrInvalidValue, r.Type)
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// wireReading mirrors the JSON payload published by devices and the
// simulator. Unrecognized fields (unit, event_id, alert_level, metadata)
// are ignored. Value tolerates numeric strings because some firmwares
// quote numbers.
type wireReading struct {
	DataType     string          `json:"data_type"`
	Value        json.RawMessage `json:"value"`
	Timestamp    string          `json:"timestamp"`
	SourceDevice string          `json:"source_device"`
}

// ParseReading decodes and validates one wire payload. A missing timestamp
// defaults to the current time; a present one must be RFC3339.
func ParseReading(data []byte) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}

	t, err := ParseType(w.DataType)
	if err != nil {
		return Reading{}, err
	}

	value, err := parseValue(w.Value)
	if err != nil {
		return Reading{}, err
	}

	ts := time.Now().UTC()
	if w.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return Reading{}, fmt.Errorf("parse timestamp %q: %w", w.Timestamp, err)
		}
		ts = ts.UTC()
	}

	r := Reading{
		Type:         t,
		Value:        value,
		Timestamp:    ts,
		SourceDevice: w.SourceDevice,
	}
	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func parseValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: value is required", ErrInvalidValue)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidValue, s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidValue, string(raw))
}
