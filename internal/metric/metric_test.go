package metric

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr bool
	}{
		{name: "heart rate", input: "heart_rate", want: TypeHeartRate},
		{name: "steps", input: "steps", want: TypeSteps},
		{name: "sleep", input: "sleep", want: TypeSleep},
		{name: "workout", input: "workout", want: TypeWorkout},
		{name: "stress", input: "stress", want: TypeStress},
		{name: "unknown", input: "blood_oxygen", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "case sensitive", input: "Heart_Rate", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseType(%q) expected error, got %v", tt.input, got)
				}
				if !errors.Is(err, ErrUnknownMetric) {
					t.Errorf("expected ErrUnknownMetric, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseType(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTypeUnit(t *testing.T) {
	tests := []struct {
		typ  Type
		unit string
	}{
		{TypeHeartRate, "bpm"},
		{TypeSteps, "steps"},
		{TypeSleep, "hours"},
		{TypeWorkout, "minutes"},
		{TypeStress, "level"},
	}
	for _, tt := range tests {
		if got := tt.typ.Unit(); got != tt.unit {
			t.Errorf("%s: expected unit %q, got %q", tt.typ, tt.unit, got)
		}
	}
}

func TestTypeDisplayName(t *testing.T) {
	if got := TypeHeartRate.DisplayName(); got != "Heart Rate" {
		t.Errorf("Expected 'Heart Rate', got %q", got)
	}
	if got := TypeSteps.DisplayName(); got != "Steps" {
		t.Errorf("Expected 'Steps', got %q", got)
	}
}

func TestReadingValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		reading Reading
		wantErr error
	}{
		{
			name:    "valid",
			reading: Reading{Type: TypeHeartRate, Value: 72, Timestamp: now},
		},
		{
			name:    "zero value allowed",
			reading: Reading{Type: TypeSteps, Value: 0, Timestamp: now},
		},
		{
			name:    "unknown type",
			reading: Reading{Type: "oxygen", Value: 98, Timestamp: now},
			wantErr: ErrUnknownMetric,
		},
		{
			name:    "nan value",
			reading: Reading{Type: TypeHeartRate, Value: math.NaN(), Timestamp: now},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "infinite value",
			reading: Reading{Type: TypeHeartRate, Value: math.Inf(1), Timestamp: now},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "negative value",
			reading: Reading{Type: TypeSteps, Value: -100, Timestamp: now},
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReadingValidateZeroTimestamp(t *testing.T) {
	r := Reading{Type: TypeHeartRate, Value: 72}
	if err := r.Validate(); err == nil {
		t.Error("expected error for zero timestamp")
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantType  Type
		wantValue float64
		wantErr   bool
	}{
		{
			name:      "full payload",
			payload:   `{"data_type":"heart_rate","value":72,"timestamp":"2026-08-23T10:15:00Z","source_device":"Garmin Venu"}`,
			wantType:  TypeHeartRate,
			wantValue: 72,
		},
		{
			name:      "quoted numeric value",
			payload:   `{"data_type":"steps","value":"3500","timestamp":"2026-08-23T10:15:00Z"}`,
			wantType:  TypeSteps,
			wantValue: 3500,
		},
		{
			name:      "extra fields ignored",
			payload:   `{"event_id":"WRB-1A2B3C4D","event_type":"wearable_data","data_type":"stress","value":42,"unit":"level","timestamp":"2026-08-23T10:15:00Z","alert_level":"normal","message":"x"}`,
			wantType:  TypeStress,
			wantValue: 42,
		},
		{
			name:      "missing timestamp defaults to now",
			payload:   `{"data_type":"sleep","value":7.5}`,
			wantType:  TypeSleep,
			wantValue: 7.5,
		},
		{
			name:    "unknown type",
			payload: `{"data_type":"blood_oxygen","value":98,"timestamp":"2026-08-23T10:15:00Z"}`,
			wantErr: true,
		},
		{
			name:    "non-numeric value",
			payload: `{"data_type":"heart_rate","value":"high","timestamp":"2026-08-23T10:15:00Z"}`,
			wantErr: true,
		},
		{
			name:    "missing value",
			payload: `{"data_type":"heart_rate","timestamp":"2026-08-23T10:15:00Z"}`,
			wantErr: true,
		},
		{
			name:    "bad timestamp",
			payload: `{"data_type":"heart_rate","value":72,"timestamp":"23/08/2026 10:15"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `heart_rate=72`,
			wantErr: true,
		},
		{
			name:    "negative value",
			payload: `{"data_type":"steps","value":-10,"timestamp":"2026-08-23T10:15:00Z"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReading([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tt.wantType {
				t.Errorf("Expected type %v, got %v", tt.wantType, got.Type)
			}
			if got.Value != tt.wantValue {
				t.Errorf("Expected value %v, got %v", tt.wantValue, got.Value)
			}
			if got.Timestamp.IsZero() {
				t.Error("timestamp should never be zero after parse")
			}
		})
	}
}

func TestParseReadingTimestampUTC(t *testing.T) {
	payload := `{"data_type":"heart_rate","value":70,"timestamp":"2026-08-23T12:15:00+02:00"}`
	r, err := ParseReading([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("Expected %v, got %v", want, r.Timestamp)
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp should be normalized to UTC, got %v", r.Timestamp.Location())
	}
}
