package main

import (
	"context"
	"testing"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// captureSink records published readings.
type captureSink struct {
	readings []metric.Reading
}

func (c *captureSink) Publish(_ context.Context, r metric.Reading) error {
	c.readings = append(c.readings, r)
	return nil
}

func (c *captureSink) Close() error { return nil }

func TestHeartRateWithinRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := heartRate(restingLow, restingHigh)
		if r.Type != metric.TypeHeartRate {
			t.Fatalf("Type = %v, want heart_rate", r.Type)
		}
		if r.Value < restingLow || r.Value > restingHigh {
			t.Fatalf("resting heart rate %v outside [%d, %d]", r.Value, restingLow, restingHigh)
		}
	}
}

func TestStepsIncrementWithinRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := stepsIncrement()
		if r.Value < 50 || r.Value > 500 {
			t.Fatalf("step increment %v outside [50, 500]", r.Value)
		}
	}
}

func TestStressReadingWithinScale(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := stressReading()
		if r.Value < 20 || r.Value > 100 {
			t.Fatalf("stress level %v outside [20, 100]", r.Value)
		}
	}
}

func TestSleepReadingRanges(t *testing.T) {
	// Explicit hours pass through untouched
	r := sleepReading(7.5)
	if r.Value != 7.5 {
		t.Errorf("sleepReading(7.5).Value = %v, want 7.5", r.Value)
	}

	// Generated hours land in one of the two bands
	for i := 0; i < 100; i++ {
		r := sleepReading(0)
		if (r.Value < 3 || r.Value > 5) && (r.Value < 6 || r.Value > 9) {
			t.Fatalf("generated sleep %v outside [3, 5] and [6, 9]", r.Value)
		}
	}
}

func TestNewReadingAttributesDevice(t *testing.T) {
	r := newReading(metric.TypeHeartRate, 70)

	found := false
	for _, d := range wearableDevices {
		if r.SourceDevice == d {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("SourceDevice %q not in device list", r.SourceDevice)
	}
	if r.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("generated reading invalid: %v", err)
	}
}

func TestRunStressSequence(t *testing.T) {
	sink := &captureSink{}
	if err := runStress(context.Background(), sink, 0); err != nil {
		t.Fatalf("runStress: %v", err)
	}

	want := []float64{30, 45, 60, 75, 85, 70, 55, 40, 30}
	if len(sink.readings) != len(want) {
		t.Fatalf("published %d readings, want %d", len(sink.readings), len(want))
	}
	for i, r := range sink.readings {
		if r.Type != metric.TypeStress {
			t.Errorf("reading %d type = %v, want stress", i, r.Type)
		}
		if r.Value != want[i] {
			t.Errorf("reading %d = %v, want %v", i, r.Value, want[i])
		}
	}
}

func TestRunWorkoutShape(t *testing.T) {
	sink := &captureSink{}
	if err := runWorkout(context.Background(), sink, "running", 15, 0); err != nil {
		t.Fatalf("runWorkout: %v", err)
	}

	// 3 exercise samples, the 15 minute session, one recovery sample
	if len(sink.readings) != 5 {
		t.Fatalf("published %d readings, want 5", len(sink.readings))
	}
	for i := 0; i < 3; i++ {
		if sink.readings[i].Type != metric.TypeHeartRate {
			t.Errorf("reading %d type = %v, want heart_rate", i, sink.readings[i].Type)
		}
		if sink.readings[i].Value < exerciseLow || sink.readings[i].Value > exerciseHigh {
			t.Errorf("exercise heart rate %v outside [%d, %d]", sink.readings[i].Value, exerciseLow, exerciseHigh)
		}
	}
	if sink.readings[3].Type != metric.TypeWorkout || sink.readings[3].Value != 15 {
		t.Errorf("reading 3 = %v %v, want workout 15", sink.readings[3].Type, sink.readings[3].Value)
	}
	if sink.readings[4].Type != metric.TypeHeartRate {
		t.Errorf("reading 4 type = %v, want heart_rate", sink.readings[4].Type)
	}
}

func TestRunSleepShape(t *testing.T) {
	sink := &captureSink{}
	if err := runSleep(context.Background(), sink, 6.5); err != nil {
		t.Fatalf("runSleep: %v", err)
	}

	if len(sink.readings) != 2 {
		t.Fatalf("published %d readings, want 2", len(sink.readings))
	}
	if sink.readings[0].Type != metric.TypeSleep || sink.readings[0].Value != 6.5 {
		t.Errorf("reading 0 = %v %v, want sleep 6.5", sink.readings[0].Type, sink.readings[0].Value)
	}
	if sink.readings[1].Type != metric.TypeHeartRate {
		t.Errorf("reading 1 type = %v, want heart_rate", sink.readings[1].Type)
	}
}

func TestRunRandomCount(t *testing.T) {
	sink := &captureSink{}
	if err := runRandom(context.Background(), sink, 0, 25); err != nil {
		t.Fatalf("runRandom: %v", err)
	}

	if len(sink.readings) != 25 {
		t.Fatalf("published %d readings, want 25", len(sink.readings))
	}
	for i, r := range sink.readings {
		if err := r.Validate(); err != nil {
			t.Errorf("reading %d invalid: %v", i, err)
		}
	}
}

func TestRunOnceRejectsUnknownType(t *testing.T) {
	sink := &captureSink{}
	if err := runOnce(context.Background(), sink, "blood_sugar", 1); err == nil {
		t.Error("expected error for unknown reading type")
	}
	if len(sink.readings) != 0 {
		t.Errorf("published %d readings, want 0", len(sink.readings))
	}
}
