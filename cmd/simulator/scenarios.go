package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Devices readings are attributed to.
var wearableDevices = []string{"Apple Watch", "Fitbit Charge 5", "Garmin Venu", "Samsung Galaxy Watch"}

var workoutTypes = []string{"running", "cycling", "strength", "yoga", "swimming", "hiking", "walking"}

// Heart rate ranges in bpm.
const (
	restingLow, restingHigh   = 55, 75
	normalLow, normalHigh     = 60, 100
	elevatedLow, elevatedHigh = 100, 120
	exerciseLow, exerciseHigh = 100, 160
)

func newReading(t metric.Type, value float64) metric.Reading {
	return metric.Reading{
		Type:         t,
		Value:        value,
		Timestamp:    time.Now().UTC(),
		SourceDevice: wearableDevices[rand.Intn(len(wearableDevices))],
	}
}

// randInt returns a uniform integer in [low, high].
func randInt(low, high int) int {
	return low + rand.Intn(high-low+1)
}

// randRound returns a uniform value in [low, high] rounded to one decimal.
func randRound(low, high float64) float64 {
	return math.Round((low+rand.Float64()*(high-low))*10) / 10
}

func heartRate(low, high int) metric.Reading {
	return newReading(metric.TypeHeartRate, float64(randInt(low, high)))
}

func stepsIncrement() metric.Reading {
	return newReading(metric.TypeSteps, float64(randInt(50, 500)))
}

func stressReading() metric.Reading {
	// 60% normal, 30% elevated, 10% critical on the 0-100 scale
	var low, high int
	switch p := rand.Float64(); {
	case p < 0.6:
		low, high = 20, 50
	case p < 0.9:
		low, high = 50, 70
	default:
		low, high = 70, 100
	}
	return newReading(metric.TypeStress, float64(randInt(low, high)))
}

func sleepReading(hours float64) metric.Reading {
	if hours <= 0 {
		// Most nights are fine, some are short
		if rand.Float64() < 0.8 {
			hours = randRound(6, 9)
		} else {
			hours = randRound(3, 5)
		}
	}
	return newReading(metric.TypeSleep, hours)
}

func publish(ctx context.Context, sink Sink, r metric.Reading) error {
	if err := sink.Publish(ctx, r); err != nil {
		return fmt.Errorf("publish %s reading: %w", r.Type, err)
	}
	log.Printf("published %s = %v (%s)", r.Type, r.Value, r.SourceDevice)
	return nil
}

// sleepCtx waits for the interval unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// runRandom emits a weighted mix of readings until count is reached or
// the context ends.
func runRandom(ctx context.Context, sink Sink, interval time.Duration, count int) error {
	if count > 0 {
		log.Printf("scenario: %d random readings every %v", count, interval)
	} else {
		log.Printf("scenario: random readings every %v (Ctrl+C to stop)", interval)
	}

	sent := 0
	for count <= 0 || sent < count {
		var r metric.Reading
		// Weighted mix: step bursts 30%, resting HR 28%, daytime HR
		// 21%, stress 21%
		switch p := rand.Float64(); {
		case p < 0.30:
			r = stepsIncrement()
		case p < 0.58:
			r = heartRate(restingLow, restingHigh)
		case p < 0.79:
			r = heartRate(normalLow, normalHigh)
		default:
			r = stressReading()
		}

		if err := publish(ctx, sink, r); err != nil {
			return err
		}
		sent++

		if count > 0 && sent >= count {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			break
		}
	}

	log.Printf("sent %d readings", sent)
	return nil
}

// runWorkout simulates a workout session: exercise heart rate samples
// while it runs, the session minutes on completion, then a recovery
// heart rate.
func runWorkout(ctx context.Context, sink Sink, workoutType string, minutes int, interval time.Duration) error {
	if workoutType == "" {
		workoutType = workoutTypes[rand.Intn(len(workoutTypes))]
	}
	log.Printf("scenario: %d minute %s workout", minutes, workoutType)

	// One heart rate sample per five simulated minutes
	for i := 0; i < minutes/5; i++ {
		if err := publish(ctx, sink, heartRate(exerciseLow, exerciseHigh)); err != nil {
			return err
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil
		}
	}

	// The session itself counts toward active minutes once it is done
	if err := publish(ctx, sink, newReading(metric.TypeWorkout, float64(minutes))); err != nil {
		return err
	}

	if err := sleepCtx(ctx, interval); err != nil {
		return nil
	}
	if err := publish(ctx, sink, heartRate(elevatedLow, elevatedHigh)); err != nil {
		return err
	}

	log.Printf("workout complete")
	return nil
}

// runSleep emits one sleep session and the morning resting heart rate.
func runSleep(ctx context.Context, sink Sink, hours float64) error {
	r := sleepReading(hours)
	log.Printf("scenario: %.1f hour sleep session", r.Value)

	if err := publish(ctx, sink, r); err != nil {
		return err
	}
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return nil
	}
	return publish(ctx, sink, heartRate(restingLow, restingHigh))
}

// runStress walks stress up to a peak and back down.
func runStress(ctx context.Context, sink Sink, interval time.Duration) error {
	log.Printf("scenario: stress escalation and recovery")

	levels := []float64{30, 45, 60, 75, 85, 70, 55, 40, 30}
	for _, level := range levels {
		if err := publish(ctx, sink, newReading(metric.TypeStress, level)); err != nil {
			return err
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil
		}
	}
	return nil
}

// runElevatedHR simulates a resting heart rate that climbs well above
// baseline and then recovers.
func runElevatedHR(ctx context.Context, sink Sink, interval time.Duration) error {
	log.Printf("scenario: elevated resting heart rate")

	if err := publish(ctx, sink, heartRate(restingLow, restingHigh)); err != nil {
		return err
	}

	readings := []float64{85, 95, 105, 115, 125, 110, 95, 80, 72}
	for _, bpm := range readings {
		if err := sleepCtx(ctx, interval); err != nil {
			return nil
		}
		if err := publish(ctx, sink, newReading(metric.TypeHeartRate, bpm)); err != nil {
			return err
		}
	}
	return nil
}

// runOnce publishes a single reading.
func runOnce(ctx context.Context, sink Sink, typeName string, value float64) error {
	t, err := metric.ParseType(typeName)
	if err != nil {
		return err
	}
	return publish(ctx, sink, newReading(t, value))
}
