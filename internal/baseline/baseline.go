// Package baseline maintains rolling statistical baselines for wearable
// metrics. A Tracker holds the last N values of one metric in a fixed ring
// and derives mean, spread, and extremes from the window contents.
package baseline

import (
	"fmt"
	"math"
)

// Snapshot is a point-in-time view of a tracker's window.
type Snapshot struct {
	// Mean is the arithmetic mean of the window contents.
	Mean float64 `json:"mean"`

	// StdDev is the sample standard deviation of the window contents.
	// Zero when the window holds fewer than two values.
	StdDev float64 `json:"std_dev"`

	// Min and Max are the extremes currently in the window.
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// Count is the number of values currently in the window.
	Count int `json:"count"`

	// Total counts every observation since the tracker was created,
	// including values that have since been evicted.
	Total uint64 `json:"total"`
}

// Tracker is a fixed-capacity ring over the most recent observations of a
// single metric. It is not safe for concurrent use; each tracker is owned
// by exactly one detector.
type Tracker struct {
	size   int
	values []float64
	index  int
	count  int
	sum    float64
	total  uint64
}

// New creates a tracker over a window of windowSize values.
func New(windowSize int) (*Tracker, error) {
	if windowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2, got %d", windowSize)
	}
	return &Tracker{
		size:   windowSize,
		values: make([]float64, windowSize),
	}, nil
}

// Observe returns the snapshot of the window as it was BEFORE v is added,
// then admits v, evicting the oldest value once the ring is full. Deviation
// is always judged against the baseline that existed when the reading
// arrived, so a sudden outlier cannot dilute the statistics it is compared
// against.
func (t *Tracker) Observe(v float64) Snapshot {
	snap := t.Snapshot()
	t.add(v)
	return snap
}

// Snapshot returns the current window statistics without mutating state.
func (t *Tracker) Snapshot() Snapshot {
	if t.count == 0 {
		return Snapshot{Total: t.total}
	}

	mean := t.sum / float64(t.count)
	min := t.values[0]
	max := t.values[0]
	var sq float64
	for i := 0; i < t.count; i++ {
		v := t.values[i]
		sq += (v - mean) * (v - mean)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	var stddev float64
	if t.count > 1 {
		stddev = math.Sqrt(sq / float64(t.count-1))
	}

	return Snapshot{
		Mean:   mean,
		StdDev: stddev,
		Min:    min,
		Max:    max,
		Count:  t.count,
		Total:  t.total,
	}
}

// WindowSize returns the ring capacity.
func (t *Tracker) WindowSize() int {
	return t.size
}

func (t *Tracker) add(v float64) {
	if t.count < t.size {
		t.values[t.index] = v
		t.sum += v
		t.count++
	} else {
		t.sum += v - t.values[t.index]
		t.values[t.index] = v
	}
	t.index = (t.index + 1) % t.size
	t.total++
}
