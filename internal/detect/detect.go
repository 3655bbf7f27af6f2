// Package detect flags anomalous wearable readings by comparing each new
// value against a rolling per-metric baseline. Severity is decided on a
// ladder: absolute physiological limits are critical, statistical outliers
// cap at warning, and a configurable watch band forces at least a warning
// even when the baseline has normalized around elevated values.
package detect

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/baseline"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

// warningFactor scales Sigma to the z-score at which an anomaly is
// reported as warning instead of info.
const warningFactor = 1.5

// Thresholds configures detection for one metric type. Absolute limits are
// optional; nil disables the corresponding check.
type Thresholds struct {
	// Sigma is the z-score at which a reading is flagged as anomalous.
	Sigma float64 `yaml:"sigma" json:"sigma"`

	// WarmUp is the number of observations the baseline must have seen
	// before the detector judges readings at all.
	WarmUp int `yaml:"warm_up" json:"warm_up"`

	// CriticalHigh and CriticalLow are absolute limits that yield a
	// critical alert regardless of the baseline.
	CriticalHigh *float64 `yaml:"critical_high,omitempty" json:"critical_high,omitempty"`
	CriticalLow  *float64 `yaml:"critical_low,omitempty" json:"critical_low,omitempty"`

	// WatchHigh and WatchLow bound the always-flag band: values beyond
	// them are reported at warning or higher even when statistically
	// unremarkable.
	WatchHigh *float64 `yaml:"watch_high,omitempty" json:"watch_high,omitempty"`
	WatchLow  *float64 `yaml:"watch_low,omitempty" json:"watch_low,omitempty"`
}

// Validate checks the thresholds for internal consistency.
func (t Thresholds) Validate() error {
	if t.Sigma <= 0 {
		return fmt.Errorf("sigma must be positive, got %v", t.Sigma)
	}
	if t.WarmUp < 1 {
		return fmt.Errorf("warm_up must be at least 1, got %d", t.WarmUp)
	}
	if t.CriticalHigh != nil && t.CriticalLow != nil && *t.CriticalLow >= *t.CriticalHigh {
		return fmt.Errorf("critical_low %v must be below critical_high %v", *t.CriticalLow, *t.CriticalHigh)
	}
	if t.WatchHigh != nil && t.WatchLow != nil && *t.WatchLow >= *t.WatchHigh {
		return fmt.Errorf("watch_low %v must be below watch_high %v", *t.WatchLow, *t.WatchHigh)
	}
	return nil
}

// DefaultThresholds returns the shipped per-metric thresholds. Stress
// assumes the simulator's 0-100 scale.
func DefaultThresholds() map[metric.Type]Thresholds {
	return map[metric.Type]Thresholds{
		metric.TypeHeartRate: {Sigma: 2.0, WarmUp: 10, CriticalHigh: f64(150), CriticalLow: f64(35), WatchHigh: f64(130), WatchLow: f64(40)},
		metric.TypeSteps:     {Sigma: 2.5, WarmUp: 5},
		metric.TypeSleep:     {Sigma: 2.0, WarmUp: 7, CriticalLow: f64(4)},
		metric.TypeWorkout:   {Sigma: 2.5, WarmUp: 3},
		metric.TypeStress:    {Sigma: 2.0, WarmUp: 5, CriticalHigh: f64(90)},
	}
}

func f64(v float64) *float64 { return &v }

// Options configures detector behavior shared across metric types.
type Options struct {
	// WindowSize is the baseline ring capacity.
	WindowSize int

	// Epsilon is the floor for the standard deviation in the z-score
	// denominator, so a zero-variance window still yields a finite score.
	Epsilon float64

	// Cooldown is the debounce window between repeat alerts of the same
	// or lower severity, measured on reading timestamps.
	Cooldown time.Duration

	// Domain tags emitted alerts, e.g. "fitness".
	Domain string
}

// DefaultOptions returns default detector options.
func DefaultOptions() Options {
	return Options{
		WindowSize: 20,
		Epsilon:    0.001,
		Cooldown:   5 * time.Minute,
		Domain:     "fitness",
	}
}

// Result is the outcome of evaluating one reading.
type Result struct {
	// Flagged reports whether the reading was anomalous, suppressed or not.
	Flagged bool

	// Suppressed reports that an anomaly was silenced by the debounce
	// window. Flagged is true whenever Suppressed is.
	Suppressed bool

	// Severity of the anomaly; empty when not flagged.
	Severity alert.Severity

	// ZScore is the reading's distance from the baseline mean in
	// standard deviations. Zero while warming up.
	ZScore float64

	// Baseline is the window snapshot the reading was judged against,
	// taken before the reading entered the window.
	Baseline baseline.Snapshot

	// Draft is the alert to publish. Non-nil iff Flagged && !Suppressed.
	Draft *alert.Draft
}

// Stats is a snapshot of detector counters.
type Stats struct {
	Evaluated  int64 `json:"evaluated"`
	Flagged    int64 `json:"flagged"`
	Suppressed int64 `json:"suppressed"`
}

// Detector evaluates readings of a single metric type. It is not safe for
// concurrent use; the pipeline serializes calls per metric type.
type Detector struct {
	metricType metric.Type
	thresholds Thresholds
	opts       Options
	tracker    *baseline.Tracker
	logger     *zap.Logger

	// Debounce state, keyed on reading timestamps so replayed history
	// behaves the same as live traffic.
	emitted      bool
	lastSeverity alert.Severity
	lastEmitAt   time.Time

	stats Stats
}

// New creates a detector for one metric type.
func New(metricType metric.Type, thresholds Thresholds, opts Options, logger *zap.Logger) (*Detector, error) {
	if !metricType.Valid() {
		return nil, fmt.Errorf("%w: %q", metric.ErrUnknownMetric, metricType)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds for %s: %w", metricType, err)
	}
	if opts.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %v", opts.Epsilon)
	}
	if opts.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative, got %v", opts.Cooldown)
	}
	tracker, err := baseline.New(opts.WindowSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		metricType: metricType,
		thresholds: thresholds,
		opts:       opts,
		tracker:    tracker,
		logger:     logger,
	}, nil
}

// Evaluate folds one reading into the baseline and reports whether it is
// anomalous. The reading is judged against the window as it was before the
// reading arrived.
func (d *Detector) Evaluate(r metric.Reading) Result {
	d.stats.Evaluated++
	snap := d.tracker.Observe(r.Value)

	res := Result{Baseline: snap}

	// The first WarmUp observations only feed the baseline; nothing is
	// judged, absolute limits included.
	if snap.Total < uint64(d.thresholds.WarmUp) {
		return res
	}

	std := snap.StdDev
	if std < d.opts.Epsilon {
		std = d.opts.Epsilon
	}
	z := math.Abs(r.Value-snap.Mean) / std
	res.ZScore = z

	severity := d.classify(r.Value, z)
	if severity == "" {
		return res
	}

	res.Flagged = true
	res.Severity = severity
	d.stats.Flagged++

	if d.withinDebounce(severity, r.Timestamp) {
		res.Suppressed = true
		d.stats.Suppressed++
		metrics.AnomaliesSuppressedTotal.WithLabelValues(string(d.metricType)).Inc()
		d.logger.Debug("anomaly suppressed by cool-down",
			zap.String("metric", string(d.metricType)),
			zap.Float64("value", r.Value),
			zap.String("severity", string(severity)))
		return res
	}

	d.emitted = true
	d.lastSeverity = severity
	d.lastEmitAt = r.Timestamp

	res.Draft = d.buildDraft(r, snap, z, severity)
	metrics.AnomaliesFlaggedTotal.WithLabelValues(string(d.metricType), string(severity)).Inc()
	return res
}

// classify maps a value and its z-score onto the severity ladder. An
// empty severity means the reading is unremarkable.
func (d *Detector) classify(value, z float64) alert.Severity {
	t := d.thresholds

	if t.CriticalHigh != nil && value >= *t.CriticalHigh {
		return alert.SeverityCritical
	}
	if t.CriticalLow != nil && value <= *t.CriticalLow {
		return alert.SeverityCritical
	}

	var severity alert.Severity
	switch {
	case z >= t.Sigma*warningFactor:
		severity = alert.SeverityWarning
	case z >= t.Sigma:
		severity = alert.SeverityInfo
	}

	if severity != alert.SeverityWarning && d.inWatchBand(value) {
		severity = alert.SeverityWarning
	}
	return severity
}

func (d *Detector) inWatchBand(value float64) bool {
	t := d.thresholds
	if t.WatchHigh != nil && value > *t.WatchHigh {
		return true
	}
	if t.WatchLow != nil && value < *t.WatchLow {
		return true
	}
	return false
}

// withinDebounce reports whether an anomaly at the given severity and
// reading time falls inside the cool-down window. Escalations to a
// strictly higher severity always pass.
func (d *Detector) withinDebounce(severity alert.Severity, ts time.Time) bool {
	if !d.emitted {
		return false
	}
	if ts.Sub(d.lastEmitAt) >= d.opts.Cooldown {
		return false
	}
	return severity.Rank() <= d.lastSeverity.Rank()
}

func (d *Detector) buildDraft(r metric.Reading, snap baseline.Snapshot, z float64, severity alert.Severity) *alert.Draft {
	t := d.thresholds
	display := d.metricType.DisplayName()

	var title, message string
	switch {
	case severity == alert.SeverityCritical && t.CriticalHigh != nil && r.Value >= *t.CriticalHigh:
		title = fmt.Sprintf("Critical Health Alert: %s", display)
		message = fmt.Sprintf("%s critically high: %.1f (limit %.1f)", d.metricType, r.Value, *t.CriticalHigh)
	case severity == alert.SeverityCritical:
		title = fmt.Sprintf("Critical Health Alert: %s", display)
		message = fmt.Sprintf("%s critically low: %.1f (limit %.1f)", d.metricType, r.Value, *t.CriticalLow)
	default:
		direction := "high"
		if r.Value < snap.Mean {
			direction = "low"
		}
		title = fmt.Sprintf("Anomaly Detected: %s", display)
		message = fmt.Sprintf("%s is %s (%.1f vs baseline %.1f, %.1fσ)", d.metricType, direction, r.Value, snap.Mean, z)
	}

	return &alert.Draft{
		Type:     alert.TypeAnomaly,
		Severity: severity,
		Domain:   d.opts.Domain,
		Title:    title,
		Message:  message,
		Anomaly: &alert.AnomalyContext{
			Metric:    d.metricType,
			Value:     r.Value,
			Baseline:  snap.Mean,
			Deviation: z,
		},
	}
}

// Type returns the metric type this detector watches.
func (d *Detector) Type() metric.Type {
	return d.metricType
}

// Baseline returns the current baseline snapshot.
func (d *Detector) Baseline() baseline.Snapshot {
	return d.tracker.Snapshot()
}

// Thresholds returns the active thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Stats returns a snapshot of detector counters.
func (d *Detector) Stats() Stats {
	return d.stats
}

// SetThresholds swaps thresholds at runtime. Baseline and debounce state
// survive the swap.
func (d *Detector) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("thresholds for %s: %w", d.metricType, err)
	}
	d.thresholds = t
	d.logger.Info("thresholds updated", zap.String("metric", string(d.metricType)))
	return nil
}

// SetCooldown adjusts the debounce window at runtime.
func (d *Detector) SetCooldown(cooldown time.Duration) error {
	if cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %v", cooldown)
	}
	d.opts.Cooldown = cooldown
	return nil
}
