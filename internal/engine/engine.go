// Package engine wires detectors, goal trackers and the alert bus into a
// single ingest pipeline. All transports (HTTP, Redis, MQTT) funnel
// readings through one Engine, which serializes evaluation so alert
// ordering matches ingest ordering.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/alert"
	"github.com/vigilant-otter/pulsefeed/internal/baseline"
	"github.com/vigilant-otter/pulsefeed/internal/detect"
	"github.com/vigilant-otter/pulsefeed/internal/goal"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

// Settings configures the pipeline. The zero value is not usable; start
// from DefaultSettings.
type Settings struct {
	// WindowSize is the rolling baseline window per metric. Changing it
	// requires a restart; ApplySettings will not resize live windows.
	WindowSize int `yaml:"window_size" json:"window_size"`

	// Epsilon is the variance floor used when a window has no spread.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`

	// Cooldown is the anomaly debounce window.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// Domain tags every alert, e.g. "fitness".
	Domain string `yaml:"domain" json:"domain"`

	// Timezone resolves goal day boundaries, e.g. "America/New_York".
	// Empty means UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Thresholds overrides detection thresholds per metric. Metrics
	// without an entry use the shipped defaults.
	Thresholds map[metric.Type]detect.Thresholds `yaml:"thresholds" json:"thresholds"`

	// Goals lists the daily goals to track. Nil means the shipped
	// defaults; an explicit empty slice disables goal tracking.
	Goals []goal.Definition `yaml:"goals" json:"goals"`
}

// DefaultSettings returns the shipped pipeline configuration.
func DefaultSettings() Settings {
	return Settings{
		WindowSize: detect.DefaultOptions().WindowSize,
		Epsilon:    detect.DefaultOptions().Epsilon,
		Cooldown:   detect.DefaultOptions().Cooldown,
		Domain:     detect.DefaultOptions().Domain,
		Timezone:   "",
		Thresholds: detect.DefaultThresholds(),
		Goals:      nil,
	}
}

// Validate checks the settings without applying them.
func (s Settings) Validate() error {
	if s.WindowSize < 2 {
		return fmt.Errorf("window_size must be at least 2, got %d", s.WindowSize)
	}
	if s.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %v", s.Epsilon)
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %v", s.Cooldown)
	}
	if s.Domain == "" {
		return errors.New("domain is required")
	}
	if _, err := resolveLocation(s.Timezone); err != nil {
		return err
	}
	for mt, th := range s.Thresholds {
		if !mt.Valid() {
			return fmt.Errorf("thresholds: %w: %q", metric.ErrUnknownMetric, mt)
		}
		if err := th.Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", mt, err)
		}
	}
	for _, def := range s.Goals {
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func resolveLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// effectiveThresholds merges overrides onto the shipped defaults so every
// metric always has a full threshold set.
func effectiveThresholds(overrides map[metric.Type]detect.Thresholds) map[metric.Type]detect.Thresholds {
	merged := detect.DefaultThresholds()
	for mt, th := range overrides {
		merged[mt] = th
	}
	return merged
}

// IngestResult reports what one reading produced.
type IngestResult struct {
	// Reading is the accepted reading.
	Reading metric.Reading `json:"reading"`

	// Alerts are the published alerts, anomaly first, then goal
	// achievements, in publish order. Nil when the reading was quiet.
	Alerts []*alert.Alert `json:"alerts,omitempty"`
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	ReadingsIngested    int64     `json:"readings_ingested"`
	ReadingsRejected    int64     `json:"readings_rejected"`
	AnomaliesFlagged    int64     `json:"anomalies_flagged"`
	AnomaliesSuppressed int64     `json:"anomalies_suppressed"`
	GoalsAchieved       int64     `json:"goals_achieved"`
	StartedAt           time.Time `json:"started_at"`
}

// Engine is the ingest pipeline. One mutex serializes evaluation across
// all transports, which keeps baseline updates, debounce decisions and
// bus publish order consistent.
type Engine struct {
	mu sync.Mutex

	bus    *alert.Bus
	logger *zap.Logger

	domain    string
	loc       *time.Location
	settings  Settings
	detectors map[metric.Type]*detect.Detector
	goals     []*goal.Tracker
	latest    map[metric.Type]metric.Reading

	readingsIngested    int64
	readingsRejected    int64
	anomaliesFlagged    int64
	anomaliesSuppressed int64
	goalsAchieved       int64
	startedAt           time.Time
}

// New creates the pipeline. A nil logger disables engine logging.
func New(settings Settings, bus *alert.Bus, logger *zap.Logger) (*Engine, error) {
	if bus == nil {
		return nil, errors.New("engine requires an alert bus")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := resolveLocation(settings.Timezone)
	if err != nil {
		return nil, err
	}

	settings.Thresholds = effectiveThresholds(settings.Thresholds)
	if settings.Goals == nil {
		settings.Goals = goal.DefaultDefinitions()
	}

	detectors := make(map[metric.Type]*detect.Detector, len(metric.AllTypes()))
	for _, mt := range metric.AllTypes() {
		opts := detect.Options{
			WindowSize: settings.WindowSize,
			Epsilon:    settings.Epsilon,
			Cooldown:   settings.Cooldown,
			Domain:     settings.Domain,
		}
		d, err := detect.New(mt, settings.Thresholds[mt], opts, logger)
		if err != nil {
			return nil, fmt.Errorf("detector for %s: %w", mt, err)
		}
		detectors[mt] = d
	}

	trackers := make([]*goal.Tracker, 0, len(settings.Goals))
	for _, def := range settings.Goals {
		tr, err := goal.NewTracker(def, loc, settings.Domain, logger)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, tr)
	}

	return &Engine{
		bus:       bus,
		logger:    logger,
		domain:    settings.Domain,
		loc:       loc,
		settings:  settings,
		detectors: detectors,
		goals:     trackers,
		latest:    make(map[metric.Type]metric.Reading),
		startedAt: time.Now().UTC(),
	}, nil
}

// Ingest evaluates one reading and publishes any resulting alerts.
// Invalid readings are rejected without touching baselines.
func (e *Engine) Ingest(r metric.Reading) (IngestResult, error) {
	if err := r.Validate(); err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		e.mu.Lock()
		e.readingsRejected++
		e.mu.Unlock()
		return IngestResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	drafts := make([]*alert.Draft, 0, 2)

	res := e.detectors[r.Type].Evaluate(r)
	if res.Flagged {
		e.anomaliesFlagged++
		if res.Suppressed {
			e.anomaliesSuppressed++
		} else {
			drafts = append(drafts, res.Draft)
		}
	}

	for _, tr := range e.goals {
		if draft := tr.Update(r); draft != nil {
			e.goalsAchieved++
			drafts = append(drafts, draft)
		}
	}

	e.latest[r.Type] = r
	e.readingsIngested++
	metrics.ReadingsIngestedTotal.WithLabelValues(string(r.Type)).Inc()

	result := IngestResult{Reading: r}
	for _, draft := range drafts {
		// Publishing under the engine lock keeps alert IDs in ingest
		// order across transports.
		published, err := e.bus.Publish(*draft)
		if err != nil {
			e.logger.Error("failed to publish alert",
				zap.String("type", string(draft.Type)),
				zap.Error(err))
			continue
		}
		result.Alerts = append(result.Alerts, published)
	}

	return result, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, metric.ErrUnknownMetric):
		return "unknown_metric"
	case errors.Is(err, metric.ErrInvalidValue):
		return "invalid_value"
	default:
		return "invalid"
	}
}

// Baselines returns the current rolling statistics per metric.
func (e *Engine) Baselines() map[metric.Type]baseline.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[metric.Type]baseline.Snapshot, len(e.detectors))
	for mt, d := range e.detectors {
		out[mt] = d.Baseline()
	}
	return out
}

// Thresholds returns the active thresholds per metric.
func (e *Engine) Thresholds() map[metric.Type]detect.Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[metric.Type]detect.Thresholds, len(e.detectors))
	for mt, d := range e.detectors {
		out[mt] = d.Thresholds()
	}
	return out
}

// GoalProgress returns today's progress for every tracked goal.
func (e *Engine) GoalProgress() []goal.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]goal.Progress, 0, len(e.goals))
	for _, tr := range e.goals {
		out = append(out, tr.Progress())
	}
	return out
}

// LatestReadings returns the most recently ingested reading per metric.
func (e *Engine) LatestReadings() map[metric.Type]metric.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[metric.Type]metric.Reading, len(e.latest))
	for mt, r := range e.latest {
		out[mt] = r
	}
	return out
}

// Stats returns a snapshot of pipeline counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		ReadingsIngested:    e.readingsIngested,
		ReadingsRejected:    e.readingsRejected,
		AnomaliesFlagged:    e.anomaliesFlagged,
		AnomaliesSuppressed: e.anomaliesSuppressed,
		GoalsAchieved:       e.goalsAchieved,
		StartedAt:           e.startedAt,
	}
}

// Settings returns the currently applied settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ApplySettings hot-reloads thresholds, cooldown and goals. Baselines and
// debounce state survive the reload. Window size, epsilon, domain and
// timezone require a restart; changed values are logged and ignored.
// Validation is all-or-nothing: on error nothing is applied.
func (e *Engine) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.WindowSize != e.settings.WindowSize {
		e.logger.Warn("window_size change requires restart, keeping current value",
			zap.Int("current", e.settings.WindowSize),
			zap.Int("requested", s.WindowSize))
	}
	if s.Timezone != e.settings.Timezone {
		e.logger.Warn("timezone change requires restart, keeping current value",
			zap.String("current", e.settings.Timezone),
			zap.String("requested", s.Timezone))
	}

	merged := effectiveThresholds(s.Thresholds)
	for mt, d := range e.detectors {
		if err := d.SetThresholds(merged[mt]); err != nil {
			return fmt.Errorf("thresholds for %s: %w", mt, err)
		}
		if err := d.SetCooldown(s.Cooldown); err != nil {
			return fmt.Errorf("cooldown for %s: %w", mt, err)
		}
	}

	defs := s.Goals
	if defs == nil {
		defs = goal.DefaultDefinitions()
	}
	trackers, err := e.reconcileGoals(defs)
	if err != nil {
		return err
	}
	e.goals = trackers

	e.settings.Cooldown = s.Cooldown
	e.settings.Thresholds = merged
	e.settings.Goals = defs

	e.logger.Info("pipeline settings applied",
		zap.Duration("cooldown", s.Cooldown),
		zap.Int("goals", len(defs)))
	return nil
}

// reconcileGoals keeps existing trackers (and their daily progress) for
// goals that survive by name, retargets them, and builds fresh trackers
// for new goals. Goals absent from the new set are dropped.
func (e *Engine) reconcileGoals(defs []goal.Definition) ([]*goal.Tracker, error) {
	existing := make(map[string]*goal.Tracker, len(e.goals))
	for _, tr := range e.goals {
		existing[tr.Definition().Name] = tr
	}

	trackers := make([]*goal.Tracker, 0, len(defs))
	for _, def := range defs {
		if tr, ok := existing[def.Name]; ok && tr.Definition().Metric == def.Metric {
			if err := tr.SetTarget(def.Target); err != nil {
				return nil, err
			}
			trackers = append(trackers, tr)
			continue
		}
		tr, err := goal.NewTracker(def, e.loc, e.domain, e.logger)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, tr)
	}
	return trackers, nil
}
