package alert

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("alert bus is closed")

// Options configures the bus.
type Options struct {
	// HistorySize is the capacity of the bounded history ring.
	HistorySize int

	// SubscriberQueue is the per-subscriber channel buffer size.
	SubscriberQueue int
}

// DefaultOptions returns default bus options.
func DefaultOptions() *Options {
	return &Options{
		HistorySize:     50,
		SubscriberQueue: 100,
	}
}

// Subscription is one consumer's attachment to the bus. Alerts are
// delivered on a bounded queue; when the queue is full the subscriber's
// oldest queued alert is dropped to admit the newest.
type Subscription struct {
	// ID uniquely identifies the subscriber.
	ID string

	// ConnectedAt is when the subscription was created.
	ConnectedAt time.Time

	ch      chan *Alert
	dropped atomic.Uint64
}

// Alerts returns the subscriber's delivery channel. It is closed by
// Unsubscribe and by Close.
func (s *Subscription) Alerts() <-chan *Alert {
	return s.ch
}

// Dropped returns how many alerts this subscriber has lost to queue
// overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// BusStats is a snapshot of bus statistics.
type BusStats struct {
	Published   uint64              `json:"alerts_published"`
	ByType      map[Type]uint64     `json:"by_type"`
	BySeverity  map[Severity]uint64 `json:"by_severity"`
	Dropped     uint64              `json:"alerts_dropped"`
	Subscribers int                 `json:"subscribers"`
	HistorySize int                 `json:"history_size"`
}

// Bus fans published alerts out to all subscribers and keeps a bounded
// history for late joiners. A single mutex serializes publishes,
// subscriptions, and channel closes, which makes the subscribe cut
// atomic: a concurrent alert lands in either the returned backlog or the
// live channel, never both, never neither.
type Bus struct {
	mu sync.Mutex

	opts    Options
	nextID  uint64
	history []*Alert
	subs    map[string]*Subscription
	closed  bool

	published  uint64
	dropped    uint64
	byType     map[Type]uint64
	bySeverity map[Severity]uint64

	logger *zap.Logger
}

// NewBus creates a bus.
func NewBus(opts *Options, logger *zap.Logger) *Bus {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = DefaultOptions().HistorySize
	}
	if opts.SubscriberQueue < 1 {
		opts.SubscriberQueue = DefaultOptions().SubscriberQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		opts:       *opts,
		history:    make([]*Alert, 0, opts.HistorySize),
		subs:       make(map[string]*Subscription),
		byType:     make(map[Type]uint64),
		bySeverity: make(map[Severity]uint64),
		logger:     logger,
	}
}

// Publish assigns the next ID and timestamp to the draft, records it in
// history, and offers it to every subscriber. It never blocks on slow
// subscribers: a full queue loses its oldest entry instead.
func (b *Bus) Publish(d Draft) (*Alert, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	b.nextID++
	a := &Alert{
		ID:        b.nextID,
		Type:      d.Type,
		Severity:  d.Severity,
		Domain:    d.Domain,
		Title:     d.Title,
		Message:   d.Message,
		CreatedAt: time.Now().UTC(),
		Anomaly:   d.Anomaly,
		Goal:      d.Goal,
	}

	if len(b.history) == b.opts.HistorySize {
		copy(b.history, b.history[1:])
		b.history[len(b.history)-1] = a
	} else {
		b.history = append(b.history, a)
	}

	for _, sub := range b.subs {
		b.offer(sub, a)
	}

	b.published++
	b.byType[a.Type]++
	b.bySeverity[a.Severity]++
	b.mu.Unlock()

	metrics.AlertsPublishedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	b.logger.Debug("alert published",
		zap.Uint64("id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title))
	return a, nil
}

// offer delivers a to one subscriber without ever blocking. Caller holds
// b.mu, so this goroutine is the only sender on sub.ch and eviction
// cannot race another send.
func (b *Bus) offer(sub *Subscription, a *Alert) {
	select {
	case sub.ch <- a:
		return
	default:
	}

	// Queue full: drop the subscriber's oldest queued alert. The receiver
	// may drain concurrently, so the eviction itself may miss.
	select {
	case <-sub.ch:
	default:
	}

	select {
	case sub.ch <- a:
	default:
		// Unreachable with a lone sender, kept so delivery can never block.
		b.countDrop(sub)
		return
	}
	b.countDrop(sub)
}

func (b *Bus) countDrop(sub *Subscription) {
	b.dropped++
	total := sub.dropped.Add(1)
	metrics.AlertsDroppedTotal.Inc()
	if total == 1 || total%100 == 0 {
		b.logger.Warn("slow subscriber dropping alerts",
			zap.String("subscription_id", sub.ID),
			zap.Uint64("dropped_total", total))
	}
}

// Subscribe registers a new subscriber and returns it together with the
// last historyCount alerts, oldest first. Registration and the history
// cut happen under the publish lock, so the backlog and the live channel
// never overlap and never leave a gap. historyCount <= 0 means no backlog.
func (b *Bus) Subscribe(historyCount int) (*Subscription, []*Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}

	sub := &Subscription{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		ch:          make(chan *Alert, b.opts.SubscriberQueue),
	}
	b.subs[sub.ID] = sub
	metrics.SubscribersActive.Set(float64(len(b.subs)))

	backlog := b.historyLocked(historyCount)
	return sub, backlog, nil
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs
// and repeated calls are no-ops.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	metrics.SubscribersActive.Set(float64(len(b.subs)))
}

// History returns the most recent n alerts, oldest first.
func (b *Bus) History(n int) []*Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyLocked(n)
}

func (b *Bus) historyLocked(n int) []*Alert {
	if n <= 0 || len(b.history) == 0 {
		return nil
	}
	if n > len(b.history) {
		n = len(b.history)
	}
	out := make([]*Alert, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	byType := make(map[Type]uint64, len(b.byType))
	for k, v := range b.byType {
		byType[k] = v
	}
	bySeverity := make(map[Severity]uint64, len(b.bySeverity))
	for k, v := range b.bySeverity {
		bySeverity[k] = v
	}
	return BusStats{
		Published:   b.published,
		ByType:      byType,
		BySeverity:  bySeverity,
		Dropped:     b.dropped,
		Subscribers: len(b.subs),
		HistorySize: len(b.history),
	}
}

// Close shuts the bus down, closing every subscriber channel. Further
// Publish and Subscribe calls fail with ErrBusClosed. Safe to call more
// than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	metrics.SubscribersActive.Set(0)
}
