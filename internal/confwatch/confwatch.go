// Package confwatch watches a configuration file and signals rewrites so
// the server can apply changed settings without a restart.
package confwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Options contains options for configuring a Watcher.
type Options struct {
	// SettleDelay is how long to wait after the last filesystem event
	// before signaling a change. Editors and config managers produce
	// several events per save; the delay folds them into one signal.
	SettleDelay time.Duration

	// PollInterval is the interval to poll for changes when fsnotify
	// misses events.
	PollInterval time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		SettleDelay:  250 * time.Millisecond,
		PollInterval: 5 * time.Second,
	}
}

// Watcher signals when a configuration file is rewritten. The parent
// directory is watched rather than the file itself so that tools which
// replace the file (remove then create, or rename over it) stay visible.
type Watcher struct {
	path    string
	opts    *Options
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	changes chan struct{}

	lastMod  time.Time
	lastSize int64
}

// New creates a Watcher for the given config file path.
func New(path string, opts *Options, logger *zap.Logger) (*Watcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		path:    absPath,
		opts:    opts,
		watcher: watcher,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}

	if info, err := os.Stat(absPath); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}

	return w, nil
}

// Changes returns a channel that receives a signal after the file
// changes. Signals are coalesced; one receive may cover several writes.
// The channel is closed when Run returns.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches the file until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	// Watch the directory so replace-style rewrites are seen
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	defer w.watcher.Close()
	defer close(w.changes)

	w.logger.Info("watching config file", zap.String("path", w.path))

	settle := time.NewTimer(w.opts.SettleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, settle)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-settle.C:
			w.signal()
		case <-ticker.C:
			// Fallback polling for systems where fsnotify doesn't work well
			if w.changedOnDisk() {
				settle.Reset(w.opts.SettleDelay)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, settle *time.Timer) {
	// Only process events for our file
	if event.Name != w.path {
		return
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		settle.Reset(w.opts.SettleDelay)
	}
	// Ignore Remove, Rename, Chmod - wait for the create event that
	// follows a replace
}

// changedOnDisk compares the file's current mtime and size against the
// last observation and records the new values when they differ.
func (w *Watcher) changedOnDisk() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		// File might be mid-replace, wait for it to reappear
		return false
	}

	if info.ModTime().Equal(w.lastMod) && info.Size() == w.lastSize {
		return false
	}
	w.lastMod = info.ModTime()
	w.lastSize = info.Size()
	return true
}

func (w *Watcher) signal() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}

	select {
	case w.changes <- struct{}{}:
	default:
		// A signal is already pending; the consumer will reload once
	}
}
