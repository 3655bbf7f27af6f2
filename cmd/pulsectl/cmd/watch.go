package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	watchHistory      bool
	watchHistoryCount int
	watchJSON         bool
	watchBuffer       int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream alerts from a PulseFeed server",
	Long: `Connect to the alert stream and print alerts as they happen.

The connection is kept alive across server restarts: on failure the
client reconnects with exponential backoff and drops alerts it has
already shown, so a reconnect replay does not duplicate output.

Examples:
  # Watch the live stream, replaying the 10 most recent alerts
  pulsectl watch

  # Skip the replay and print raw JSON frames
  pulsectl watch --history=false --json

  # Replay more history from a remote server
  pulsectl watch -s http://pulsefeed.internal:8080 --history-count 50`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchHistory, "history", true, "replay recent alerts on connect")
	watchCmd.Flags().IntVar(&watchHistoryCount, "history-count", 10, "number of recent alerts to replay")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print raw alert frames instead of formatted lines")
	watchCmd.Flags().IntVar(&watchBuffer, "buffer", 100, "alerts held while the terminal stalls; oldest are dropped first")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchHistoryCount < 0 {
		return fmt.Errorf("--history-count must not be negative")
	}
	if watchBuffer < 1 {
		return fmt.Errorf("--buffer must be at least 1")
	}

	streamURL, err := buildStreamURL(serverURL, watchHistory, watchHistoryCount)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "shutting down")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "watching %s (Ctrl+C to stop)\n", streamURL)

	w := newWatcher(streamURL, watchBuffer, watchJSON)
	w.run(ctx)
	return nil
}

// buildStreamURL builds the SSE endpoint URL with history parameters.
func buildStreamURL(base string, history bool, count int) (string, error) {
	endpoint, err := apiURL(base, "/api/v1/alerts/stream")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("include_history", strconv.FormatBool(history))
	if history {
		q.Set("history_count", strconv.Itoa(count))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// streamAlert mirrors the alert frames the server emits.
type streamAlert struct {
	ID        string   `json:"id"`
	AlertType string   `json:"alert_type"`
	Severity  string   `json:"severity"`
	Domain    string   `json:"domain"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	DataType  string   `json:"data_type,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Baseline  *float64 `json:"baseline,omitempty"`
}

// rememberSet tracks recently seen alert IDs with a bounded FIFO so
// reconnect replays are suppressed without growing forever.
type rememberSet struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newRememberSet(capacity int) *rememberSet {
	return &rememberSet{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new.
func (s *rememberSet) Add(id string) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func (s *rememberSet) Len() int {
	return len(s.order)
}

// watcher consumes the alert stream and renders it to stdout.
type watcher struct {
	url         string
	rawJSON     bool
	idleTimeout time.Duration
	client      *http.Client
	backoff     *Backoff
	seen        *rememberSet
	lines       chan string
}

func newWatcher(streamURL string, bufferSize int, rawJSON bool) *watcher {
	return &watcher{
		url:     streamURL,
		rawJSON: rawJSON,
		// The server heartbeats every 15s; three missed beats means the
		// connection is dead even if TCP has not noticed yet.
		idleTimeout: 45 * time.Second,
		// No client timeout: the stream is long-lived on purpose.
		client:  &http.Client{},
		backoff: NewBackoff(),
		seen:    newRememberSet(256),
		lines:   make(chan string, bufferSize),
	}
}

// run connects, reconnects on failure, and blocks until ctx is canceled.
func (w *watcher) run(ctx context.Context) {
	go w.render(ctx)

	for {
		frames, err := w.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if frames > 0 {
			// The stream delivered events end to end, so treat the next
			// failure as a fresh one.
			w.backoff.Reset()
		}

		delay := w.backoff.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream disconnected: %v (retrying in %s)\n", err, delay.Round(100*time.Millisecond))
		} else {
			fmt.Fprintf(os.Stderr, "stream ended (retrying in %s)\n", delay.Round(100*time.Millisecond))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connect opens one stream and reads it until it drops. It returns the
// number of event frames received.
func (w *watcher) connect(ctx context.Context) (int, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, w.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("server returned %s", resp.Status)
	}

	PrintVerbose("connected to %s", w.url)

	// Idle watchdog. Canceling connCtx aborts the blocked body read.
	idle := time.AfterFunc(w.idleTimeout, cancel)
	defer idle.Stop()

	return w.readStream(resp.Body, idle)
}

// readStream parses SSE frames off the wire. Each frame is an optional
// "event:" line, one or more "data:" lines, and a blank terminator.
func (w *watcher) readStream(body io.Reader, idle *time.Timer) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	frames := 0
	var event string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || data.Len() > 0 {
				frames++
				if idle != nil {
					idle.Reset(w.idleTimeout)
				}
				w.handleFrame(event, data.String())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment line, keeps the connection warm
		}
	}
	return frames, scanner.Err()
}

func (w *watcher) handleFrame(event, data string) {
	switch event {
	case "alert":
		w.handleAlert(data)
	case "heartbeat":
		PrintVerbose("heartbeat")
	case "close":
		PrintVerbose("server closing stream: %s", data)
	}
}

func (w *watcher) handleAlert(data string) {
	var a streamAlert
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		PrintVerbose("dropping malformed alert frame: %v", err)
		return
	}
	if a.ID != "" && !w.seen.Add(a.ID) {
		// Replayed by the server after a reconnect
		return
	}
	if w.rawJSON {
		w.enqueue(data)
		return
	}
	w.enqueue(formatAlert(a))
}

// enqueue adds a line to the render buffer, dropping the oldest pending
// line when the terminal consumer cannot keep up.
func (w *watcher) enqueue(line string) {
	for {
		select {
		case w.lines <- line:
			return
		default:
		}
		select {
		case <-w.lines:
		default:
		}
	}
}

func (w *watcher) render(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-w.lines:
			fmt.Println(line)
		}
	}
}

func formatAlert(a streamAlert) string {
	ts := a.Timestamp
	if t, err := time.Parse(time.RFC3339, a.Timestamp); err == nil {
		ts = t.Local().Format("2006-01-02 15:04:05")
	}

	message := a.Message
	if len(message) > 120 {
		message = message[:117] + "..."
	}

	return fmt.Sprintf("%s  [%-8s] %-13s %s: %s", ts, a.Severity, a.AlertType, a.Title, message)
}
