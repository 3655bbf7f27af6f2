package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var historyCount int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent alerts",
	Long: `Fetch recent alerts from the server, newest first.

Examples:
  # Show the default 10 most recent alerts
  pulsectl history

  # Show more, as raw JSON
  pulsectl history --count 50 -o json`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyCount, "count", 10, "number of alerts to fetch")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	endpoint, err := apiURL(serverURL, "/api/v1/alerts/history")
	if err != nil {
		return err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("count", strconv.Itoa(historyCount))
	u.RawQuery = q.Encode()

	PrintVerbose("GET %s", u.String())

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if GetOutput() == "json" {
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	}

	var envelope struct {
		Data struct {
			Alerts []streamAlert `json:"alerts"`
			Count  int           `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}

	if len(envelope.Data.Alerts) == 0 {
		fmt.Println("No alerts recorded.")
		return nil
	}

	fmt.Printf("\n%-20s  %-8s  %-13s  %-30s  %s\n",
		"TIME", "SEVERITY", "TYPE", "TITLE", "MESSAGE")
	fmt.Println(strings.Repeat("-", 110))

	for _, a := range envelope.Data.Alerts {
		ts := a.Timestamp
		if t, err := time.Parse(time.RFC3339, a.Timestamp); err == nil {
			ts = t.Local().Format("2006-01-02 15:04:05")
		}
		message := a.Message
		if len(message) > 40 {
			message = message[:38] + ".."
		}
		fmt.Printf("%-20s  %-8s  %-13s  %-30s  %s\n",
			ts, a.Severity, a.AlertType, truncate(a.Title, 30), message)
	}
	fmt.Printf("\nTotal: %d alert(s)\n", len(envelope.Data.Alerts))

	return nil
}

// truncate shortens a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
