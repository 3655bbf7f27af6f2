package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendType   string
	sendValue  float64
	sendDevice string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single reading to a PulseFeed server",
	Long: `Publish one health reading over the HTTP ingest endpoint.

Any alerts the reading triggers are printed immediately.

Examples:
  # Report a heart rate sample
  pulsectl send --type heart_rate --value 132

  # Report a step increment from a named device
  pulsectl send --type steps --value 420 --device garmin-venu`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendType, "type", "", "reading type: heart_rate, steps, sleep, stress, workout (required)")
	sendCmd.Flags().Float64Var(&sendValue, "value", 0, "reading value (required)")
	sendCmd.Flags().StringVar(&sendDevice, "device", "pulsectl", "source device name")
	sendCmd.MarkFlagRequired("type")
	sendCmd.MarkFlagRequired("value")
}

func runSend(cmd *cobra.Command, args []string) error {
	endpoint, err := apiURL(serverURL, "/api/v1/readings")
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"data_type":     sendType,
		"value":         sendValue,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"source_device": sendDevice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	PrintVerbose("POST %s", endpoint)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if GetOutput() == "json" {
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	}

	var envelope struct {
		Data struct {
			Alerts []streamAlert `json:"alerts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		fmt.Println("reading accepted")
		return nil
	}

	fmt.Printf("reading accepted: %s = %v\n", sendType, sendValue)
	for _, a := range envelope.Data.Alerts {
		fmt.Printf("  triggered [%s] %s: %s\n", a.Severity, a.Title, a.Message)
	}
	return nil
}
