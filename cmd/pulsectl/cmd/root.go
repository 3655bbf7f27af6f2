// Package cmd contains the CLI commands for pulsectl.
package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// defaultServerURL can be overridden via the PULSEFEED_SERVER env var.
var defaultServerURL = "http://localhost:8080"

func init() {
	if envURL := os.Getenv("PULSEFEED_SERVER"); envURL != "" {
		defaultServerURL = envURL
	}
}

var (
	// Used for flags
	serverURL string
	verbose   bool
	output    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "PulseFeed command-line client",
	Long: `pulsectl talks to a PulseFeed server: it streams health alerts
to the terminal, publishes individual readings, and inspects
recent alert history.

Examples:
  # Watch the live alert stream
  pulsectl watch

  # Watch without replaying recent alerts, raw JSON frames
  pulsectl watch --history=false --json

  # Publish a single reading
  pulsectl send --type heart_rate --value 132

  # Show the last 20 alerts
  pulsectl history --count 20`,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "PulseFeed server URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// apiURL joins the configured server URL with an API path. A bare
// host:port is treated as http.
func apiURL(base, path string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
