// Package main provides the pulsefeed wearable traffic simulator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilant-otter/pulsefeed/pkg/config"
)

var (
	scenario    string
	readingType string
	value       float64
	workoutType string
	duration    int
	hours       float64
	interval    time.Duration
	count       int
	once        bool

	sinkName    string
	redisAddr   string
	redisStream string
	mqttBroker  string
	mqttTopic   string
	serverURL   string
)

var rootCmd = &cobra.Command{
	Use:   "pulsefeed-sim",
	Short: "PulseFeed Simulator - Wearable traffic generator",
	Long: `PulseFeed Simulator publishes synthetic wearable readings for the
pulsefeed server to consume, either as scripted scenarios or one-off
events.`,
	RunE: runSimulator,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsefeed-sim %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.Flags().StringVar(&scenario, "scenario", "random", "scenario to run: random, workout, sleep, stress, elevated-hr")
	rootCmd.Flags().StringVar(&readingType, "type", "", "reading type for --once")
	rootCmd.Flags().Float64Var(&value, "value", 0, "reading value for --once")
	rootCmd.Flags().StringVar(&workoutType, "workout-type", "", "workout type for the workout scenario")
	rootCmd.Flags().IntVar(&duration, "duration", 30, "workout duration in minutes")
	rootCmd.Flags().Float64Var(&hours, "hours", 0, "sleep hours for the sleep scenario (0 = random)")
	rootCmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "delay between readings")
	rootCmd.Flags().IntVar(&count, "count", 0, "number of readings for the random scenario (0 = unlimited)")
	rootCmd.Flags().BoolVar(&once, "once", false, "send a single reading and exit")

	rootCmd.Flags().StringVar(&sinkName, "sink", "redis", "where to publish: redis, mqtt or http")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	rootCmd.Flags().StringVar(&redisStream, "redis-stream", "pulsefeed:readings", "redis stream key")
	rootCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "tcp://localhost:1883", "mqtt broker URL")
	rootCmd.Flags().StringVar(&mqttTopic, "mqtt-topic", "pulsefeed/readings", "mqtt topic prefix")
	rootCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL for the http sink")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildSink() (Sink, error) {
	switch sinkName {
	case "redis":
		return newRedisSink(redisAddr, redisStream)
	case "mqtt":
		return newMQTTSink(mqttBroker, mqttTopic)
	case "http":
		return newHTTPSink(serverURL), nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want redis, mqtt or http)", sinkName)
	}
}

func runSimulator(cmd *cobra.Command, args []string) error {
	if once {
		if readingType == "" {
			return fmt.Errorf("--once requires --type")
		}
		if !cmd.Flags().Changed("value") {
			return fmt.Errorf("--once requires --value")
		}
	}

	sink, err := buildSink()
	if err != nil {
		return err
	}
	defer sink.Close()

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("interrupted, stopping")
		cancel()
	}()

	if once {
		return runOnce(ctx, sink, readingType, value)
	}

	switch scenario {
	case "random":
		return runRandom(ctx, sink, interval, count)
	case "workout":
		return runWorkout(ctx, sink, workoutType, duration, interval)
	case "sleep":
		return runSleep(ctx, sink, hours)
	case "stress":
		return runStress(ctx, sink, interval)
	case "elevated-hr":
		return runElevatedHR(ctx, sink, interval)
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
}
