package ingest

import (
	"context"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

// MQTTOptions configures the MQTT source.
type MQTTOptions struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID identifies this subscriber to the broker.
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// Topic is the subscription filter readings arrive on.
	Topic string

	// QoS is the subscription quality of service.
	QoS byte
}

// DefaultMQTTOptions returns the shipped source configuration.
func DefaultMQTTOptions() MQTTOptions {
	return MQTTOptions{
		Broker:   "tcp://localhost:1883",
		ClientID: "pulsefeed-server",
		Topic:    "pulsefeed/readings/#",
		QoS:      1,
	}
}

// MQTTSource consumes readings published to an MQTT topic. The paho
// client reconnects automatically and the subscription is renewed on
// every (re)connect.
type MQTTSource struct {
	pipeline Pipeline
	opts     MQTTOptions
	logger   *zap.Logger
	client   mqtt.Client
}

// NewMQTTSource creates the source without connecting; Run connects.
func NewMQTTSource(pipeline Pipeline, opts MQTTOptions, logger *zap.Logger) (*MQTTSource, error) {
	if pipeline == nil {
		return nil, errors.New("mqtt source requires a pipeline")
	}
	if opts.Broker == "" {
		return nil, errors.New("mqtt source requires a broker URL")
	}
	if opts.ClientID == "" {
		return nil, errors.New("mqtt source requires a client ID")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt source requires a topic")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("qos must be 0, 1 or 2, got %d", opts.QoS)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MQTTSource{
		pipeline: pipeline,
		opts:     opts,
		logger:   logger,
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		metrics.BrokerErrorsTotal.WithLabelValues("mqtt").Inc()
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(clientOpts)
	return s, nil
}

// Run connects to the broker and consumes until the context is
// cancelled, then disconnects cleanly.
func (s *MQTTSource) Run(ctx context.Context) error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.opts.Broker, token.Error())
	}

	<-ctx.Done()

	s.client.Unsubscribe(s.opts.Topic)
	s.client.Disconnect(250)
	s.logger.Info("mqtt source stopped")
	return nil
}

// onConnect renews the subscription; paho does not resubscribe for us
// after a reconnect with a clean session.
func (s *MQTTSource) onConnect(client mqtt.Client) {
	if token := client.Subscribe(s.opts.Topic, s.opts.QoS, s.handleMessage); token.Wait() && token.Error() != nil {
		metrics.BrokerErrorsTotal.WithLabelValues("mqtt").Inc()
		s.logger.Error("failed to subscribe",
			zap.String("topic", s.opts.Topic),
			zap.Error(token.Error()))
		return
	}
	s.logger.Info("mqtt source subscribed",
		zap.String("broker", s.opts.Broker),
		zap.String("topic", s.opts.Topic))
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	metrics.BrokerMessagesTotal.WithLabelValues("mqtt").Inc()

	reading, err := metric.ParseReading(msg.Payload())
	if err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("skipping mqtt message",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}

	if _, err := s.pipeline.Ingest(reading); err != nil {
		s.logger.Warn("failed to ingest mqtt reading",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
	}
}
