package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Sink delivers generated readings to the server.
type Sink interface {
	Publish(ctx context.Context, r metric.Reading) error
	Close() error
}

// redisSink appends readings to the stream the server consumes.
type redisSink struct {
	client *redis.Client
	stream string
}

func newRedisSink(addr, stream string) (*redisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &redisSink{client: client, stream: stream}, nil
}

func (s *redisSink) Publish(ctx context.Context, r metric.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"payload": string(data)},
	}).Err()
}

func (s *redisSink) Close() error {
	return s.client.Close()
}

// mqttSink publishes readings to per-type topics under a prefix.
type mqttSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func newMQTTSink(broker, topicPrefix string) (*mqttSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("pulsefeed-sim-" + uuid.New().String()[:8]).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, token.Error())
	}
	return &mqttSink{client: client, prefix: topicPrefix, qos: 1}, nil
}

func (s *mqttSink) Publish(ctx context.Context, r metric.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := s.client.Publish(fmt.Sprintf("%s/%s", s.prefix, r.Type), s.qos, false, data)
	token.Wait()
	return token.Error()
}

func (s *mqttSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

// httpSink posts readings to the server's ingest endpoint.
type httpSink struct {
	client  *http.Client
	baseURL string
}

func newHTTPSink(serverURL string) *httpSink {
	return &httpSink{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(serverURL, "/"),
	}
}

func (s *httpSink) Publish(ctx context.Context, r metric.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/readings", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (s *httpSink) Close() error {
	return nil
}
