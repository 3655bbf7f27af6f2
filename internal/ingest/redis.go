package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/vigilant-otter/pulsefeed/internal/metric"
	"github.com/vigilant-otter/pulsefeed/internal/metrics"
)

// payloadField is the stream entry field carrying the reading JSON.
const payloadField = "payload"

// RedisOptions configures the Redis Streams source.
type RedisOptions struct {
	// Stream is the stream key readings arrive on.
	Stream string

	// Group is the consumer group name. The group is created on start if
	// it does not exist.
	Group string

	// Consumer is this instance's name within the group.
	Consumer string

	// BatchSize is the maximum entries fetched per read.
	BatchSize int64

	// Block is how long one read waits for new entries.
	Block time.Duration
}

// DefaultRedisOptions returns the shipped source configuration.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Stream:    "pulsefeed:readings",
		Group:     "pulsefeed-server",
		Consumer:  "pulsefeed-1",
		BatchSize: 10,
		Block:     5 * time.Second,
	}
}

// RedisSource consumes readings from a Redis stream via a consumer group.
// Entries are acknowledged whether or not they decode, so a poison
// message is skipped instead of redelivered forever.
type RedisSource struct {
	client   *redis.Client
	pipeline Pipeline
	opts     RedisOptions
	logger   *zap.Logger
}

// NewRedisSource creates the source. It does not touch the connection;
// Run establishes the consumer group.
func NewRedisSource(client *redis.Client, pipeline Pipeline, opts RedisOptions, logger *zap.Logger) (*RedisSource, error) {
	if client == nil {
		return nil, errors.New("redis source requires a client")
	}
	if pipeline == nil {
		return nil, errors.New("redis source requires a pipeline")
	}
	if opts.Stream == "" || opts.Group == "" || opts.Consumer == "" {
		return nil, errors.New("redis source requires stream, group and consumer names")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Block <= 0 {
		return nil, fmt.Errorf("block duration must be positive, got %v", opts.Block)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client:   client,
		pipeline: pipeline,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Run consumes the stream until the context is cancelled. Read failures
// retry with exponential backoff capped at 30s; a successful read resets
// the backoff.
func (s *RedisSource) Run(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	s.logger.Info("redis source started",
		zap.String("stream", s.opts.Stream),
		zap.String("group", s.opts.Group),
		zap.String("consumer", s.opts.Consumer))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.consumeBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.BrokerErrorsTotal.WithLabelValues("redis").Inc()
			s.logger.Error("failed to read from stream",
				zap.Error(err),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// ensureGroup creates the consumer group, tolerating a pre-existing one.
func (s *RedisSource) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", s.opts.Group, s.opts.Stream, err)
	}
	return nil
}

func (s *RedisSource) consumeBatch(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, ">"},
		Count:    s.opts.BatchSize,
		Block:    s.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			metrics.BrokerMessagesTotal.WithLabelValues("redis").Inc()
			if err := s.processMessage(msg); err != nil {
				s.logger.Warn("skipping stream entry",
					zap.String("stream_id", msg.ID),
					zap.Error(err))
			}
			// Ack regardless of outcome: redelivery cannot fix a bad
			// payload, and the pipeline already saw a good one.
			if err := s.client.XAck(ctx, s.opts.Stream, s.opts.Group, msg.ID).Err(); err != nil {
				s.logger.Error("failed to ack stream entry",
					zap.String("stream_id", msg.ID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *RedisSource) processMessage(msg redis.XMessage) error {
	raw, ok := msg.Values[payloadField]
	if !ok {
		metrics.ReadingsRejectedTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("stream entry missing %q field", payloadField)
	}
	payload, ok := raw.(string)
	if !ok {
		metrics.ReadingsRejectedTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("stream entry %q field is not a string", payloadField)
	}

	reading, err := metric.ParseReading([]byte(payload))
	if err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("failed to parse reading: %w", err)
	}

	if _, err := s.pipeline.Ingest(reading); err != nil {
		return fmt.Errorf("failed to ingest reading: %w", err)
	}
	return nil
}
