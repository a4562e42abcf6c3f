package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// ProducerConfig holds alert feed writer settings
type ProducerConfig struct {
	Compression  string
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes fired alerts to a Kafka topic for downstream consumers.
type Producer struct {
	cfg    ProducerConfig
	topic  string
	writer messageWriter
	closed atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
}

// NewProducer creates a producer writing to topic.
func NewProducer(brokers []string, topic string, cfg ProducerConfig) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // partition by room
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  getCompression(cfg.Compression),
		MaxAttempts:  1,
	}
	return newProducer(writer, topic, cfg), nil
}

func newProducer(w messageWriter, topic string, cfg ProducerConfig) *Producer {
	return &Producer{cfg: cfg, topic: topic, writer: w}
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// PublishAlert implements alerts.EventPublisher.
func (p *Producer) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	headers := []kafka.Header{
		{Key: "alert_id", Value: []byte(event.ID)},
		{Key: "sensor_id", Value: []byte(event.SensorID)},
	}
	if event.RuleID != nil {
		headers = append(headers, kafka.Header{Key: "rule_id", Value: []byte(*event.RuleID)})
	}

	msg := kafka.Message{
		Key:     []byte(event.RoomID),
		Value:   data,
		Headers: headers,
		Time:    event.Timestamp,
	}

	if err := p.publishWithRetry(ctx, msg); err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.messagesSent.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// publishWithRetry publishes a message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying alert publish")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("alert publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
}
