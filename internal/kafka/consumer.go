// Package kafka carries telemetry in from Kafka and fired alerts back out.
package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
)

// TopicHeader names the header carrying the original pub/sub topic of a bridged message.
const TopicHeader = "topic"

// MessageHandler receives one transport message.
type MessageHandler = func(ctx context.Context, topic string, payload []byte)

// ConsumerConfig holds Kafka reader settings
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads bridged sensor messages from a Kafka topic.
type Consumer struct {
	reader messageReader
	topic  string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a consumer in the given group.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, topic: cfg.Topic}, nil
}

// Start reads messages in the background until ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context, handle MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("consumer already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	lg := logger.WithComponent("kafka_consumer")
	lg.Info().
		Str("topic", c.topic).
		Msg("consuming telemetry")

	go c.run(ctx, handle)
	return nil
}

func (c *Consumer) run(ctx context.Context, handle MessageHandler) {
	defer close(c.done)
	log := logger.WithComponent("kafka_consumer")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("kafka read failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		metrics.MessagesReceived.WithLabelValues("kafka").Inc()
		handle(ctx, topicOf(msg), msg.Value)
	}
}

// Stop halts reading and closes the reader.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return c.reader.Close()
}

// topicOf returns the pub/sub topic of a bridged message: the topic header, else the key.
func topicOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == TopicHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}
