// Package mqtt subscribes to sensor topics on an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
)

// MessageHandler receives one transport message.
type MessageHandler = func(ctx context.Context, topic string, payload []byte)

// Config holds broker connection settings
type Config struct {
	Broker   string
	ClientID string
	Topics   []string
	QoS      byte
	Username string
	Password string

	ConnectTimeout time.Duration
}

// Subscriber delivers messages from the configured topic filters to a handler.
// Messages are handed over in arrival order on a single goroutine.
type Subscriber struct {
	cfg    Config
	client paho.Client

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	handle MessageHandler
}

// NewSubscriber creates a subscriber. Nothing connects until Start.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic filter is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &Subscriber{cfg: cfg}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			lg := logger.WithComponent("mqtt")
			lg.Warn().Err(err).Msg("broker connection lost, reconnecting")
		})

	s.client = paho.NewClient(opts)
	return s, nil
}

// Start connects to the broker and subscribes. Subscriptions are renewed on every reconnect.
func (s *Subscriber) Start(ctx context.Context, handle MessageHandler) error {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return errors.New("subscriber already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.handle = handle
	s.mu.Unlock()

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		// SetConnectRetry keeps trying in the background
		lg := logger.WithComponent("mqtt")
		lg.Warn().
			Str("broker", s.cfg.Broker).
			Msg("broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

func (s *Subscriber) onConnect(c paho.Client) {
	log := logger.WithComponent("mqtt")

	filters := make(map[string]byte, len(s.cfg.Topics))
	for _, t := range s.cfg.Topics {
		filters[t] = s.cfg.QoS
	}

	token := c.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		log.Error().Strs("topics", s.cfg.Topics).Msg("subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Strs("topics", s.cfg.Topics).Msg("subscribe failed")
		return
	}
	log.Info().
		Str("broker", s.cfg.Broker).
		Strs("topics", s.cfg.Topics).
		Msg("subscribed to sensor topics")
}

func (s *Subscriber) onMessage(_ paho.Client, m paho.Message) {
	s.mu.Lock()
	ctx, handle := s.ctx, s.handle
	s.mu.Unlock()
	if handle == nil || ctx.Err() != nil {
		return
	}

	metrics.MessagesReceived.WithLabelValues("mqtt").Inc()
	handle(ctx, m.Topic(), m.Payload())
}

// Stop unsubscribes and disconnects, waiting briefly for in-flight work.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topics...).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	return nil
}
