package notify

import (
	"context"
	"errors"
	"time"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
	"roomwatch/internal/worker"
)

// ErrNoContact is returned by contact lookups when nobody owns the user or room.
var ErrNoContact = errors.New("no contact for alert")

// ContactResolver finds who to notify. Custom alerts go to the rule owner,
// system alerts to the owner of the room.
type ContactResolver interface {
	ContactForUser(ctx context.Context, userID string) (models.UserContactInfo, error)
	ContactForRoom(ctx context.Context, roomID string) (models.UserContactInfo, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Contacts      ContactResolver
	Dispatcher    *Dispatcher
	Workers       int
	QueueSize     int
	LookupTimeout time.Duration
	// Timeout bounds one alert's full delivery across channels
	Timeout time.Duration
}

// Service delivers alerts on its own worker pool so slow providers never
// hold up reading ingestion.
type Service struct {
	contacts      ContactResolver
	dispatcher    *Dispatcher
	pool          *worker.Pool[models.AlertEvent]
	lookupTimeout time.Duration
	timeout       time.Duration
}

// NewService creates a notification service. Call Start before Notify.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Service{
		contacts:      cfg.Contacts,
		dispatcher:    cfg.Dispatcher,
		lookupTimeout: cfg.LookupTimeout,
		timeout:       cfg.Timeout,
	}
	s.pool = worker.NewPool(worker.Config[models.AlertEvent]{
		Name:      "notify_pool",
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Policy:    worker.PolicyReject,
		Handle:    s.deliver,
	})
	return s
}

// Start launches the delivery workers.
func (s *Service) Start() {
	s.pool.Start()
}

// Stop drains queued alerts, giving up after timeout. It reports whether the drain finished.
func (s *Service) Stop(timeout time.Duration) bool {
	return s.pool.StopWithTimeout(timeout)
}

// Notify implements alerts.Notifier by queueing event for delivery. It never
// waits: a full queue returns worker.ErrQueueFull.
func (s *Service) Notify(event models.AlertEvent) error {
	return s.pool.Submit(event)
}

// Stats returns the delivery pool statistics.
func (s *Service) Stats() worker.Stats {
	return s.pool.Stats()
}

func (s *Service) deliver(ctx context.Context, event models.AlertEvent) {
	log := logger.WithSensor("notifier", event.SensorID)

	recipient, err := s.recipient(ctx, event)
	if err != nil {
		log.Warn().
			Err(err).
			Str("alert_id", event.ID).
			Str("room_id", event.RoomID).
			Msg("contact lookup failed, skipping notification")
		metrics.SinkFailures.WithLabelValues("contacts").Inc()
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcomes := s.dispatcher.Dispatch(dctx, event, recipient)
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded {
			succeeded++
		}
	}
	log.Debug().
		Str("alert_id", event.ID).
		Int("attempted", len(outcomes)).
		Int("succeeded", succeeded).
		Msg("notification round finished")
}

func (s *Service) recipient(ctx context.Context, event models.AlertEvent) (models.UserContactInfo, error) {
	if s.contacts == nil {
		return models.UserContactInfo{}, ErrNoContact
	}
	lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	if event.RuleID != nil && event.UserID != "" {
		return s.contacts.ContactForUser(lctx, event.UserID)
	}
	return s.contacts.ContactForRoom(lctx, event.RoomID)
}
