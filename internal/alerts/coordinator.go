package alerts

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
	"roomwatch/internal/state"
)

// RuleStore returns the custom rules attached to a sensor. An empty result is not an error.
type RuleStore interface {
	GetActiveRulesForSensor(ctx context.Context, sensorID string) ([]models.AlertRule, error)
}

// AlertRecorder persists a fired alert and returns its stored id.
type AlertRecorder interface {
	Record(ctx context.Context, event models.AlertEvent) (string, error)
}

// TelemetryWriter stores raw readings.
type TelemetryWriter interface {
	WriteReading(ctx context.Context, reading models.SensorReading) error
}

// EventPublisher broadcasts fired alerts to other services.
type EventPublisher interface {
	PublishAlert(ctx context.Context, event models.AlertEvent) error
}

// Notifier accepts fired alerts for asynchronous delivery. It must not block on providers.
type Notifier interface {
	Notify(event models.AlertEvent) error
}

// RoomNamer resolves display names used in system alert messages.
type RoomNamer interface {
	RoomName(roomID string) string
}

// Config wires a Coordinator. Telemetry, Feed, Notifier and Rooms are optional.
type Config struct {
	Rules     RuleStore
	Recorder  AlertRecorder
	Telemetry TelemetryWriter
	Feed      EventPublisher
	Notifier  Notifier
	Rooms     RoomNamer
	Cooldown  *state.CooldownStore

	SystemRules  bool
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Result summarizes the processing of one reading.
type Result struct {
	Rules      int
	Fired      []models.AlertEvent
	Suppressed int
	Skipped    int
	Degraded   bool
}

// Coordinator takes one reading at a time through rule lookup, evaluation,
// de-duplication and fan-out. It is safe for concurrent use; callers keep
// readings of one sensor on one goroutine to preserve their order.
type Coordinator struct {
	rules     RuleStore
	recorder  AlertRecorder
	telemetry TelemetryWriter
	feed      EventPublisher
	notifier  Notifier
	rooms     RoomNamer
	cooldown  *state.CooldownStore

	systemRules  bool
	storeTimeout time.Duration
	now          func() time.Time

	processed  atomic.Uint64
	degraded   atomic.Uint64
	fired      atomic.Uint64
	suppressed atomic.Uint64
	skipped    atomic.Uint64
}

// NewCoordinator creates a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Cooldown == nil {
		cfg.Cooldown = state.NewCooldownStore(5 * time.Minute)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Coordinator{
		rules:        cfg.Rules,
		recorder:     cfg.Recorder,
		telemetry:    cfg.Telemetry,
		feed:         cfg.Feed,
		notifier:     cfg.Notifier,
		rooms:        cfg.Rooms,
		cooldown:     cfg.Cooldown,
		systemRules:  cfg.SystemRules,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
	}
}

// Process evaluates reading against its sensor's rules and emits what fires.
// Store failures degrade the reading but never fail it.
func (c *Coordinator) Process(ctx context.Context, reading models.SensorReading) Result {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	log := logger.WithSensor("coordinator", reading.SensorID)

	if err := reading.Validate(); err != nil {
		log.Warn().Err(err).Msg("rejecting invalid reading")
		metrics.ReadingsProcessed.WithLabelValues("invalid").Inc()
		return Result{}
	}
	c.processed.Add(1)

	c.writeTelemetry(ctx, reading)

	custom, err := c.fetchRules(ctx, reading.SensorID)
	if err != nil {
		c.degraded.Add(1)
		log.Warn().
			Err(err).
			Str("parameter", reading.Parameter).
			Msg("rule lookup failed, reading completed without evaluation")
		metrics.SinkFailures.WithLabelValues("rules").Inc()
		metrics.ReadingsProcessed.WithLabelValues("degraded").Inc()
		return Result{Degraded: true}
	}

	rules := make([]models.AlertRule, 0, len(custom)+4)
	rules = append(rules, custom...)
	if c.systemRules {
		for _, r := range SystemRules(reading.SensorType) {
			rules = append(rules, bindSystemRule(r, reading))
		}
	}

	res := Result{Rules: len(rules)}
	now := c.now()

	for _, rule := range rules {
		if !rule.Condition.IsValid() {
			res.Skipped++
			c.skipped.Add(1)
			metrics.RulesSkipped.Inc()
			log.Warn().Str("rule_id", rule.ID).Msg("skipping rule with invalid condition")
			continue
		}
		if rule.SensorID != reading.SensorID || rule.Parameter != reading.Parameter {
			continue
		}

		key := rule.CooldownKey()
		if !Evaluate(reading, rule) {
			c.cooldown.Reset(key)
			continue
		}

		kind := ruleKind(rule)
		if !c.cooldown.Admit(key, now) {
			res.Suppressed++
			c.suppressed.Add(1)
			metrics.AlertsTotal.WithLabelValues(kind, "suppressed").Inc()
			log.Debug().
				Str("rule_id", rule.ID).
				Str("cooldown_key", key).
				Msg("breach suppressed by cool-down")
			continue
		}

		event := c.buildEvent(reading, rule)
		c.fired.Add(1)
		metrics.AlertsTotal.WithLabelValues(kind, "fired").Inc()
		log.Info().
			Str("alert_id", event.ID).
			Str("rule_id", rule.ID).
			Str("kind", kind).
			Str("parameter", reading.Parameter).
			Float64("value", reading.Value).
			Str("condition", rule.Condition.String()).
			Float64("threshold", rule.Threshold).
			Msg("alert fired")

		c.emit(ctx, event)
		res.Fired = append(res.Fired, event)
	}

	metrics.ReadingsProcessed.WithLabelValues("completed").Inc()
	return res
}

func (c *Coordinator) writeTelemetry(ctx context.Context, reading models.SensorReading) {
	if c.telemetry == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	if err := c.telemetry.WriteReading(sctx, reading); err != nil {
		lg := logger.WithSensor("coordinator", reading.SensorID)
		lg.Warn().
			Err(err).
			Str("parameter", reading.Parameter).
			Msg("raw telemetry write failed")
		metrics.SinkFailures.WithLabelValues("telemetry").Inc()
	}
}

func (c *Coordinator) fetchRules(ctx context.Context, sensorID string) ([]models.AlertRule, error) {
	if c.rules == nil {
		return nil, nil
	}
	sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.rules.GetActiveRulesForSensor(sctx, sensorID)
}

func (c *Coordinator) buildEvent(reading models.SensorReading, rule models.AlertRule) models.AlertEvent {
	event := models.NewAlertEvent(reading, rule)
	if rule.IsSystem() {
		event.Message = renderSystemMessage(rule.Message, c.roomName(event.RoomID), reading.Value)
	}
	return event
}

func (c *Coordinator) roomName(roomID string) string {
	if c.rooms == nil {
		return roomID
	}
	return c.rooms.RoomName(roomID)
}

// emit hands event to every sink. Each sink gets its own copy and its own
// failure handling, so one failing sink never holds back the others.
func (c *Coordinator) emit(ctx context.Context, event models.AlertEvent) {
	if c.recorder != nil {
		c.deliver("recorder", event, func(e models.AlertEvent) error {
			sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
			defer cancel()
			id, err := c.recorder.Record(sctx, e)
			if err == nil {
				lg := logger.WithComponent("coordinator")
				lg.Debug().
					Str("alert_id", e.ID).
					Str("record_id", id).
					Msg("alert recorded")
			}
			return err
		})
	}
	if c.feed != nil {
		c.deliver("feed", event, func(e models.AlertEvent) error {
			sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
			defer cancel()
			return c.feed.PublishAlert(sctx, e)
		})
	}
	if c.notifier != nil {
		c.deliver("notify", event, c.notifier.Notify)
	}
}

func (c *Coordinator) deliver(sink string, event models.AlertEvent, fn func(models.AlertEvent) error) {
	log := logger.WithComponent("coordinator")
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("sink", sink).
				Str("alert_id", event.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("alert sink panic recovered")
			metrics.PanicsRecovered.WithLabelValues("sink_" + sink).Inc()
			metrics.SinkFailures.WithLabelValues(sink).Inc()
		}
	}()

	if err := fn(event.Clone()); err != nil {
		log.Error().
			Err(err).
			Str("sink", sink).
			Str("alert_id", event.ID).
			Str("sensor_id", event.SensorID).
			Msg("alert sink failed")
		metrics.SinkFailures.WithLabelValues(sink).Inc()
	}
}

// SweepCooldowns drops cool-down entries that no longer suppress anything.
func (c *Coordinator) SweepCooldowns() int {
	return c.cooldown.Sweep(c.now())
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Processed:       c.processed.Load(),
		Degraded:        c.degraded.Load(),
		Fired:           c.fired.Load(),
		Suppressed:      c.suppressed.Load(),
		SkippedRules:    c.skipped.Load(),
		ActiveCooldowns: c.cooldown.Len(),
	}
}

// Stats holds coordinator counters
type Stats struct {
	Processed       uint64 `json:"processed"`
	Degraded        uint64 `json:"degraded"`
	Fired           uint64 `json:"fired"`
	Suppressed      uint64 `json:"suppressed"`
	SkippedRules    uint64 `json:"skipped_rules"`
	ActiveCooldowns int    `json:"active_cooldowns"`
}

func ruleKind(r models.AlertRule) string {
	if r.IsSystem() {
		return "system"
	}
	return "custom"
}
