package alerts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/alerts"
	"roomwatch/internal/models"
	"roomwatch/internal/state"
)

// MockRuleStore returns fixed rules or a fixed error
type MockRuleStore struct {
	rules []models.AlertRule
	err   error
	calls int
}

func (m *MockRuleStore) GetActiveRulesForSensor(ctx context.Context, sensorID string) ([]models.AlertRule, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []models.AlertRule
	for _, r := range m.rules {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MockSink records every call; it can fail or panic on demand
type MockSink struct {
	mu      sync.Mutex
	events  []models.AlertEvent
	err     error
	panics  bool
	reading []models.SensorReading
}

func (m *MockSink) Record(ctx context.Context, e models.AlertEvent) (string, error) {
	return e.ID, m.take(e)
}

func (m *MockSink) PublishAlert(ctx context.Context, e models.AlertEvent) error {
	return m.take(e)
}

func (m *MockSink) Notify(e models.AlertEvent) error {
	return m.take(e)
}

func (m *MockSink) WriteReading(ctx context.Context, r models.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = append(m.reading, r)
	return m.err
}

func (m *MockSink) take(e models.AlertEvent) error {
	if m.panics {
		panic("sink exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *MockSink) Events() []models.AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AlertEvent(nil), m.events...)
}

type rooms map[string]string

func (r rooms) RoomName(id string) string {
	if n, ok := r[id]; ok {
		return n
	}
	return id
}

// fakeClock is advanced manually by tests
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type harness struct {
	coord     *alerts.Coordinator
	store     *MockRuleStore
	recorder  *MockSink
	feed      *MockSink
	notifier  *MockSink
	telemetry *MockSink
	clock     *fakeClock
}

func newHarness(window time.Duration, systemRules bool, rules ...models.AlertRule) *harness {
	h := &harness{
		store:     &MockRuleStore{rules: rules},
		recorder:  &MockSink{},
		feed:      &MockSink{},
		notifier:  &MockSink{},
		telemetry: &MockSink{},
		clock:     &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	}
	h.coord = alerts.NewCoordinator(alerts.Config{
		Rules:       h.store,
		Recorder:    h.recorder,
		Telemetry:   h.telemetry,
		Feed:        h.feed,
		Notifier:    h.notifier,
		Rooms:       rooms{"r1": "Lab"},
		Cooldown:    state.NewCooldownStore(window),
		SystemRules: systemRules,
		Now:         h.clock.Now,
	})
	return h
}

func highTempRule() models.AlertRule {
	return models.AlertRule{
		ID: "a1", UserID: "u1", RoomID: "r1", SensorID: "s1", SensorType: "DHT22",
		Parameter: "temperature", Condition: models.GreaterThan, Threshold: 30, Message: "High temp",
	}
}

func tempReading(v float64) models.SensorReading {
	return models.SensorReading{
		SensorID: "s1", SensorType: "DHT22", RoomID: "r1",
		Parameter: "temperature", Value: v, ObservedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestCoordinator_FiresCustomRule(t *testing.T) {
	h := newHarness(5*time.Minute, false, highTempRule())

	res := h.coord.Process(context.Background(), tempReading(32))

	if res.Degraded || res.Rules != 1 || len(res.Fired) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	e := res.Fired[0]
	if e.Message != "High temp" || e.RuleID == nil || *e.RuleID != "a1" || e.UserID != "u1" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Data["temperature"] != 32 {
		t.Errorf("data = %v", e.Data)
	}

	for name, sink := range map[string]*MockSink{"recorder": h.recorder, "feed": h.feed, "notifier": h.notifier} {
		got := sink.Events()
		if len(got) != 1 || got[0].ID != e.ID {
			t.Errorf("%s received %d events", name, len(got))
		}
	}
	if len(h.telemetry.reading) != 1 {
		t.Errorf("telemetry writes = %d, want 1", len(h.telemetry.reading))
	}
}

func TestCoordinator_NoBreachNoAlert(t *testing.T) {
	h := newHarness(5*time.Minute, false, highTempRule())

	res := h.coord.Process(context.Background(), tempReading(30))

	if len(res.Fired) != 0 || len(h.recorder.Events()) != 0 {
		t.Errorf("reading at threshold should not fire: %+v", res)
	}
}

func TestCoordinator_DedupeUntilRecovery(t *testing.T) {
	h := newHarness(time.Hour, false, highTempRule())
	ctx := context.Background()

	fired := 0
	suppressed := 0
	for _, v := range []float64{32, 33, 35, 25, 31} {
		h.clock.now = h.clock.now.Add(time.Second)
		res := h.coord.Process(ctx, tempReading(v))
		fired += len(res.Fired)
		suppressed += res.Suppressed
	}

	if fired != 2 {
		t.Errorf("fired %d, want 2 (first breach and breach after recovery)", fired)
	}
	if suppressed != 2 {
		t.Errorf("suppressed %d, want 2", suppressed)
	}
	if n := len(h.notifier.Events()); n != 2 {
		t.Errorf("notifier received %d events, want 2", n)
	}
}

func TestCoordinator_DedupeWindowElapses(t *testing.T) {
	h := newHarness(time.Minute, false, highTempRule())
	ctx := context.Background()

	h.coord.Process(ctx, tempReading(40))

	h.clock.now = h.clock.now.Add(30 * time.Second)
	if res := h.coord.Process(ctx, tempReading(40)); len(res.Fired) != 0 {
		t.Error("breach inside window should be suppressed")
	}

	h.clock.now = h.clock.now.Add(31 * time.Second)
	if res := h.coord.Process(ctx, tempReading(40)); len(res.Fired) != 1 {
		t.Error("breach after window should fire again")
	}
}

func TestCoordinator_DegradedOnRuleStoreFailure(t *testing.T) {
	h := newHarness(time.Minute, true, highTempRule())
	h.store.err = errors.New("connection refused")

	// far above the DHT22 system limit too
	res := h.coord.Process(context.Background(), tempReading(60))

	if !res.Degraded {
		t.Fatal("expected degraded result")
	}
	if len(res.Fired) != 0 || len(h.recorder.Events()) != 0 || len(h.notifier.Events()) != 0 {
		t.Errorf("degraded reading must not emit alerts: %+v", res)
	}
	if len(h.telemetry.reading) != 1 {
		t.Error("raw telemetry should still be written")
	}
	if s := h.coord.Stats(); s.Degraded != 1 || s.Processed != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCoordinator_SinkFailuresAreIndependent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"recorder error", func(h *harness) { h.recorder.err = errors.New("db down") }},
		{"recorder panic", func(h *harness) { h.recorder.panics = true }},
		{"feed error", func(h *harness) { h.feed.err = errors.New("kafka down") }},
		{"telemetry error", func(h *harness) { h.telemetry.err = errors.New("influx down") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Minute, false, highTempRule())
			tt.setup(h)

			res := h.coord.Process(context.Background(), tempReading(35))

			if len(res.Fired) != 1 {
				t.Fatalf("alert should fire regardless of sink failures: %+v", res)
			}
			if n := len(h.notifier.Events()); n != 1 {
				t.Errorf("notifier received %d events, want 1", n)
			}
		})
	}
}

func TestCoordinator_NotifierPanicDoesNotStopRecorder(t *testing.T) {
	h := newHarness(time.Minute, false, highTempRule())
	h.notifier.panics = true

	res := h.coord.Process(context.Background(), tempReading(35))

	if len(res.Fired) != 1 || len(h.recorder.Events()) != 1 || len(h.feed.Events()) != 1 {
		t.Errorf("recorder and feed should still receive the alert")
	}
}

func TestCoordinator_SinksGetIndependentCopies(t *testing.T) {
	h := newHarness(time.Minute, false, highTempRule())

	h.coord.Process(context.Background(), tempReading(35))

	rec := h.recorder.Events()[0]
	rec.Data["temperature"] = -1

	if got := h.notifier.Events()[0].Data["temperature"]; got != 35 {
		t.Errorf("notifier copy changed to %g", got)
	}
}

func TestCoordinator_SystemRules(t *testing.T) {
	h := newHarness(time.Minute, true)

	res := h.coord.Process(context.Background(), tempReading(55))

	if len(res.Fired) != 1 {
		t.Fatalf("expected one system alert, got %+v", res)
	}
	e := res.Fired[0]
	if e.RuleID != nil {
		t.Error("system alert should have no rule id")
	}
	if want := "Temperature in room: Lab is too high 55 °C"; e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}

	low := h.coord.Process(context.Background(), models.SensorReading{
		SensorID: "s1", SensorType: "DHT22", RoomID: "r1", Parameter: "humidity", Value: 5, ObservedAt: time.Now(),
	})
	if len(low.Fired) != 1 || low.Fired[0].Message != "Humidity in room: Lab is too low: 5 %" {
		t.Errorf("unexpected humidity alert %+v", low.Fired)
	}
}

func TestCoordinator_SystemRulesDisabled(t *testing.T) {
	h := newHarness(time.Minute, false)

	res := h.coord.Process(context.Background(), tempReading(55))

	if res.Rules != 0 || len(res.Fired) != 0 {
		t.Errorf("system rules should be off: %+v", res)
	}
}

func TestCoordinator_CustomAndSystemFireTogether(t *testing.T) {
	h := newHarness(time.Minute, true, highTempRule())

	res := h.coord.Process(context.Background(), tempReading(51))

	if len(res.Fired) != 2 {
		t.Fatalf("expected custom and system alert, got %d", len(res.Fired))
	}
}

func TestCoordinator_OwnersDoNotSuppressEachOther(t *testing.T) {
	a := highTempRule()
	b := highTempRule()
	b.ID = "a2"
	b.UserID = "u2"
	h := newHarness(time.Hour, false, a, b)

	res := h.coord.Process(context.Background(), tempReading(35))

	if len(res.Fired) != 2 {
		t.Errorf("each owner should get an alert, fired %d", len(res.Fired))
	}
}

func TestCoordinator_SkipsInvalidRules(t *testing.T) {
	bad := highTempRule()
	bad.ID = "broken"
	bad.Condition = models.ConditionInvalid
	h := newHarness(time.Minute, false, bad, highTempRule())

	res := h.coord.Process(context.Background(), tempReading(35))

	if res.Skipped != 1 || len(res.Fired) != 1 {
		t.Errorf("expected one skipped and one fired, got %+v", res)
	}
}

func TestCoordinator_OtherParameterLeavesStateAlone(t *testing.T) {
	h := newHarness(time.Hour, false, highTempRule())
	ctx := context.Background()

	h.coord.Process(ctx, tempReading(35))
	h.coord.Process(ctx, models.SensorReading{SensorID: "s1", Parameter: "humidity", Value: 10, ObservedAt: time.Now()})

	if res := h.coord.Process(ctx, tempReading(36)); len(res.Fired) != 0 {
		t.Error("a humidity reading must not reset the temperature breach")
	}
}

func TestCoordinator_InvalidReading(t *testing.T) {
	h := newHarness(time.Minute, true, highTempRule())

	res := h.coord.Process(context.Background(), models.SensorReading{Parameter: "temperature", Value: 99})

	if res.Rules != 0 || h.store.calls != 0 || len(h.telemetry.reading) != 0 {
		t.Errorf("invalid reading should be rejected before any lookup: %+v", res)
	}
}
