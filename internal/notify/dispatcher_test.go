package notify_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"roomwatch/internal/models"
	"roomwatch/internal/notify"
)

// MockChannel implements every sender interface and records its calls
type MockChannel struct {
	mu     sync.Mutex
	calls  []string
	err    error
	panics bool
}

func (m *MockChannel) record(call string) error {
	if m.panics {
		panic("provider exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *MockChannel) SendEmail(ctx context.Context, to, subject, body string) error {
	return m.record(to + "|" + subject + "|" + body)
}

func (m *MockChannel) SendSMS(ctx context.Context, to, body string) error {
	return m.record(to + "|" + body)
}

func (m *MockChannel) PlaceVoiceCall(ctx context.Context, to string) error {
	return m.record(to)
}

func (m *MockChannel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type roomNames map[string]string

func (r roomNames) RoomName(id string) string { return r[id] }

func testEvent() models.AlertEvent {
	id := "a1"
	return models.AlertEvent{
		ID:         "evt-1",
		RuleID:     &id,
		UserID:     "u1",
		RoomID:     "r1",
		SensorID:   "s1",
		SensorType: "DHT22",
		Data:       map[string]float64{"temperature": 32},
		Message:    "High temp",
	}
}

var fullContact = models.UserContactInfo{UserID: "u1", Name: "Ada", Email: "ada@example.com", Phone: "+15551234567"}

type channels struct {
	email, sms, voice *MockChannel
}

func newDispatcher(cfg notify.DispatcherConfig) (*notify.Dispatcher, channels) {
	ch := channels{&MockChannel{}, &MockChannel{}, &MockChannel{}}
	cfg.Email = ch.email
	cfg.SMS = ch.sms
	cfg.Voice = ch.voice
	cfg.Rooms = roomNames{"r1": "Lab"}
	return notify.NewDispatcher(cfg), ch
}

func channelsOf(outcomes []models.NotificationOutcome) string {
	names := make([]string, len(outcomes))
	for i, o := range outcomes {
		names[i] = string(o.Channel)
	}
	return strings.Join(names, ",")
}

func TestDispatcher_AllChannels(t *testing.T) {
	d, ch := newDispatcher(notify.DispatcherConfig{})

	outcomes := d.Dispatch(context.Background(), testEvent(), fullContact)

	if got := channelsOf(outcomes); got != "email,sms,voice" {
		t.Fatalf("channels = %s", got)
	}
	for _, o := range outcomes {
		if !o.Succeeded || o.Err != nil {
			t.Errorf("%s outcome = %+v", o.Channel, o)
		}
	}

	email := ch.email.Calls()
	if len(email) != 1 || !strings.HasPrefix(email[0], "ada@example.com|Room Monitoring Alert|Dear Ada,") {
		t.Errorf("email calls = %q", email)
	}
	if !strings.Contains(email[0], "**DHT22** in room **Lab**") || !strings.Contains(email[0], "High temp") {
		t.Errorf("email body missing details: %q", email[0])
	}

	sms := ch.sms.Calls()
	if len(sms) != 1 || sms[0] != "+15551234567|Hello, Ada\nThe sensor type is: DHT22\nHigh temp" {
		t.Errorf("sms calls = %q", sms)
	}
	if voice := ch.voice.Calls(); len(voice) != 1 || voice[0] != "+15551234567" {
		t.Errorf("voice calls = %q", voice)
	}
}

func TestDispatcher_NoPhoneEmailOnly(t *testing.T) {
	d, ch := newDispatcher(notify.DispatcherConfig{})
	contact := fullContact
	contact.Phone = ""

	outcomes := d.Dispatch(context.Background(), testEvent(), contact)

	if got := channelsOf(outcomes); got != "email" {
		t.Errorf("channels = %s, want email", got)
	}
	if len(ch.sms.Calls()) != 0 || len(ch.voice.Calls()) != 0 {
		t.Error("phone channels must not be attempted without a phone")
	}
}

func TestDispatcher_NoReachableChannel(t *testing.T) {
	d, _ := newDispatcher(notify.DispatcherConfig{})

	outcomes := d.Dispatch(context.Background(), testEvent(), models.UserContactInfo{UserID: "u1"})

	if outcomes != nil {
		t.Errorf("outcomes = %+v, want nil", outcomes)
	}
}

func TestDispatcher_EnabledChannels(t *testing.T) {
	d, ch := newDispatcher(notify.DispatcherConfig{
		Enabled: notify.ParseChannels([]string{"sms", "pigeon"}),
	})

	outcomes := d.Dispatch(context.Background(), testEvent(), fullContact)

	if got := channelsOf(outcomes); got != "sms" {
		t.Errorf("channels = %s, want sms", got)
	}
	if len(ch.email.Calls()) != 0 {
		t.Error("disabled email channel was attempted")
	}
}

func TestDispatcher_ChannelFailuresAreIndependent(t *testing.T) {
	tests := []struct {
		name   string
		setup func(ch channels)
		failed models.Channel
	}{
		{"email error", func(ch channels) { ch.email.err = errors.New("smtp down") }, models.ChannelEmail},
		{"sms panic", func(ch channels) { ch.sms.panics = true }, models.ChannelSMS},
		{"voice error", func(ch channels) { ch.voice.err = errors.New("twilio 500") }, models.ChannelVoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ch := newDispatcher(notify.DispatcherConfig{})
			tt.setup(ch)

			outcomes := d.Dispatch(context.Background(), testEvent(), fullContact)

			if len(outcomes) != 3 {
				t.Fatalf("got %d outcomes, want 3", len(outcomes))
			}
			for _, o := range outcomes {
				if o.Channel == tt.failed {
					if o.Succeeded || !errors.Is(o.Err, notify.ErrChannelDelivery) {
						t.Errorf("%s outcome = %+v, want delivery failure", o.Channel, o)
					}
					continue
				}
				if !o.Succeeded {
					t.Errorf("%s should succeed, got %v", o.Channel, o.Err)
				}
			}
		})
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	d, ch := newDispatcher(notify.DispatcherConfig{
		Enabled:       []models.Channel{models.ChannelEmail},
		RatePerMinute: 2,
	})

	var limited int
	for i := 0; i < 3; i++ {
		out := d.Dispatch(context.Background(), testEvent(), fullContact)
		if len(out) != 1 {
			t.Fatalf("got %d outcomes", len(out))
		}
		if errors.Is(out[0].Err, notify.ErrRateLimited) {
			limited++
		}
	}

	if limited != 1 {
		t.Errorf("rate limited %d times, want 1", limited)
	}
	if n := len(ch.email.Calls()); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestParseChannels(t *testing.T) {
	got := notify.ParseChannels([]string{"voice", "fax", "email"})
	if len(got) != 2 || got[0] != models.ChannelVoice || got[1] != models.ChannelEmail {
		t.Errorf("ParseChannels() = %v", got)
	}
}
