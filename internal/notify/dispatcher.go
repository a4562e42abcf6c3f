package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
)

// DispatcherConfig wires the channel clients. A nil client disables its channel.
type DispatcherConfig struct {
	Email EmailSender
	SMS   SMSSender
	Voice VoiceCaller

	// Enabled lists the channels to attempt; nil enables all of them
	Enabled []models.Channel
	// RatePerMinute caps attempts per channel; 0 disables limiting
	RatePerMinute int
	Subject       string
	Rooms         RoomNamer
}

// Dispatcher fans one alert out to every applicable channel. Channels never
// share failure: each attempt has its own error, panic recovery and quota.
type Dispatcher struct {
	email   EmailSender
	sms     SMSSender
	voice   VoiceCaller
	enabled map[models.Channel]bool
	limits  map[models.Channel]*rate.Limiter
	subject string
	rooms   RoomNamer
}

// NewDispatcher creates a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	channels := cfg.Enabled
	if channels == nil {
		channels = []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelVoice}
	}
	if cfg.Subject == "" {
		cfg.Subject = "Room Monitoring Alert"
	}

	d := &Dispatcher{
		email:   cfg.Email,
		sms:     cfg.SMS,
		voice:   cfg.Voice,
		enabled: make(map[models.Channel]bool, len(channels)),
		limits:  make(map[models.Channel]*rate.Limiter, len(channels)),
		subject: cfg.Subject,
		rooms:   cfg.Rooms,
	}
	for _, c := range channels {
		d.enabled[c] = true
		if cfg.RatePerMinute > 0 {
			d.limits[c] = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), cfg.RatePerMinute)
		}
	}
	return d
}

type attempt struct {
	channel models.Channel
	send    func(ctx context.Context) error
}

// Dispatch attempts every enabled channel the recipient can be reached on and
// returns one outcome per attempt, in email, SMS, voice order. There are no retries.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.AlertEvent, recipient models.UserContactInfo) []models.NotificationOutcome {
	attempts := d.plan(event, recipient)
	if len(attempts) == 0 {
		lg := logger.WithComponent("dispatcher")
		lg.Warn().
			Str("alert_id", event.ID).
			Str("user_id", recipient.UserID).
			Msg("no reachable channel for recipient")
		return nil
	}

	outcomes := make([]models.NotificationOutcome, len(attempts))
	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			outcomes[i] = d.try(ctx, event, a)
		}(i, a)
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) plan(event models.AlertEvent, recipient models.UserContactInfo) []attempt {
	var attempts []attempt

	if d.enabled[models.ChannelEmail] && d.email != nil && recipient.Email != "" {
		body := emailBody(recipient.Name, event.SensorType, d.roomName(event.RoomID), event.Message)
		attempts = append(attempts, attempt{models.ChannelEmail, func(ctx context.Context) error {
			return d.email.SendEmail(ctx, recipient.Email, d.subject, body)
		}})
	}

	if !recipient.HasPhone() {
		return attempts
	}
	if d.enabled[models.ChannelSMS] && d.sms != nil {
		body := smsBody(recipient.Name, event.SensorType, event.Message)
		attempts = append(attempts, attempt{models.ChannelSMS, func(ctx context.Context) error {
			return d.sms.SendSMS(ctx, recipient.Phone, body)
		}})
	}
	if d.enabled[models.ChannelVoice] && d.voice != nil {
		attempts = append(attempts, attempt{models.ChannelVoice, func(ctx context.Context) error {
			return d.voice.PlaceVoiceCall(ctx, recipient.Phone)
		}})
	}
	return attempts
}

func (d *Dispatcher) try(ctx context.Context, event models.AlertEvent, a attempt) (out models.NotificationOutcome) {
	out.Channel = a.channel
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Succeeded = false
			out.Err = &DeliveryError{Channel: a.channel, Err: fmt.Errorf("panic: %v", r)}
			lg := logger.WithComponent("dispatcher")
			lg.Error().
				Str("channel", string(a.channel)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("channel panic recovered")
			metrics.PanicsRecovered.WithLabelValues("channel_" + string(a.channel)).Inc()
		}
		metrics.NotificationDuration.WithLabelValues(string(a.channel)).Observe(time.Since(start).Seconds())
		report(event, out)
	}()

	if lim := d.limits[a.channel]; lim != nil && !lim.Allow() {
		out.Err = fmt.Errorf("%w: %s", ErrRateLimited, a.channel)
		return out
	}

	if err := a.send(ctx); err != nil {
		out.Err = &DeliveryError{Channel: a.channel, Err: err}
		return out
	}
	out.Succeeded = true
	return out
}

func (d *Dispatcher) roomName(roomID string) string {
	if d.rooms == nil {
		return roomID
	}
	return d.rooms.RoomName(roomID)
}

func report(event models.AlertEvent, out models.NotificationOutcome) {
	log := logger.WithComponent("dispatcher")
	status := "succeeded"
	switch {
	case out.Succeeded:
		log.Info().
			Str("alert_id", event.ID).
			Str("channel", string(out.Channel)).
			Msg("notification delivered")
	case errors.Is(out.Err, ErrRateLimited):
		status = "rate_limited"
		log.Warn().
			Str("alert_id", event.ID).
			Str("channel", string(out.Channel)).
			Msg("notification refused by channel quota")
	default:
		status = "failed"
		log.Error().
			Err(out.Err).
			Str("alert_id", event.ID).
			Str("channel", string(out.Channel)).
			Msg("notification failed")
	}
	metrics.NotificationsTotal.WithLabelValues(string(out.Channel), status).Inc()
}
