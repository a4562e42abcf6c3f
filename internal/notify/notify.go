// Package notify delivers fired alerts to their owners over email, SMS and voice.
package notify

import (
	"context"
	"errors"
	"fmt"

	"roomwatch/internal/models"
)

var (
	// ErrChannelDelivery is wrapped by every provider failure.
	ErrChannelDelivery = errors.New("notification delivery failed")
	// ErrRateLimited marks an attempt refused by the channel's local quota.
	ErrRateLimited = errors.New("notification channel rate limited")
)

// DeliveryError is a failed attempt on one channel.
type DeliveryError struct {
	Channel models.Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrChannelDelivery }

func (e *DeliveryError) Unwrap() error { return e.Err }

// EmailSender sends a plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// VoiceCaller places an automated call to a phone number.
type VoiceCaller interface {
	PlaceVoiceCall(ctx context.Context, to string) error
}

// RoomNamer resolves room display names for message bodies.
type RoomNamer interface {
	RoomName(roomID string) string
}

// ParseChannels converts configured channel names, ignoring unknown ones.
func ParseChannels(names []string) []models.Channel {
	out := make([]models.Channel, 0, len(names))
	for _, n := range names {
		switch c := models.Channel(n); c {
		case models.ChannelEmail, models.ChannelSMS, models.ChannelVoice:
			out = append(out, c)
		}
	}
	return out
}

func emailBody(name, sensorType, room, message string) string {
	return fmt.Sprintf("Dear %s,\n\n"+
		"The sensor **%s** in room **%s**\n"+
		"has detected an alert:\n\n"+
		"%s\n\n"+
		"Please check the system as soon as possible.\n\n"+
		"Best regards,\n"+
		"Room Monitoring System!", name, sensorType, room, message)
}

func smsBody(name, sensorType, message string) string {
	return fmt.Sprintf("Hello, %s\nThe sensor type is: %s\n%s", name, sensorType, message)
}
