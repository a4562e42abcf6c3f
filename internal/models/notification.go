package models

// Channel is one notification delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// NotificationOutcome is the result of one delivery attempt on one channel.
// Outcomes are reported individually and never folded into a single status.
type NotificationOutcome struct {
	Channel   Channel `json:"channel"`
	Succeeded bool    `json:"succeeded"`
	Err       error   `json:"-"`
}

// UserContactInfo is how the owner of an alert can be reached.
// Phone is already decrypted; empty when the user has none registered.
type UserContactInfo struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"-"`
}

// HasPhone reports whether SMS and voice channels can be attempted.
func (u UserContactInfo) HasPhone() bool {
	return u.Phone != ""
}
