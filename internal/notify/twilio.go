package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// TwilioConfig holds the Twilio REST credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	// TwimlURL is fetched by Twilio to script voice calls
	TwimlURL string
	Timeout  time.Duration
}

// TwilioClient sends SMS and places voice calls through the Twilio REST API.
type TwilioClient struct {
	client   *resty.Client
	from     string
	twimlURL string
}

type twilioResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// NewTwilioClient creates a client authenticated with the account SID and token.
func NewTwilioClient(cfg TwilioConfig) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetPathParam("accountSid", cfg.AccountSID).
		SetTimeout(cfg.Timeout)

	return &TwilioClient{client: c, from: cfg.From, twimlURL: cfg.TwimlURL}
}

// SendSMS implements SMSSender.
func (t *TwilioClient) SendSMS(ctx context.Context, to, body string) error {
	return t.post(ctx, "/Accounts/{accountSid}/Messages.json", map[string]string{
		"To":   to,
		"From": t.from,
		"Body": body,
	})
}

// PlaceVoiceCall implements VoiceCaller.
func (t *TwilioClient) PlaceVoiceCall(ctx context.Context, to string) error {
	return t.post(ctx, "/Accounts/{accountSid}/Calls.json", map[string]string{
		"To":   to,
		"From": t.from,
		"Url":  t.twimlURL,
	})
}

func (t *TwilioClient) post(ctx context.Context, path string, form map[string]string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&twilioResource{}).
		SetError(&twilioError{}).
		Post(path)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*twilioError); ok && e.Message != "" {
			return fmt.Errorf("twilio %d: code %d: %s", resp.StatusCode(), e.Code, e.Message)
		}
		return fmt.Errorf("twilio %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
