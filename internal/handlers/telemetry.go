package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
)

// Submitter accepts a raw transport message for processing.
type Submitter interface {
	Submit(ctx context.Context, topic string, payload []byte) error
}

// TelemetryHandler bridges devices that cannot speak MQTT: each posted
// message is treated exactly like one received from the broker.
type TelemetryHandler struct {
	submitter   Submitter
	maxBodySize int64
}

// TelemetryConfig holds configuration for the telemetry handler
type TelemetryConfig struct {
	Submitter   Submitter
	MaxBodySize int64
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(cfg TelemetryConfig) *TelemetryHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 << 20 // 1MB default
	}
	return &TelemetryHandler{submitter: cfg.Submitter, maxBodySize: maxBodySize}
}

// TelemetryMessage is one bridged pub/sub message. Payload is either a JSON
// string holding the raw payload or any other JSON value used verbatim.
type TelemetryMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// TelemetryRequest is the batch form of the request body
type TelemetryRequest struct {
	Messages []TelemetryMessage `json:"messages"`
}

// TelemetryResponse is the response returned to clients
type TelemetryResponse struct {
	Success  bool             `json:"success"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Errors   []TelemetryError `json:"errors,omitempty"`
}

// TelemetryError describes why one message was rejected
type TelemetryError struct {
	Index int    `json:"index"`
	Topic string `json:"topic,omitempty"`
	Error string `json:"error"`
}

// ServeHTTP handles POST /v1/telemetry
func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	messages, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.MessagesReceived.WithLabelValues("http").Add(float64(len(messages)))

	resp, overloaded := h.submitAll(r.Context(), messages)

	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
		if overloaded {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *TelemetryHandler) submitAll(ctx context.Context, messages []TelemetryMessage) (TelemetryResponse, bool) {
	resp := TelemetryResponse{}
	overloaded := false

	for i, m := range messages {
		err := h.submitter.Submit(ctx, m.Topic, payloadBytes(m.Payload))
		if err == nil {
			resp.Accepted++
			continue
		}
		if !errors.Is(err, models.ErrParse) {
			overloaded = true
		}
		resp.Rejected++
		resp.Errors = append(resp.Errors, TelemetryError{Index: i, Topic: m.Topic, Error: err.Error()})
	}

	resp.Success = resp.Rejected == 0
	return resp, overloaded
}

// parseBody accepts a single message, {"messages": [...]} or a bare array.
func parseBody(body []byte) ([]TelemetryMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty request body")
	}

	if trimmed[0] == '[' {
		var list []TelemetryMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
		return nonEmpty(list)
	}

	var envelope struct {
		TelemetryMessage
		Messages []TelemetryMessage `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if len(envelope.Messages) > 0 {
		return envelope.Messages, nil
	}
	if envelope.Topic == "" {
		return nil, errors.New("expected a message with a topic or a messages array")
	}
	return []TelemetryMessage{envelope.TelemetryMessage}, nil
}

func nonEmpty(list []TelemetryMessage) ([]TelemetryMessage, error) {
	if len(list) == 0 {
		return nil, errors.New("no messages provided")
	}
	return list, nil
}

// payloadBytes unwraps a JSON string payload; other JSON values pass through as-is.
func payloadBytes(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
