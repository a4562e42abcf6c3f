package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertEvent is the record produced when a rule's condition is satisfied by a reading.
type AlertEvent struct {
	ID string `json:"id"`

	// RuleID is nil for system alerts not tied to a custom rule
	RuleID *string `json:"rule_id"`

	// UserID is the rule owner; empty for system alerts until the room owner is resolved
	UserID string `json:"user_id,omitempty"`

	RoomID     string             `json:"room_id"`
	SensorID   string             `json:"sensor_id"`
	SensorType string             `json:"sensor_type"`
	Timestamp  time.Time          `json:"timestamp"`
	Data       map[string]float64 `json:"data"`
	Message    string             `json:"message"`
}

// NewAlertEvent builds the event for one firing of rule against reading.
func NewAlertEvent(reading SensorReading, rule AlertRule) AlertEvent {
	var ruleID *string
	if !rule.IsSystem() {
		id := rule.ID
		ruleID = &id
	}

	roomID := rule.RoomID
	if roomID == "" {
		roomID = reading.RoomID
	}
	sensorType := rule.SensorType
	if sensorType == "" {
		sensorType = reading.SensorType
	}

	return AlertEvent{
		ID:         uuid.NewString(),
		RuleID:     ruleID,
		UserID:     rule.UserID,
		RoomID:     roomID,
		SensorID:   reading.SensorID,
		SensorType: sensorType,
		Timestamp:  reading.ObservedAt,
		Data:       map[string]float64{reading.Parameter: reading.Value},
		Message:    rule.Message,
	}
}

// Clone returns a deep copy so independent sinks never share the data map.
func (e AlertEvent) Clone() AlertEvent {
	out := e
	if e.RuleID != nil {
		id := *e.RuleID
		out.RuleID = &id
	}
	if e.Data != nil {
		out.Data = make(map[string]float64, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return out
}
