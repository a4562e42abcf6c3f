package models

import (
	"errors"
	"fmt"
	"time"
)

// SensorReading is one (sensor, parameter, value, time) observation.
// Values are passed by copy and never mutated after normalization.
type SensorReading struct {
	SensorID   string    `json:"sensor_id"`
	SensorType string    `json:"sensor_type"`
	RoomID     string    `json:"room_id"`
	Parameter  string    `json:"parameter"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validation errors
var (
	ErrEmptySensorID  = errors.New("sensor ID cannot be empty")
	ErrEmptyParameter = errors.New("parameter cannot be empty")
	ErrZeroObservedAt = errors.New("observed-at timestamp cannot be zero")
)

// Validate checks the reading has every required field.
func (r SensorReading) Validate() error {
	if r.SensorID == "" {
		return ErrEmptySensorID
	}
	if r.Parameter == "" {
		return ErrEmptyParameter
	}
	if r.ObservedAt.IsZero() {
		return ErrZeroObservedAt
	}
	return nil
}

func (r SensorReading) String() string {
	return fmt.Sprintf("%s/%s=%g@%s", r.SensorID, r.Parameter, r.Value, r.ObservedAt.Format(time.RFC3339))
}
