package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parse failure reasons, also used as metric labels
const (
	ReasonTopic     = "topic"
	ReasonPayload   = "payload"
	ReasonParameter = "unknown_parameter"
)

// ErrParse marks a malformed transport message.
var ErrParse = errors.New("malformed telemetry message")

// ParseError describes why a transport message could not be normalized.
type ParseError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %q: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %q: %s", e.Topic, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// Binding maps a topic sensor type and field to a concrete sensor.
type Binding struct {
	SensorID   string
	SensorType string
	RoomID     string
	RoomName   string
	// Parameter is the name readings are stored and matched under
	Parameter string
}

// SensorResolver looks up the sensor bound to a topic type and payload field,
// or to an explicit sensor id carried in the topic.
type SensorResolver interface {
	Resolve(topicType, field string) (Binding, bool)
	ResolveSensor(topicType, sensorID, parameter string) (Binding, bool)
}

const (
	topicPrefix    = "sensor"
	combinedSuffix = "data"
	timestampField = "timestamp"
)

// Normalizer turns raw transport messages into typed readings. It has no side effects.
type Normalizer struct {
	resolver SensorResolver
	now      func() time.Time
}

// NewNormalizer creates a normalizer resolving sensors through r.
func NewNormalizer(r SensorResolver) *Normalizer {
	return &Normalizer{resolver: r, now: time.Now}
}

// WithClock overrides the receive-time clock. Used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize parses a single-value message on topic sensor/<type>/<parameter>
// or sensor/<type>/<sensorId>/<parameter>.
func (n *Normalizer) Normalize(topic string, payload []byte) (SensorReading, error) {
	t, err := splitTopic(topic)
	if err != nil {
		return SensorReading{}, err
	}

	var (
		binding Binding
		ok      bool
	)
	if t.sensorID != "" {
		binding, ok = n.resolver.ResolveSensor(t.sensorType, t.sensorID, t.field)
	} else {
		binding, ok = n.resolver.Resolve(t.sensorType, t.field)
	}
	if !ok {
		return SensorReading{}, &ParseError{Topic: topic, Reason: ReasonParameter}
	}

	value, err := parseDecimal(string(payload))
	if err != nil {
		return SensorReading{}, &ParseError{Topic: topic, Reason: ReasonPayload, Err: err}
	}

	return newReading(binding, value, n.now().UTC()), nil
}

// NormalizeAll parses any supported message. The combined form sensor/<type>/data
// carries a JSON object and yields one reading per known numeric field; every
// other topic yields exactly one reading.
func (n *Normalizer) NormalizeAll(topic string, payload []byte) ([]SensorReading, error) {
	t, err := splitTopic(topic)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(payload)
	if t.sensorID != "" || t.field != combinedSuffix || len(trimmed) == 0 || trimmed[0] != '{' {
		r, err := n.Normalize(topic, payload)
		if err != nil {
			return nil, err
		}
		return []SensorReading{r}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &ParseError{Topic: topic, Reason: ReasonPayload, Err: err}
	}

	observedAt := n.now().UTC()
	if raw, ok := fields[timestampField]; ok {
		ts, err := parseUnixTimestamp(raw)
		if err != nil {
			return nil, &ParseError{Topic: topic, Reason: ReasonPayload, Err: err}
		}
		observedAt = ts
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if name != timestampField {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	readings := make([]SensorReading, 0, len(names))
	for _, name := range names {
		binding, ok := n.resolver.Resolve(t.sensorType, name)
		if !ok {
			continue
		}
		num, ok := fields[name].(json.Number)
		if !ok {
			return nil, &ParseError{Topic: topic, Reason: ReasonPayload, Err: fmt.Errorf("field %q is not numeric", name)}
		}
		value, err := parseDecimal(num.String())
		if err != nil {
			return nil, &ParseError{Topic: topic, Reason: ReasonPayload, Err: err}
		}
		readings = append(readings, newReading(binding, value, observedAt))
	}

	if len(readings) == 0 {
		return nil, &ParseError{Topic: topic, Reason: ReasonParameter}
	}
	return readings, nil
}

func newReading(b Binding, value float64, at time.Time) SensorReading {
	return SensorReading{
		SensorID:   b.SensorID,
		SensorType: b.SensorType,
		RoomID:     b.RoomID,
		Parameter:  b.Parameter,
		Value:      value,
		ObservedAt: at,
	}
}

type topicParts struct {
	sensorType string
	sensorID   string
	field      string
}

// splitTopic parses sensor/<type>/<field> and sensor/<type>/<sensorId>/<field>.
func splitTopic(topic string) (topicParts, error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != topicPrefix {
		return topicParts{}, &ParseError{Topic: topic, Reason: ReasonTopic}
	}
	for _, p := range parts[1:] {
		if p == "" {
			return topicParts{}, &ParseError{Topic: topic, Reason: ReasonTopic}
		}
	}
	if len(parts) == 4 {
		return topicParts{sensorType: parts[1], sensorID: parts[2], field: parts[3]}, nil
	}
	return topicParts{sensorType: parts[1], field: parts[2]}, nil
}

// Decimal exponents beyond float64 range. Converting them would build a
// big.Int of 10^exp digits before overflowing to ±Inf.
const (
	maxDecimalExponent = 308
	minDecimalExponent = -400
)

var errValueOutOfRange = errors.New("value out of float64 range")

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if exp := d.Exponent(); exp > maxDecimalExponent || exp < minDecimalExponent {
		return 0, fmt.Errorf("%w: exponent %d", errValueOutOfRange, exp)
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errValueOutOfRange
	}
	return f, nil
}

// parseUnixTimestamp accepts unix seconds as a JSON number or a numeric string.
func parseUnixTimestamp(raw any) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return time.Time{}, fmt.Errorf("timestamp has type %T", raw)
	}

	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.Unix(secs, 0).UTC(), nil
}
