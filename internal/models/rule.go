package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Condition is the comparison a rule applies between a reading and its threshold.
type Condition int

const (
	// ConditionInvalid is the zero value and never matches.
	ConditionInvalid Condition = iota
	LessThan
	LessOrEqual
	GreaterThan
	GreaterOrEqual
	Equal
	NotEqual
)

var conditionSymbols = map[Condition]string{
	LessThan:       "<",
	LessOrEqual:    "<=",
	GreaterThan:    ">",
	GreaterOrEqual: ">=",
	Equal:          "==",
	NotEqual:       "!=",
}

// ErrConfiguration marks rules that cannot be evaluated as written.
var ErrConfiguration = errors.New("invalid rule configuration")

// ConfigurationError describes why a rule was rejected at load time.
type ConfigurationError struct {
	RuleID string
	Field  string
	Value  string
}

func (e *ConfigurationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("rule %s: invalid %s %q", e.RuleID, e.Field, e.Value)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ParseCondition resolves a condition symbol. Unknown symbols are a ConfigurationError.
func ParseCondition(s string) (Condition, error) {
	switch strings.TrimSpace(s) {
	case "<":
		return LessThan, nil
	case "<=":
		return LessOrEqual, nil
	case ">":
		return GreaterThan, nil
	case ">=":
		return GreaterOrEqual, nil
	case "==":
		return Equal, nil
	case "!=":
		return NotEqual, nil
	default:
		return ConditionInvalid, &ConfigurationError{Field: "condition", Value: s}
	}
}

// IsValid reports whether c is one of the six known comparisons.
func (c Condition) IsValid() bool {
	_, ok := conditionSymbols[c]
	return ok
}

func (c Condition) String() string {
	if s, ok := conditionSymbols[c]; ok {
		return s
	}
	return "invalid"
}

// MarshalText encodes the condition as its symbol.
func (c Condition) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, &ConfigurationError{Field: "condition", Value: strconv.Itoa(int(c))}
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a condition symbol.
func (c *Condition) UnmarshalText(b []byte) error {
	parsed, err := ParseCondition(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// AlertRule is a user-defined threshold condition on one sensor parameter.
// System rules built into the engine have an empty ID and UserID.
type AlertRule struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RoomID     string    `json:"room_id"`
	SensorID   string    `json:"sensor_id"`
	SensorType string    `json:"sensor_type"`
	Parameter  string    `json:"parameter"`
	Condition  Condition `json:"condition"`
	Threshold  float64   `json:"threshold"`
	Message    string    `json:"message"`
}

// Rule validation errors
var (
	ErrRuleEmptyUserID   = errors.New("rule user ID cannot be empty")
	ErrRuleEmptyRoomID   = errors.New("rule room ID cannot be empty")
	ErrRuleEmptySensorID = errors.New("rule sensor ID cannot be empty")
)

// Validate checks a user rule has an owner, a room, a sensor and a known condition.
func (r AlertRule) Validate() error {
	if r.UserID == "" {
		return ErrRuleEmptyUserID
	}
	if r.RoomID == "" {
		return ErrRuleEmptyRoomID
	}
	if r.SensorID == "" {
		return ErrRuleEmptySensorID
	}
	if !r.Condition.IsValid() {
		return &ConfigurationError{RuleID: r.ID, Field: "condition", Value: r.Condition.String()}
	}
	return nil
}

// IsSystem reports whether the rule is a built-in threshold.
func (r AlertRule) IsSystem() bool {
	return r.ID == ""
}

// CooldownKey identifies the rule's breach state for de-duplication. It is
// (sensor, parameter, condition) widened with the rule id, or system:<threshold>
// for built-in rules, so owners of identical rules are suppressed independently.
func (r AlertRule) CooldownKey() string {
	identity := r.ID
	if r.IsSystem() {
		identity = "system:" + strconv.FormatFloat(r.Threshold, 'g', -1, 64)
	}
	return r.SensorID + "|" + r.Parameter + "|" + r.Condition.String() + "|" + identity
}
