// Package alerts decides which readings breach which rules and fans fired
// alerts out to the recorder, the alert feed and the notification queue.
package alerts

import "roomwatch/internal/models"

// Evaluate reports whether reading satisfies rule. Rules for another sensor or
// parameter never match, and an invalid condition fails closed.
func Evaluate(reading models.SensorReading, rule models.AlertRule) bool {
	if rule.SensorID != reading.SensorID || rule.Parameter != reading.Parameter {
		return false
	}
	return Compare(reading.Value, rule.Condition, rule.Threshold)
}

// Compare applies cond to value and threshold. Equality is exact.
func Compare(value float64, cond models.Condition, threshold float64) bool {
	switch cond {
	case models.LessThan:
		return value < threshold
	case models.LessOrEqual:
		return value <= threshold
	case models.GreaterThan:
		return value > threshold
	case models.GreaterOrEqual:
		return value >= threshold
	case models.Equal:
		return value == threshold
	case models.NotEqual:
		return value != threshold
	default:
		return false
	}
}
