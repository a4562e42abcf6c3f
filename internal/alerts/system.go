package alerts

import (
	"strconv"
	"strings"

	"roomwatch/internal/models"
)

// Placeholders substituted into system rule messages when they fire
const (
	placeholderRoom  = "{room}"
	placeholderValue = "{value}"
)

type systemThreshold struct {
	parameter string
	condition models.Condition
	threshold float64
	message   string
}

// Built-in safety limits per sensor model. They apply to every sensor of the
// type regardless of user rules.
var systemThresholds = map[string][]systemThreshold{
	"DHT22": {
		{"temperature", models.GreaterThan, 50, "Temperature in room: {room} is too high {value} °C"},
		{"temperature", models.LessThan, -15, "Temperature in room: {room} is too low: {value} °C"},
		{"humidity", models.GreaterThan, 95, "Humidity in room: {room} is too high: {value} %"},
		{"humidity", models.LessThan, 10, "Humidity in room: {room} is too low: {value} %"},
	},
	"MQ5": {
		{"gas", models.GreaterThan, 700, "Gas level in room: {room} is too high: {value}"},
	},
	"MQ2": {
		{"gas", models.GreaterThan, 800, "Smoke or gas level in room: {room} is too high: {value}"},
	},
}

// SystemRules returns the built-in rules for a sensor type. The rules carry no
// ID, owner or sensor; the coordinator binds them to each reading.
func SystemRules(sensorType string) []models.AlertRule {
	thresholds := systemThresholds[strings.ToUpper(sensorType)]
	if len(thresholds) == 0 {
		return nil
	}

	rules := make([]models.AlertRule, 0, len(thresholds))
	for _, t := range thresholds {
		rules = append(rules, models.AlertRule{
			SensorType: strings.ToUpper(sensorType),
			Parameter:  t.parameter,
			Condition:  t.condition,
			Threshold:  t.threshold,
			Message:    t.message,
		})
	}
	return rules
}

// bindSystemRule ties a system rule to the sensor and room of reading.
func bindSystemRule(rule models.AlertRule, reading models.SensorReading) models.AlertRule {
	rule.SensorID = reading.SensorID
	rule.RoomID = reading.RoomID
	return rule
}

// renderSystemMessage fills the room name and value into a system rule message.
func renderSystemMessage(msg, roomName string, value float64) string {
	return strings.NewReplacer(
		placeholderRoom, roomName,
		placeholderValue, strconv.FormatFloat(value, 'f', -1, 64),
	).Replace(msg)
}
