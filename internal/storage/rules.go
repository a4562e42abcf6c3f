package storage

import (
	"context"
	"database/sql"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
)

const selectRulesForSensor = `
	SELECT id, user_id, room_id, sensor_id, sensor_type, parameter, condition, threshold, message
	FROM custom_alerts
	WHERE sensor_id = $1
	ORDER BY created_at, id`

// RuleRepository reads custom alert rules from PostgreSQL.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a rule repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type ruleRow struct {
	ID         string
	UserID     string
	RoomID     string
	SensorID   string
	SensorType string
	Parameter  string
	Condition  string
	Threshold  float64
	Message    string
}

// GetActiveRulesForSensor returns every evaluable rule on sensorID. Rules that
// fail to parse or validate are logged and skipped.
func (r *RuleRepository) GetActiveRulesForSensor(ctx context.Context, sensorID string) ([]models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, selectRulesForSensor, sensorID)
	if err != nil {
		return nil, unavailable("query rules", err)
	}
	defer rows.Close()

	var raw []ruleRow
	for rows.Next() {
		var row ruleRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.RoomID, &row.SensorID, &row.SensorType,
			&row.Parameter, &row.Condition, &row.Threshold, &row.Message); err != nil {
			return nil, unavailable("scan rule", err)
		}
		raw = append(raw, row)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate rules", err)
	}

	return buildRules(raw), nil
}

func buildRules(raw []ruleRow) []models.AlertRule {
	rules := make([]models.AlertRule, 0, len(raw))
	for _, row := range raw {
		rule, err := row.rule()
		if err != nil {
			lg := logger.WithSensor("rule_store", row.SensorID)
			lg.Warn().
				Err(err).
				Str("rule_id", row.ID).
				Msg("skipping invalid rule")
			metrics.RulesSkipped.Inc()
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func (row ruleRow) rule() (models.AlertRule, error) {
	cond, err := models.ParseCondition(row.Condition)
	if err != nil {
		return models.AlertRule{}, &models.ConfigurationError{RuleID: row.ID, Field: "condition", Value: row.Condition}
	}

	rule := models.AlertRule{
		ID:         row.ID,
		UserID:     row.UserID,
		RoomID:     row.RoomID,
		SensorID:   row.SensorID,
		SensorType: row.SensorType,
		Parameter:  row.Parameter,
		Condition:  cond,
		Threshold:  row.Threshold,
		Message:    row.Message,
	}
	if err := rule.Validate(); err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}
