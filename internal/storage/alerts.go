package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"roomwatch/internal/models"
)

const insertAlert = `
	INSERT INTO alerts (id, rule_id, user_id, room_id, sensor_id, sensor_type, ts, data, message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
	RETURNING id`

// AlertRepository persists fired alerts to PostgreSQL.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates an alert repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Record implements alerts.AlertRecorder.
func (r *AlertRepository) Record(ctx context.Context, event models.AlertEvent) (string, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return "", fmt.Errorf("encode alert data: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, insertAlert,
		event.ID,
		nullString(event.RuleID),
		sql.NullString{String: event.UserID, Valid: event.UserID != ""},
		event.RoomID,
		event.SensorID,
		event.SensorType,
		event.Timestamp,
		data,
		event.Message,
	).Scan(&id)
	if err == sql.ErrNoRows {
		// already recorded
		return event.ID, nil
	}
	if err != nil {
		return "", unavailable("insert alert", err)
	}
	return id, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
