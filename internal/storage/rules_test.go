package storage

import (
	"errors"
	"testing"

	"roomwatch/internal/models"
)

func validRow(id string) ruleRow {
	return ruleRow{
		ID: id, UserID: "u1", RoomID: "r1", SensorID: "s1", SensorType: "DHT22",
		Parameter: "temperature", Condition: ">", Threshold: 30, Message: "High temp",
	}
}

func TestRuleRow_Rule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *ruleRow)
		wantErr error
	}{
		{"valid", func(r *ruleRow) {}, nil},
		{"unknown condition", func(r *ruleRow) { r.Condition = "=>" }, models.ErrConfiguration},
		{"missing owner", func(r *ruleRow) { r.UserID = "" }, models.ErrRuleEmptyUserID},
		{"missing room", func(r *ruleRow) { r.RoomID = "" }, models.ErrRuleEmptyRoomID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow("a1")
			tt.mutate(&row)

			rule, err := row.rule()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("rule() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("rule() error = %v", err)
			}
			if rule.Condition != models.GreaterThan || rule.Threshold != 30 || rule.ID != "a1" {
				t.Errorf("rule() = %+v", rule)
			}
		})
	}
}

func TestBuildRules_SkipsInvalid(t *testing.T) {
	bad := validRow("a2")
	bad.Condition = "~"

	rules := buildRules([]ruleRow{validRow("a1"), bad, validRow("a3")})

	if len(rules) != 2 || rules[0].ID != "a1" || rules[1].ID != "a3" {
		t.Errorf("buildRules() = %+v", rules)
	}
}
