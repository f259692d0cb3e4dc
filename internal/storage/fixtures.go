package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Units, rules, and contacts are owned by the surrounding CRUD layer.
// The writers below exist for that layer (and tests) to populate the
// shared tables; the engine itself only reads them.

// PutUnit inserts or replaces a unit row
func (s *Store) PutUnit(ctx context.Context, unit *model.Unit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, site_id, organization_id, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			organization_id = excluded.organization_id,
			name = excluded.name`,
		unit.ID, unit.SiteID, unit.OrganizationID, unit.Name)
	if err != nil {
		return fmt.Errorf("failed to put unit: %w", err)
	}
	return nil
}

// PutRule inserts or replaces the rule row for one scope
func (s *Store) PutRule(ctx context.Context, rule *model.AlertRule) error {
	var expectedSecs, manualSecs sql.NullInt64
	if rule.ExpectedInterval != nil {
		expectedSecs = sql.NullInt64{Int64: int64(rule.ExpectedInterval.Seconds()), Valid: true}
	}
	if rule.ManualLogInterval != nil {
		manualSecs = sql.NullInt64{Int64: int64(rule.ManualLogInterval.Seconds()), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (
			scope_type, scope_id, temp_min, temp_max, humidity_min, humidity_max,
			expected_interval_seconds, offline_multiplier,
			manual_log_interval_seconds, critical_margin_degrees, critical_margin_percent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_type, scope_id) DO UPDATE SET
			temp_min = excluded.temp_min,
			temp_max = excluded.temp_max,
			humidity_min = excluded.humidity_min,
			humidity_max = excluded.humidity_max,
			expected_interval_seconds = excluded.expected_interval_seconds,
			offline_multiplier = excluded.offline_multiplier,
			manual_log_interval_seconds = excluded.manual_log_interval_seconds,
			critical_margin_degrees = excluded.critical_margin_degrees,
			critical_margin_percent = excluded.critical_margin_percent`,
		rule.ScopeType, rule.ScopeID,
		nullFloat(rule.TempMin), nullFloat(rule.TempMax),
		nullFloat(rule.HumidityMin), nullFloat(rule.HumidityMax),
		expectedSecs, nullFloat(rule.OfflineMultiplier), manualSecs,
		nullFloat(rule.CriticalMarginDegrees), nullFloat(rule.CriticalMarginPercent))
	if err != nil {
		return fmt.Errorf("failed to put rule: %w", err)
	}
	return nil
}

// PutContact inserts or replaces an escalation contact
func (s *Store) PutContact(ctx context.Context, contact *model.EscalationContact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_contacts (id, organization_id, priority, name, phone, email, sms_enabled, email_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			priority = excluded.priority,
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			sms_enabled = excluded.sms_enabled,
			email_enabled = excluded.email_enabled`,
		contact.ID, contact.OrganizationID, contact.Priority, contact.Name,
		sql.NullString{String: contact.Phone, Valid: contact.Phone != ""},
		sql.NullString{String: contact.Email, Valid: contact.Email != ""},
		contact.SMSEnabled, contact.EmailEnabled)
	if err != nil {
		return fmt.Errorf("failed to put contact: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
