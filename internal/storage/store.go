package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Store persists unit state and alerts, and reads the hierarchy, rule,
// and contact tables owned by the surrounding CRUD layer. Alert status
// mutations are conditional updates so concurrent sweeps and operator
// actions cannot race into inconsistent state.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStore opens (or creates) the SQLite database at dbPath. Existing
// data is kept: escalation deadlines are derived from persisted
// timestamps and must survive restarts.
func NewStore(logger *zap.Logger, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			site_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS alert_rules (
			scope_type TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			temp_min REAL,
			temp_max REAL,
			humidity_min REAL,
			humidity_max REAL,
			expected_interval_seconds INTEGER,
			offline_multiplier REAL,
			manual_log_interval_seconds INTEGER,
			critical_margin_degrees REAL,
			critical_margin_percent REAL,
			UNIQUE(scope_type, scope_id)
		);
		CREATE TABLE IF NOT EXISTS escalation_contacts (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT,
			email TEXT,
			sms_enabled INTEGER NOT NULL DEFAULT 1,
			email_enabled INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_org ON escalation_contacts(organization_id, priority);
		CREATE TABLE IF NOT EXISTS unit_state (
			unit_id TEXT PRIMARY KEY,
			classification TEXT NOT NULL,
			last_reading_at DATETIME NOT NULL,
			last_evaluated_at DATETIME NOT NULL,
			failure_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			triggered_at DATETIME NOT NULL,
			last_observed_at DATETIME NOT NULL,
			last_escalated_at DATETIME,
			acknowledged_by TEXT,
			acknowledged_at DATETIME,
			acknowledge_notes TEXT,
			resolved_by TEXT,
			resolved_at DATETIME,
			resolution TEXT,
			corrective_action TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_unit ON alerts(unit_id, type, status);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// UnitHierarchy returns the site/organization chain for a unit
func (s *Store) UnitHierarchy(ctx context.Context, unitID string) (*model.Unit, error) {
	var unit model.Unit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, organization_id, name FROM units WHERE id = ?`, unitID).Scan(
		&unit.ID, &unit.SiteID, &unit.OrganizationID, &unit.Name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load unit %s: %w", unitID, err)
	}
	return &unit, nil
}

// RuleForScope returns the configured rule for one scope, or nil when
// no rule row exists for it.
func (s *Store) RuleForScope(ctx context.Context, scopeType model.RuleScope, scopeID string) (*model.AlertRule, error) {
	rule := model.AlertRule{ScopeType: scopeType, ScopeID: scopeID}
	var (
		expectedSecs, manualSecs sql.NullInt64
		tempMin, tempMax         sql.NullFloat64
		humMin, humMax           sql.NullFloat64
		offlineMult              sql.NullFloat64
		marginDeg, marginPct     sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT temp_min, temp_max, humidity_min, humidity_max,
			expected_interval_seconds, offline_multiplier,
			manual_log_interval_seconds, critical_margin_degrees, critical_margin_percent
		FROM alert_rules
		WHERE scope_type = ? AND scope_id = ?`, scopeType, scopeID).Scan(
		&tempMin, &tempMax, &humMin, &humMax,
		&expectedSecs, &offlineMult, &manualSecs, &marginDeg, &marginPct)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load rule for %s/%s: %w", scopeType, scopeID, err)
	}

	if tempMin.Valid {
		rule.TempMin = &tempMin.Float64
	}
	if tempMax.Valid {
		rule.TempMax = &tempMax.Float64
	}
	if humMin.Valid {
		rule.HumidityMin = &humMin.Float64
	}
	if humMax.Valid {
		rule.HumidityMax = &humMax.Float64
	}
	if expectedSecs.Valid {
		d := time.Duration(expectedSecs.Int64) * time.Second
		rule.ExpectedInterval = &d
	}
	if offlineMult.Valid {
		rule.OfflineMultiplier = &offlineMult.Float64
	}
	if manualSecs.Valid {
		d := time.Duration(manualSecs.Int64) * time.Second
		rule.ManualLogInterval = &d
	}
	if marginDeg.Valid {
		rule.CriticalMarginDegrees = &marginDeg.Float64
	}
	if marginPct.Valid {
		rule.CriticalMarginPercent = &marginPct.Float64
	}
	return &rule, nil
}

// ContactsForOrg returns an organization's escalation contacts ordered
// by priority. A negative maxPriority returns all contacts.
func (s *Store) ContactsForOrg(ctx context.Context, orgID string, maxPriority int) ([]model.EscalationContact, error) {
	query := `
		SELECT id, organization_id, priority, name, phone, email, sms_enabled, email_enabled
		FROM escalation_contacts
		WHERE organization_id = ?`
	args := []interface{}{orgID}
	if maxPriority >= 0 {
		query += " AND priority <= ?"
		args = append(args, maxPriority)
	}
	query += " ORDER BY priority ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []model.EscalationContact
	for rows.Next() {
		var c model.EscalationContact
		var phone, email sql.NullString
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Priority, &c.Name,
			&phone, &email, &c.SMSEnabled, &c.EmailEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.Phone = phone.String
		c.Email = email.String
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetUnitState returns the tracked state for a unit, or nil when the
// unit has never been evaluated.
func (s *Store) GetUnitState(ctx context.Context, unitID string) (*model.UnitState, error) {
	var state model.UnitState
	err := s.db.QueryRowContext(ctx, `
		SELECT unit_id, classification, last_reading_at, last_evaluated_at, failure_count
		FROM unit_state WHERE unit_id = ?`, unitID).Scan(
		&state.UnitID, &state.Classification, &state.LastReadingAt,
		&state.LastEvaluatedAt, &state.FailureCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load unit state %s: %w", unitID, err)
	}
	return &state, nil
}

// UpsertUnitState writes the tracked state for a unit
func (s *Store) UpsertUnitState(ctx context.Context, state *model.UnitState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_state (unit_id, classification, last_reading_at, last_evaluated_at, failure_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			classification = excluded.classification,
			last_reading_at = excluded.last_reading_at,
			last_evaluated_at = excluded.last_evaluated_at,
			failure_count = excluded.failure_count`,
		state.UnitID, state.Classification, state.LastReadingAt,
		state.LastEvaluatedAt, state.FailureCount)
	if err != nil {
		return fmt.Errorf("failed to upsert unit state: %w", err)
	}
	return nil
}

// ListUnitStates returns the tracked state of every unit
func (s *Store) ListUnitStates(ctx context.Context) ([]*model.UnitState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, classification, last_reading_at, last_evaluated_at, failure_count
		FROM unit_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit states: %w", err)
	}
	defer rows.Close()

	var states []*model.UnitState
	for rows.Next() {
		state := &model.UnitState{}
		if err := rows.Scan(&state.UnitID, &state.Classification,
			&state.LastReadingAt, &state.LastEvaluatedAt, &state.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan unit state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// CreateAlert inserts a new alert row
func (s *Store) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, unit_id, organization_id, type, severity, status, message,
			escalation_level, triggered_at, last_observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UnitID, a.OrganizationID, a.Type, a.Severity, a.Status,
		sql.NullString{String: a.Message, Valid: a.Message != ""},
		a.EscalationLevel, a.TriggeredAt, a.LastObservedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

const alertColumns = `
	id, unit_id, organization_id, type, severity, status, message,
	escalation_level, triggered_at, last_observed_at, last_escalated_at,
	acknowledged_by, acknowledged_at, acknowledge_notes,
	resolved_by, resolved_at, resolution, corrective_action`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	a := &model.Alert{}
	var (
		message, ackBy, ackNotes, resBy, resolution, corrective sql.NullString
		lastEscalatedAt, ackAt, resAt                           sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.UnitID, &a.OrganizationID, &a.Type, &a.Severity, &a.Status,
		&message, &a.EscalationLevel, &a.TriggeredAt, &a.LastObservedAt,
		&lastEscalatedAt, &ackBy, &ackAt, &ackNotes, &resBy, &resAt,
		&resolution, &corrective)
	if err != nil {
		return nil, err
	}

	a.Message = message.String
	a.AcknowledgedBy = ackBy.String
	a.AcknowledgeNotes = ackNotes.String
	a.ResolvedBy = resBy.String
	a.Resolution = resolution.String
	a.CorrectiveAction = corrective.String
	if lastEscalatedAt.Valid {
		a.LastEscalatedAt = &lastEscalatedAt.Time
	}
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if resAt.Valid {
		a.ResolvedAt = &resAt.Time
	}
	return a, nil
}

// GetAlert returns one alert by ID, or nil when it does not exist
func (s *Store) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	alert, err := scanAlert(s.db.QueryRowContext(ctx,
		"SELECT"+alertColumns+" FROM alerts WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

// FindOpenAlert returns the active or acknowledged alert for a
// (unit, type) pair, or nil when none is open.
func (s *Store) FindOpenAlert(ctx context.Context, unitID string, alertType model.AlertType) (*model.Alert, error) {
	alert, err := scanAlert(s.db.QueryRowContext(ctx, `
		SELECT`+alertColumns+`
		FROM alerts
		WHERE unit_id = ? AND type = ? AND status IN ('active', 'acknowledged')
		ORDER BY triggered_at DESC LIMIT 1`, unitID, alertType))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	return alert, nil
}

// ListActiveAlerts returns alerts the escalation sweep must consider.
// Acknowledged alerts are excluded: escalation stops at acknowledgment.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+alertColumns+" FROM alerts WHERE status = 'active' ORDER BY triggered_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ListAlerts returns alerts matching the filters with pagination, for
// the dashboard/API read side.
func (s *Store) ListAlerts(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.Alert, error) {
	query := "SELECT" + alertColumns + " FROM alerts"
	args := make([]interface{}, 0)

	if len(filters) > 0 {
		query += " WHERE"
		first := true
		for key, value := range filters {
			if !first {
				query += " AND"
			}
			query += fmt.Sprintf(" %s = ?", key)
			args = append(args, value)
			first = false
		}
	}

	query += " ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// TouchAlert refreshes severity, message, and last-observed time on an
// open alert. Returns false when the alert is no longer open.
func (s *Store) TouchAlert(ctx context.Context, id string, severity model.AlertSeverity, message string, observedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET severity = ?, message = ?, last_observed_at = ?
		WHERE id = ? AND status IN ('active', 'acknowledged')`,
		severity, message, observedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to touch alert: %w", err)
	}
	return affected(result)
}

// AcknowledgeAlert moves an active alert to acknowledged. Returns false
// when the alert is not active (already acknowledged, resolved, or gone).
func (s *Store) AcknowledgeAlert(ctx context.Context, id, actorID, notes string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'acknowledged', acknowledged_by = ?, acknowledged_at = ?, acknowledge_notes = ?
		WHERE id = ? AND status = 'active'`,
		actorID, at, sql.NullString{String: notes, Valid: notes != ""}, id)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return affected(result)
}

// ResolveAlert moves an open alert to resolved. Returns false when the
// alert was already resolved or does not exist, which callers treat as
// an idempotent no-op.
func (s *Store) ResolveAlert(ctx context.Context, id, actorID, resolution, corrective string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_by = ?, resolved_at = ?, resolution = ?, corrective_action = ?
		WHERE id = ? AND status IN ('active', 'acknowledged')`,
		actorID, at, resolution,
		sql.NullString{String: corrective, Valid: corrective != ""}, id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return affected(result)
}

// ResolveOpenAlertsForUnit auto-resolves every open alert for a unit
// and returns how many rows changed.
func (s *Store) ResolveOpenAlertsForUnit(ctx context.Context, unitID, actorID, resolution string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_by = ?, resolved_at = ?, resolution = ?
		WHERE unit_id = ? AND status IN ('active', 'acknowledged')`,
		actorID, at, resolution, unitID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts for unit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// EscalateAlert bumps the escalation level by one, conditioned on the
// alert still being active at the level the sweep observed. Returns
// false when an acknowledge/resolve (or a concurrent sweep) won the
// race; the caller drops the escalation silently.
func (s *Store) EscalateAlert(ctx context.Context, id string, fromLevel int, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET escalation_level = escalation_level + 1, last_escalated_at = ?
		WHERE id = ? AND status = 'active' AND escalation_level = ?`,
		at, id, fromLevel)
	if err != nil {
		return false, fmt.Errorf("failed to escalate alert: %w", err)
	}
	return affected(result)
}

// CountAlertsByStatus returns alert counts grouped by status
func (s *Store) CountAlertsByStatus(ctx context.Context) (map[model.AlertStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM alerts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.AlertStatus]int)
	for rows.Next() {
		var status model.AlertStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
