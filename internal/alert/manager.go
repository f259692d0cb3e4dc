package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/model"
)

// ErrInvalidResolution rejects manual resolutions outside 1-2000 chars
var ErrInvalidResolution = errors.New("resolution text must be 1-2000 characters")

const maxResolutionLength = 2000

// autoResolveActor marks resolutions performed by the engine itself
const autoResolveActor = "system"

// Store is the persistence surface the lifecycle manager needs
type Store interface {
	FindOpenAlert(ctx context.Context, unitID string, alertType model.AlertType) (*model.Alert, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	TouchAlert(ctx context.Context, id string, severity model.AlertSeverity, message string, observedAt time.Time) (bool, error)
	AcknowledgeAlert(ctx context.Context, id, actorID, notes string, at time.Time) (bool, error)
	ResolveAlert(ctx context.Context, id, actorID, resolution, corrective string, at time.Time) (bool, error)
	ResolveOpenAlertsForUnit(ctx context.Context, unitID, actorID, resolution string, at time.Time) (int, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlerts(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.Alert, error)
}

// Manager owns the alert state machine. Status changes go through
// conditional updates in the store, so a manual resolve racing the
// escalation sweep (or a concurrent auto-resolve) cannot produce
// inconsistent state.
type Manager struct {
	logger *zap.Logger
	store  Store
	clock  clock.Clock
}

// NewManager creates an alert lifecycle manager
func NewManager(logger *zap.Logger, store Store, clk clock.Clock) *Manager {
	return &Manager{
		logger: logger.Named("alert-manager"),
		store:  store,
		clock:  clk,
	}
}

// RaiseOrUpdate opens an alert for a (unit, type) pair, or refreshes
// the one already open. Severity only moves upward on refresh; the
// escalation level is untouched. Callers serialize per unit, so two
// readings cannot create duplicate alerts for the same pair.
func (m *Manager) RaiseOrUpdate(ctx context.Context, unitID, organizationID string, alertType model.AlertType, severity model.AlertSeverity, message string) (*model.Alert, error) {
	now := m.clock.Now()

	existing, err := m.store.FindOpenAlert(ctx, unitID, alertType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open alert: %w", err)
	}

	if existing != nil {
		if existing.Severity.MoreSevere(severity) {
			severity = existing.Severity
		}
		updated, err := m.store.TouchAlert(ctx, existing.ID, severity, message, now)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh alert: %w", err)
		}
		if !updated {
			// Resolved between the lookup and the update. The next
			// out-of-range reading opens a fresh alert.
			m.logger.Debug("Open alert closed mid-refresh",
				zap.String("alert_id", existing.ID))
			return existing, nil
		}
		existing.Severity = severity
		existing.Message = message
		existing.LastObservedAt = now
		return existing, nil
	}

	a := &model.Alert{
		ID:              uuid.New().String(),
		UnitID:          unitID,
		OrganizationID:  organizationID,
		Type:            alertType,
		Severity:        severity,
		Status:          model.AlertStatusActive,
		Message:         message,
		EscalationLevel: 0,
		TriggeredAt:     now,
		LastObservedAt:  now,
	}
	if err := m.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	m.logger.Info("Alert created",
		zap.String("alert_id", a.ID),
		zap.String("unit_id", unitID),
		zap.String("type", string(alertType)),
		zap.String("severity", string(severity)))

	return a, nil
}

// Acknowledge marks an active alert acknowledged. Escalation stops
// advancing past the level at acknowledgment time; the alert stays
// open until resolved. Acknowledging a missing or already-closed alert
// is a no-op success.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actorID, notes string) error {
	acked, err := m.store.AcknowledgeAlert(ctx, alertID, actorID, notes, m.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if !acked {
		m.logger.Debug("Acknowledge was a no-op",
			zap.String("alert_id", alertID))
		return nil
	}

	m.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("actor_id", actorID))
	return nil
}

// Resolve closes an alert manually. Resolution text is required;
// resolving a missing or already-resolved alert is a no-op success so
// concurrent manual and automatic resolution never surface as errors.
func (m *Manager) Resolve(ctx context.Context, alertID, actorID, resolution, correctiveAction string) error {
	if len(resolution) == 0 || len(resolution) > maxResolutionLength {
		return ErrInvalidResolution
	}

	resolved, err := m.store.ResolveAlert(ctx, alertID, actorID, resolution, correctiveAction, m.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if !resolved {
		m.logger.Debug("Resolve was a no-op",
			zap.String("alert_id", alertID))
		return nil
	}

	m.logger.Info("Alert resolved",
		zap.String("alert_id", alertID),
		zap.String("actor_id", actorID))
	return nil
}

// ResolveForUnit auto-resolves every open alert for a unit, called by
// the tracker when the unit transitions back to normal.
func (m *Manager) ResolveForUnit(ctx context.Context, unitID, cause string) (int, error) {
	n, err := m.store.ResolveOpenAlertsForUnit(ctx, unitID, autoResolveActor, cause, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to auto-resolve alerts: %w", err)
	}
	if n > 0 {
		m.logger.Info("Alerts auto-resolved",
			zap.String("unit_id", unitID),
			zap.Int("count", n),
			zap.String("cause", cause))
	}
	return n, nil
}

// Get returns one alert for the dashboard/API read side
func (m *Manager) Get(ctx context.Context, alertID string) (*model.Alert, error) {
	return m.store.GetAlert(ctx, alertID)
}

// List returns alerts matching filters for the dashboard/API read side
func (m *Manager) List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.Alert, error) {
	return m.store.ListAlerts(ctx, filters, offset, limit)
}
