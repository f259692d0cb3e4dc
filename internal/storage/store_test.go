package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAlert(unitID string) *model.Alert {
	now := time.Now().UTC()
	return &model.Alert{
		ID:             "alert-" + unitID,
		UnitID:         unitID,
		OrganizationID: "org-1",
		Type:           model.AlertTypeTemperature,
		Severity:       model.AlertSeverityCritical,
		Status:         model.AlertStatusActive,
		Message:        "temperature 9.0 above maximum 7.0",
		TriggeredAt:    now,
		LastObservedAt: now,
	}
}

func TestStore_AlertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestAlert("unit-1")
	require.NoError(t, store.CreateAlert(ctx, a))

	got, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.UnitID, got.UnitID)
	assert.Equal(t, model.AlertStatusActive, got.Status)
	assert.Equal(t, 0, got.EscalationLevel)
	assert.Nil(t, got.LastEscalatedAt)

	missing, err := store.GetAlert(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_FindOpenAlert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestAlert("unit-1")
	require.NoError(t, store.CreateAlert(ctx, a))

	open, err := store.FindOpenAlert(ctx, "unit-1", model.AlertTypeTemperature)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, a.ID, open.ID)

	// Different type has no open alert.
	open, err = store.FindOpenAlert(ctx, "unit-1", model.AlertTypeOffline)
	require.NoError(t, err)
	assert.Nil(t, open)

	// Resolved alerts are not open.
	_, err = store.ResolveAlert(ctx, a.ID, "actor", "fixed", "", time.Now().UTC())
	require.NoError(t, err)
	open, err = store.FindOpenAlert(ctx, "unit-1", model.AlertTypeTemperature)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestStore_EscalateAlertCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newTestAlert("unit-1")
	require.NoError(t, store.CreateAlert(ctx, a))

	ok, err := store.EscalateAlert(ctx, a.ID, 0, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same observed level again: a concurrent sweep already won.
	ok, err = store.EscalateAlert(ctx, a.ID, 0, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)
	require.NotNil(t, got.LastEscalatedAt)

	// Resolution blocks further escalation.
	_, err = store.ResolveAlert(ctx, a.ID, "actor", "fixed", "", now)
	require.NoError(t, err)
	ok, err = store.EscalateAlert(ctx, a.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel, "level never moves after resolve")
}

func TestStore_AcknowledgeOnlyFromActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newTestAlert("unit-1")
	require.NoError(t, store.CreateAlert(ctx, a))

	ok, err := store.AcknowledgeAlert(ctx, a.ID, "actor-1", "on it", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcknowledgeAlert(ctx, a.ID, "actor-2", "me too", now)
	require.NoError(t, err)
	assert.False(t, ok, "second acknowledge is a no-op")

	got, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "actor-1", got.AcknowledgedBy)
	assert.Equal(t, "on it", got.AcknowledgeNotes)

	// Acknowledged alerts disappear from the escalation sweep.
	active, err := store.ListActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// But can still be resolved.
	ok, err = store.ResolveAlert(ctx, a.ID, "actor-1", "door closed", "tightened seal", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ResolveOpenAlertsForUnit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	temp := newTestAlert("unit-1")
	require.NoError(t, store.CreateAlert(ctx, temp))
	offline := newTestAlert("unit-1")
	offline.ID = "alert-offline"
	offline.Type = model.AlertTypeOffline
	require.NoError(t, store.CreateAlert(ctx, offline))
	other := newTestAlert("unit-2")
	require.NoError(t, store.CreateAlert(ctx, other))

	n, err := store.ResolveOpenAlertsForUnit(ctx, "unit-1", "system", "back in range", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.ResolveOpenAlertsForUnit(ctx, "unit-1", "system", "back in range", now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second pass resolves nothing")

	got, err := store.GetAlert(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusActive, got.Status, "other units untouched")
}

func TestStore_ListAlertsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestAlert("unit-1")
	b := newTestAlert("unit-2")
	require.NoError(t, store.CreateAlert(ctx, a))
	require.NoError(t, store.CreateAlert(ctx, b))

	alerts, err := store.ListAlerts(ctx, map[string]interface{}{"unit_id": "unit-1"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, a.ID, alerts[0].ID)

	alerts, err = store.ListAlerts(ctx, map[string]interface{}{"organization_id": "org-1"}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestStore_UnitStateUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	state, err := store.GetUnitState(ctx, "unit-1")
	require.NoError(t, err)
	assert.Nil(t, state)

	state = &model.UnitState{
		UnitID:          "unit-1",
		Classification:  model.UnitNormal,
		LastReadingAt:   now,
		LastEvaluatedAt: now,
	}
	require.NoError(t, store.UpsertUnitState(ctx, state))

	state.Classification = model.UnitCritical
	state.FailureCount = 2
	require.NoError(t, store.UpsertUnitState(ctx, state))

	got, err := store.GetUnitState(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.UnitCritical, got.Classification)
	assert.Equal(t, 2, got.FailureCount)

	states, err := store.ListUnitStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestStore_RuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	interval := 10 * time.Minute
	tempMax := 5.0
	rule := &model.AlertRule{
		ScopeType:        model.RuleScopeSite,
		ScopeID:          "site-1",
		TempMax:          &tempMax,
		ExpectedInterval: &interval,
	}
	require.NoError(t, store.PutRule(ctx, rule))

	got, err := store.RuleForScope(ctx, model.RuleScopeSite, "site-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.TempMax)
	assert.Equal(t, 5.0, *got.TempMax)
	require.NotNil(t, got.ExpectedInterval)
	assert.Equal(t, interval, *got.ExpectedInterval)
	assert.Nil(t, got.TempMin)

	missing, err := store.RuleForScope(ctx, model.RuleScopeUnit, "unit-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ContactsForOrg(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, priority := range []int{2, 0, 1} {
		require.NoError(t, store.PutContact(ctx, &model.EscalationContact{
			ID:             string(rune('a' + i)),
			OrganizationID: "org-1",
			Priority:       priority,
			Phone:          "+1555000000",
			SMSEnabled:     true,
			EmailEnabled:   true,
		}))
	}

	contacts, err := store.ContactsForOrg(ctx, "org-1", 1)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, 0, contacts[0].Priority, "ordered by priority")
	assert.Equal(t, 1, contacts[1].Priority)

	all, err := store.ContactsForOrg(ctx, "org-1", -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.ContactsForOrg(ctx, "org-2", -1)
	require.NoError(t, err)
	assert.Empty(t, none)
}
