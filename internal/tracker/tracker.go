package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/model"
	"github.com/coldchainhq/alert-engine/internal/rules"
)

// ErrUnknownUnit rejects readings for units the hierarchy doesn't know
var ErrUnknownUnit = errors.New("unknown unit")

// StateStore is the persistence surface the tracker needs
type StateStore interface {
	UnitHierarchy(ctx context.Context, unitID string) (*model.Unit, error)
	GetUnitState(ctx context.Context, unitID string) (*model.UnitState, error)
	UpsertUnitState(ctx context.Context, state *model.UnitState) error
	ListUnitStates(ctx context.Context) ([]*model.UnitState, error)
}

// AlertSink receives state transitions that open or close alerts
type AlertSink interface {
	RaiseOrUpdate(ctx context.Context, unitID, organizationID string, alertType model.AlertType, severity model.AlertSeverity, message string) (*model.Alert, error)
	ResolveForUnit(ctx context.Context, unitID, cause string) (int, error)
}

// RuleResolver yields the effective rule for a unit
type RuleResolver interface {
	Resolve(ctx context.Context, unitID string) model.EffectiveRule
	ResolveForUnit(ctx context.Context, unit *model.Unit) model.EffectiveRule
}

// Tracker drives the per-unit state machine. All transitions for one
// unit are serialized behind a per-unit lock, so two near-simultaneous
// readings cannot both observe normal and open duplicate alerts, or
// both observe warning and double-resolve. Different units never share
// a lock and proceed fully in parallel.
type Tracker struct {
	logger   *zap.Logger
	store    StateStore
	alerts   AlertSink
	resolver RuleResolver
	clock    clock.Clock
	backoff  time.Duration
	locks    sync.Map
	stop     chan struct{}
}

// NewTracker creates a unit state tracker
func NewTracker(logger *zap.Logger, store StateStore, alerts AlertSink, resolver RuleResolver, clk clock.Clock) *Tracker {
	return &Tracker{
		logger:   logger.Named("tracker"),
		store:    store,
		alerts:   alerts,
		resolver: resolver,
		clock:    clk,
		backoff:  100 * time.Millisecond,
		stop:     make(chan struct{}),
	}
}

// StartOfflineSweep runs the staleness detection loop
func (t *Tracker) StartOfflineSweep(ctx context.Context, interval time.Duration) {
	t.logger.Info("Offline sweep started", zap.Duration("interval", interval))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.SweepOffline(ctx)
			}
		}
	}()
}

// Stop halts the offline sweep loop
func (t *Tracker) Stop() {
	close(t.stop)
}

func (t *Tracker) lockFor(unitID string) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(unitID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// OnReading evaluates one reading and applies the resulting state
// transition. Store failures are retried once with backoff; a
// persistent failure drops this reading without affecting other units.
func (t *Tracker) OnReading(ctx context.Context, unitID string, reading model.Reading) error {
	mu := t.lockFor(unitID)
	mu.Lock()
	defer mu.Unlock()

	unit, err := t.store.UnitHierarchy(ctx, unitID)
	if err != nil {
		return fmt.Errorf("failed to load unit: %w", err)
	}
	if unit == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}

	rule := t.resolver.ResolveForUnit(ctx, unit)
	now := t.clock.Now()
	classification := rules.Evaluate(reading, rule, now)

	var state *model.UnitState
	if err := t.withRetry(ctx, func() error {
		var err error
		state, err = t.store.GetUnitState(ctx, unitID)
		return err
	}); err != nil {
		return fmt.Errorf("failed to load unit state: %w", err)
	}
	if state == nil {
		state = &model.UnitState{
			UnitID:         unitID,
			Classification: model.UnitNormal,
		}
	}

	// Redundant sensors deliver out of order; an older reading never
	// rewinds the state machine.
	if reading.RecordedAt.Before(state.LastReadingAt) {
		t.logger.Debug("Ignoring out-of-order reading",
			zap.String("unit_id", unitID),
			zap.Time("recorded_at", reading.RecordedAt),
			zap.Time("last_reading_at", state.LastReadingAt))
		return nil
	}

	previous := state.Classification
	next := classify(classification)

	if err := t.applyTransition(ctx, unit, previous, next, classification); err != nil {
		// Keep the classification and reading watermark so the next
		// reading re-drives the transition; record the failure so
		// consecutive drops are visible in unit_state.
		state.FailureCount++
		if perr := t.store.UpsertUnitState(ctx, state); perr != nil {
			t.logger.Warn("Failed to record transition failure",
				zap.String("unit_id", unitID),
				zap.Error(perr))
		}
		return err
	}

	state.Classification = next
	state.LastReadingAt = reading.RecordedAt
	state.LastEvaluatedAt = now
	state.FailureCount = 0

	if err := t.withRetry(ctx, func() error {
		return t.store.UpsertUnitState(ctx, state)
	}); err != nil {
		return fmt.Errorf("failed to persist unit state: %w", err)
	}

	if previous != next {
		t.logger.Info("Unit state transition",
			zap.String("unit_id", unitID),
			zap.String("from", string(previous)),
			zap.String("to", string(next)),
			zap.String("reason", string(classification.Reason)))
	}
	return nil
}

// SweepOffline flags units that stopped reporting. A unit can only go
// offline from here or from a stale reading; no fresh data means no
// OnReading call, so the sweep is what notices the silence.
func (t *Tracker) SweepOffline(ctx context.Context) {
	states, err := t.store.ListUnitStates(ctx)
	if err != nil {
		t.logger.Warn("Unit state listing failed, retrying", zap.Error(err))
		time.Sleep(t.backoff)
		if states, err = t.store.ListUnitStates(ctx); err != nil {
			t.logger.Error("Offline sweep dropped", zap.Error(err))
			return
		}
	}

	now := t.clock.Now()
	for _, state := range states {
		if state.Classification == model.UnitOffline {
			continue
		}
		if err := t.markOfflineIfStale(ctx, state, now); err != nil {
			t.logger.Error("Offline check failed for unit",
				zap.String("unit_id", state.UnitID),
				zap.Error(err))
		}
	}
}

func (t *Tracker) markOfflineIfStale(ctx context.Context, stale *model.UnitState, now time.Time) error {
	mu := t.lockFor(stale.UnitID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; a reading may have landed since the scan.
	state, err := t.store.GetUnitState(ctx, stale.UnitID)
	if err != nil {
		return fmt.Errorf("failed to load unit state: %w", err)
	}
	if state == nil || state.Classification == model.UnitOffline {
		return nil
	}

	rule := t.resolver.Resolve(ctx, state.UnitID)
	silence := now.Sub(state.LastReadingAt)
	if silence <= rule.OfflineAfter() {
		return nil
	}

	message := fmt.Sprintf("no reading for %s (expected every %s)",
		silence.Round(time.Second), rule.ExpectedInterval)
	if _, err := t.alerts.RaiseOrUpdate(ctx, state.UnitID, rule.OrganizationID,
		model.AlertTypeOffline, model.AlertSeverityWarning, message); err != nil {
		return fmt.Errorf("failed to raise offline alert: %w", err)
	}

	state.Classification = model.UnitOffline
	state.LastEvaluatedAt = now
	if err := t.withRetry(ctx, func() error {
		return t.store.UpsertUnitState(ctx, state)
	}); err != nil {
		return fmt.Errorf("failed to persist unit state: %w", err)
	}

	t.logger.Info("Unit marked offline",
		zap.String("unit_id", state.UnitID),
		zap.Duration("silence", silence))
	return nil
}

// applyTransition invokes the lifecycle manager for the state change
func (t *Tracker) applyTransition(ctx context.Context, unit *model.Unit, previous, next model.UnitClassification, c rules.Classification) error {
	switch {
	case next != model.UnitNormal:
		// Raise on entry and refresh on every non-normal evaluation;
		// RaiseOrUpdate keeps one open alert per (unit, type).
		if _, err := t.alerts.RaiseOrUpdate(ctx, unit.ID, unit.OrganizationID,
			c.Type, c.Severity, c.Detail); err != nil {
			return fmt.Errorf("failed to raise alert: %w", err)
		}
	case previous != model.UnitNormal:
		if _, err := t.alerts.ResolveForUnit(ctx, unit.ID, "reading back in range"); err != nil {
			return fmt.Errorf("failed to auto-resolve alerts: %w", err)
		}
	}
	return nil
}

// classify maps an evaluator verdict onto the unit state machine
func classify(c rules.Classification) model.UnitClassification {
	if c.InRange {
		return model.UnitNormal
	}
	if c.Reason == rules.ReasonStale {
		return model.UnitOffline
	}
	if c.Severity == model.AlertSeverityCritical {
		return model.UnitCritical
	}
	return model.UnitWarning
}

// withRetry runs op, retrying once after a short backoff. Transient
// store hiccups get a second chance; anything else surfaces to the
// caller, which drops the reading.
func (t *Tracker) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.backoff):
	}
	return op()
}
