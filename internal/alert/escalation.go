package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/model"
)

// SweepStore is what the escalation sweep reads and mutates
type SweepStore interface {
	ListActiveAlerts(ctx context.Context) ([]*model.Alert, error)
	EscalateAlert(ctx context.Context, id string, fromLevel int, at time.Time) (bool, error)
}

// ContactSource resolves an organization's escalation contacts up to a
// priority ceiling; a negative ceiling means all contacts.
type ContactSource interface {
	ContactsForOrg(ctx context.Context, orgID string, maxPriority int) ([]model.EscalationContact, error)
}

// Gatekeeper applies the cooldown and rate limits before dispatch
type Gatekeeper interface {
	Gate(ctx context.Context, alertID, orgID string, smsAllowed bool, contacts []model.EscalationContact) ([]model.Delivery, error)
}

// Dispatcher enqueues notification jobs for the delivery workers
type Dispatcher interface {
	Dispatch(ctx context.Context, a *model.Alert, level int, deliveries []model.Delivery)
}

// Scheduler is the periodic escalation sweep. It is deliberately a
// sweep rather than one timer per alert: due-ness is derived from the
// persisted triggered/escalated timestamps, so a restart loses nothing
// and re-running a sweep is idempotent.
type Scheduler struct {
	logger     *zap.Logger
	store      SweepStore
	contacts   ContactSource
	gate       Gatekeeper
	dispatcher Dispatcher
	rules      map[model.AlertSeverity]model.EscalationRule
	clock      clock.Clock
	interval   time.Duration
	cron       *cron.Cron
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScheduler creates the escalation scheduler
func NewScheduler(
	logger *zap.Logger,
	store SweepStore,
	contacts ContactSource,
	gate Gatekeeper,
	dispatcher Dispatcher,
	rules map[model.AlertSeverity]model.EscalationRule,
	clk clock.Clock,
	interval time.Duration,
) *Scheduler {
	named := logger.Named("escalation")
	c := cron.New(cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})))

	return &Scheduler{
		logger:     named,
		store:      store,
		contacts:   contacts,
		gate:       gate,
		dispatcher: dispatcher,
		rules:      rules,
		clock:      clk,
		interval:   interval,
		cron:       c,
	}
}

// Start begins the periodic sweep
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule escalation sweep: %w", err)
	}
	s.cron.Start()

	s.logger.Info("Escalation scheduler started",
		zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the sweep and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep inspects every active alert once. A failure on one alert never
// aborts the rest of the sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()

	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		// Retry once; a persistently unavailable store drops this tick.
		s.logger.Warn("Active alert listing failed, retrying", zap.Error(err))
		time.Sleep(200 * time.Millisecond)
		if alerts, err = s.store.ListActiveAlerts(ctx); err != nil {
			s.logger.Error("Sweep tick dropped", zap.Error(err))
			return
		}
	}

	for _, a := range alerts {
		if err := s.evaluate(ctx, a, now); err != nil {
			s.logger.Error("Escalation failed for alert",
				zap.String("alert_id", a.ID),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, a *model.Alert, now time.Time) error {
	rule, ok := s.rules[a.Severity]
	if !ok {
		// No escalation policy for this severity means never escalate.
		s.logger.Debug("No escalation rule for severity",
			zap.String("severity", string(a.Severity)))
		return nil
	}

	if a.EscalationLevel >= rule.MaxLevel {
		return nil
	}

	since := a.TriggeredAt
	if a.LastEscalatedAt != nil {
		since = *a.LastEscalatedAt
	}
	if now.Before(since.Add(rule.EscalateAfter)) {
		return nil
	}

	escalated, err := s.store.EscalateAlert(ctx, a.ID, a.EscalationLevel, now)
	if err != nil {
		return fmt.Errorf("failed to escalate: %w", err)
	}
	if !escalated {
		// Acknowledge, resolve, or a concurrent sweep won the race.
		// Expected under concurrency; dropped, not retried.
		return nil
	}

	newLevel := a.EscalationLevel + 1
	s.logger.Info("Alert escalated",
		zap.String("alert_id", a.ID),
		zap.String("unit_id", a.UnitID),
		zap.Int("level", newLevel),
		zap.String("severity", string(a.Severity)))

	ceiling := rule.PriorityCeiling(newLevel)
	contacts, err := s.contacts.ContactsForOrg(ctx, a.OrganizationID, ceiling)
	if err != nil {
		return fmt.Errorf("failed to resolve contacts: %w", err)
	}
	if len(contacts) == 0 {
		s.logger.Warn("No escalation contacts configured",
			zap.String("organization_id", a.OrganizationID),
			zap.Int("priority_ceiling", ceiling))
		return nil
	}

	deliveries, err := s.gate.Gate(ctx, a.ID, a.OrganizationID, rule.SendSMS, contacts)
	if err != nil {
		return fmt.Errorf("cooldown gate failed: %w", err)
	}
	if len(deliveries) == 0 {
		s.logger.Debug("All contacts suppressed by cooldown",
			zap.String("alert_id", a.ID))
		return nil
	}

	s.dispatcher.Dispatch(ctx, a, newLevel, deliveries)
	return nil
}
