package rules

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Source supplies the hierarchy and configured rule rows. Implemented
// by the storage layer; rules are owned by the configuration
// collaborators and only read here.
type Source interface {
	UnitHierarchy(ctx context.Context, unitID string) (*model.Unit, error)
	RuleForScope(ctx context.Context, scopeType model.RuleScope, scopeID string) (*model.AlertRule, error)
}

// Defaults are the platform-wide fallback thresholds applied when no
// scope configures a value. Humidity is unmonitored by default.
var Defaults = model.EffectiveRule{
	TempMin:               -30.0,
	TempMax:               7.0,
	ExpectedInterval:      5 * time.Minute,
	OfflineMultiplier:     3.0,
	ManualLogInterval:     4 * time.Hour,
	CriticalMarginDegrees: 4.0,
	CriticalMarginPercent: 15.0,
}

// Resolver computes the effective rule for a unit by walking the
// unit > site > organization inheritance chain field by field.
type Resolver struct {
	logger *zap.Logger
	source Source
}

// NewResolver creates a rule resolver
func NewResolver(logger *zap.Logger, source Source) *Resolver {
	return &Resolver{
		logger: logger.Named("rule-resolver"),
		source: source,
	}
}

// Resolve returns the effective rule for a unit. It never fails: a
// missing hierarchy row or a rule read error logs and falls back to
// broader scopes, down to the platform defaults.
func (r *Resolver) Resolve(ctx context.Context, unitID string) model.EffectiveRule {
	unit, err := r.source.UnitHierarchy(ctx, unitID)
	if err != nil {
		r.logger.Warn("Hierarchy lookup failed, using platform defaults",
			zap.String("unit_id", unitID),
			zap.Error(err))
	}
	if unit == nil {
		unit = &model.Unit{ID: unitID}
	}
	return r.ResolveForUnit(ctx, unit)
}

// ResolveForUnit resolves the rule chain for an already-loaded unit
func (r *Resolver) ResolveForUnit(ctx context.Context, unit *model.Unit) model.EffectiveRule {
	chain := []struct {
		scope model.RuleScope
		id    string
	}{
		{model.RuleScopeUnit, unit.ID},
		{model.RuleScopeSite, unit.SiteID},
		{model.RuleScopeOrganization, unit.OrganizationID},
	}

	effective := Defaults
	effective.UnitID = unit.ID
	effective.OrganizationID = unit.OrganizationID

	// Most specific scope wins, so apply broader scopes first.
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].id == "" {
			continue
		}
		rule, err := r.source.RuleForScope(ctx, chain[i].scope, chain[i].id)
		if err != nil {
			r.logger.Warn("Rule lookup failed, skipping scope",
				zap.String("unit_id", unit.ID),
				zap.String("scope", string(chain[i].scope)),
				zap.Error(err))
			continue
		}
		if rule == nil {
			continue
		}
		overlay(&effective, rule)
	}

	return effective
}

func overlay(effective *model.EffectiveRule, rule *model.AlertRule) {
	if rule.TempMin != nil {
		effective.TempMin = *rule.TempMin
	}
	if rule.TempMax != nil {
		effective.TempMax = *rule.TempMax
	}
	if rule.HumidityMin != nil {
		effective.HumidityMin = rule.HumidityMin
	}
	if rule.HumidityMax != nil {
		effective.HumidityMax = rule.HumidityMax
	}
	if rule.ExpectedInterval != nil {
		effective.ExpectedInterval = *rule.ExpectedInterval
	}
	if rule.OfflineMultiplier != nil {
		effective.OfflineMultiplier = *rule.OfflineMultiplier
	}
	if rule.ManualLogInterval != nil {
		effective.ManualLogInterval = *rule.ManualLogInterval
	}
	if rule.CriticalMarginDegrees != nil {
		effective.CriticalMarginDegrees = *rule.CriticalMarginDegrees
	}
	if rule.CriticalMarginPercent != nil {
		effective.CriticalMarginPercent = *rule.CriticalMarginPercent
	}
}
