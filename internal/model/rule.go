package model

import "time"

// RuleScope identifies which tier of the hierarchy a rule is attached to
type RuleScope string

const (
	RuleScopeUnit         RuleScope = "unit"
	RuleScopeSite         RuleScope = "site"
	RuleScopeOrganization RuleScope = "organization"
)

// AlertRule is one configured rule row. At most one rule exists per
// (scope type, scope ID); unset fields fall through to the next broader
// scope during resolution. Owned by the configuration layer, read-only here.
type AlertRule struct {
	ScopeType             RuleScope      `json:"scope_type"`
	ScopeID               string         `json:"scope_id"`
	TempMin               *float64       `json:"temp_min,omitempty"`
	TempMax               *float64       `json:"temp_max,omitempty"`
	HumidityMin           *float64       `json:"humidity_min,omitempty"`
	HumidityMax           *float64       `json:"humidity_max,omitempty"`
	ExpectedInterval      *time.Duration `json:"expected_interval,omitempty"`
	OfflineMultiplier     *float64       `json:"offline_multiplier,omitempty"`
	ManualLogInterval     *time.Duration `json:"manual_log_interval,omitempty"`
	CriticalMarginDegrees *float64       `json:"critical_margin_degrees,omitempty"`
	CriticalMarginPercent *float64       `json:"critical_margin_percent,omitempty"`
}

// EffectiveRule is a fully resolved rule for one unit. Every field is
// populated: resolution falls back to platform defaults when no scope
// configures a value. Humidity bounds stay nil when monitoring is not
// configured at any scope.
type EffectiveRule struct {
	UnitID                string        `json:"unit_id"`
	OrganizationID        string        `json:"organization_id"`
	TempMin               float64       `json:"temp_min"`
	TempMax               float64       `json:"temp_max"`
	HumidityMin           *float64      `json:"humidity_min,omitempty"`
	HumidityMax           *float64      `json:"humidity_max,omitempty"`
	ExpectedInterval      time.Duration `json:"expected_interval"`
	OfflineMultiplier     float64       `json:"offline_multiplier"`
	ManualLogInterval     time.Duration `json:"manual_log_interval"`
	CriticalMarginDegrees float64       `json:"critical_margin_degrees"`
	CriticalMarginPercent float64       `json:"critical_margin_percent"`
}

// OfflineAfter returns how long a unit may stay silent before it is
// considered offline.
func (r EffectiveRule) OfflineAfter() time.Duration {
	return time.Duration(float64(r.ExpectedInterval) * r.OfflineMultiplier)
}
