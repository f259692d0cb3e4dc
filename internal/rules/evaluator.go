package rules

import (
	"fmt"
	"time"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Reason explains why a reading was classified the way it was
type Reason string

const (
	ReasonOK      Reason = "ok"
	ReasonTooHigh Reason = "too_high"
	ReasonTooLow  Reason = "too_low"
	ReasonStale   Reason = "stale"
)

// Classification is the evaluator's verdict on one reading
type Classification struct {
	InRange  bool
	Reason   Reason
	Type     model.AlertType
	Severity model.AlertSeverity
	Detail   string
}

// Evaluate classifies a reading against an effective rule. Staleness is
// checked first and independently of the measured value: a unit that
// stopped reporting is a problem even when its last reading was fine.
// Bounds are inclusive; values exactly on a bound are in range.
func Evaluate(reading model.Reading, rule model.EffectiveRule, now time.Time) Classification {
	if age := now.Sub(reading.RecordedAt); age > rule.OfflineAfter() {
		return Classification{
			Reason:   ReasonStale,
			Type:     model.AlertTypeOffline,
			Severity: model.AlertSeverityWarning,
			Detail: fmt.Sprintf("no reading for %s (expected every %s)",
				age.Round(time.Second), rule.ExpectedInterval),
		}
	}

	if reading.Temperature < rule.TempMin {
		return Classification{
			Reason:   ReasonTooLow,
			Type:     model.AlertTypeTemperature,
			Severity: temperatureSeverity(rule.TempMin-reading.Temperature, rule.CriticalMarginDegrees),
			Detail: fmt.Sprintf("temperature %.1f below minimum %.1f",
				reading.Temperature, rule.TempMin),
		}
	}
	if reading.Temperature > rule.TempMax {
		return Classification{
			Reason:   ReasonTooHigh,
			Type:     model.AlertTypeTemperature,
			Severity: temperatureSeverity(reading.Temperature-rule.TempMax, rule.CriticalMarginDegrees),
			Detail: fmt.Sprintf("temperature %.1f above maximum %.1f",
				reading.Temperature, rule.TempMax),
		}
	}

	if reading.Humidity != nil {
		if rule.HumidityMin != nil && *reading.Humidity < *rule.HumidityMin {
			return Classification{
				Reason:   ReasonTooLow,
				Type:     model.AlertTypeHumidity,
				Severity: humiditySeverity(*rule.HumidityMin-*reading.Humidity, rule.CriticalMarginPercent),
				Detail: fmt.Sprintf("humidity %.1f%% below minimum %.1f%%",
					*reading.Humidity, *rule.HumidityMin),
			}
		}
		if rule.HumidityMax != nil && *reading.Humidity > *rule.HumidityMax {
			return Classification{
				Reason:   ReasonTooHigh,
				Type:     model.AlertTypeHumidity,
				Severity: humiditySeverity(*reading.Humidity-*rule.HumidityMax, rule.CriticalMarginPercent),
				Detail: fmt.Sprintf("humidity %.1f%% above maximum %.1f%%",
					*reading.Humidity, *rule.HumidityMax),
			}
		}
	}

	return Classification{InRange: true, Reason: ReasonOK}
}

// Severity policy: an excursion beyond the bound by more than the
// configured margin is critical, otherwise warning. The margin comes
// from the resolved rule, not from this core.
func temperatureSeverity(excursion, margin float64) model.AlertSeverity {
	if excursion > margin {
		return model.AlertSeverityCritical
	}
	return model.AlertSeverityWarning
}

func humiditySeverity(excursion, margin float64) model.AlertSeverity {
	if excursion > margin {
		return model.AlertSeverityCritical
	}
	return model.AlertSeverityWarning
}
