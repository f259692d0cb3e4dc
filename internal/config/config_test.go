package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldchainhq/alert-engine/internal/model"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "alert-engine", cfg.App.Name)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "reading.>", cfg.Ingest.Subject)
	assert.Equal(t, time.Minute, cfg.Sweep.EscalationInterval)
	assert.Equal(t, 15*time.Minute, cfg.Cooldown.PerAlert)
	assert.Equal(t, time.Hour, cfg.Cooldown.OrgWindow)
	assert.Equal(t, 50, cfg.Cooldown.MaxSMSPerOrgWindow)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
nats:
  url: nats://nats.internal:4222
cooldown:
  per_alert: 5m
  max_sms_per_org_window: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Minute, cfg.Cooldown.PerAlert)
	assert.Equal(t, 10, cfg.Cooldown.MaxSMSPerOrgWindow)
	// Untouched keys keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Cooldown.PerContact)
	assert.Equal(t, "alert_engine.db", cfg.Storage.Path)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("nats: ["), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEscalationRules_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	rules := cfg.EscalationRules()

	info := rules[model.AlertSeverityInfo]
	assert.Equal(t, 0, info.MaxLevel, "info never escalates")

	warning := rules[model.AlertSeverityWarning]
	assert.Equal(t, 2, warning.MaxLevel)
	assert.Equal(t, 30*time.Minute, warning.EscalateAfter)
	assert.True(t, warning.SendSMS)

	critical := rules[model.AlertSeverityCritical]
	assert.Equal(t, 3, critical.MaxLevel)
	assert.Equal(t, 15*time.Minute, critical.EscalateAfter)
	assert.Equal(t, model.PriorityCeilingAll, critical.PriorityCeiling(3),
		"final critical level pages everyone")
}

func TestEscalationRules_ConfigOverride(t *testing.T) {
	dir := t.TempDir()
	content := `
escalation:
  critical:
    max_level: 5
    escalate_after: 10m
    send_sms: true
    contact_priority_by_level: [0, 0, 1, 1, 2, -1]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	rules := cfg.EscalationRules()
	critical := rules[model.AlertSeverityCritical]
	assert.Equal(t, 5, critical.MaxLevel)
	assert.Equal(t, 10*time.Minute, critical.EscalateAfter)
	assert.Equal(t, 2, critical.PriorityCeiling(4))
	assert.Equal(t, model.PriorityCeilingAll, critical.PriorityCeiling(5))

	// Severities not overridden keep the built-in policy.
	warning := rules[model.AlertSeverityWarning]
	assert.Equal(t, 2, warning.MaxLevel)
}
