package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// Config holds the engine configuration loaded from YAML plus defaults
type Config struct {
	App struct {
		Name string `mapstructure:"name"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`

	NATS struct {
		URL            string        `mapstructure:"url"`
		MaxReconnects  int           `mapstructure:"max_reconnects"`
		ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"nats"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Ingest struct {
		Subject        string        `mapstructure:"subject"`
		Durable        string        `mapstructure:"durable"`
		ReadingTimeout time.Duration `mapstructure:"reading_timeout"`
	} `mapstructure:"ingest"`

	Sweep struct {
		EscalationInterval time.Duration `mapstructure:"escalation_interval"`
		OfflineInterval    time.Duration `mapstructure:"offline_interval"`
	} `mapstructure:"sweep"`

	Cooldown struct {
		PerAlert           time.Duration `mapstructure:"per_alert"`
		PerContact         time.Duration `mapstructure:"per_contact"`
		OrgWindow          time.Duration `mapstructure:"org_window"`
		MaxSMSPerOrgWindow int           `mapstructure:"max_sms_per_org_window"`
	} `mapstructure:"cooldown"`

	Dispatch struct {
		PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	} `mapstructure:"dispatch"`

	Metrics struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`

	Escalation map[string]EscalationPolicy `mapstructure:"escalation"`
}

// EscalationPolicy is the per-severity escalation table as configured
type EscalationPolicy struct {
	MaxLevel               int           `mapstructure:"max_level"`
	EscalateAfter          time.Duration `mapstructure:"escalate_after"`
	SendSMS                bool          `mapstructure:"send_sms"`
	ContactPriorityByLevel []int         `mapstructure:"contact_priority_by_level"`
}

// Load reads the configuration file from dir and applies defaults
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file is fine; defaults carry a runnable local setup.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alert-engine")
	v.SetDefault("app.env", "development")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.path", "alert_engine.db")

	v.SetDefault("ingest.subject", "reading.>")
	v.SetDefault("ingest.durable", "reading-consumer")
	v.SetDefault("ingest.reading_timeout", "500ms")

	v.SetDefault("sweep.escalation_interval", "1m")
	v.SetDefault("sweep.offline_interval", "1m")

	v.SetDefault("cooldown.per_alert", "15m")
	v.SetDefault("cooldown.per_contact", "15m")
	v.SetDefault("cooldown.org_window", "1h")
	v.SetDefault("cooldown.max_sms_per_org_window", 50)

	v.SetDefault("dispatch.publish_timeout", "2s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", "30s")
}

// EscalationRules merges the configured per-severity policies over the
// platform defaults: info never escalates, warning escalates every 30
// minutes up to level 2, critical every 15 minutes up to level 3 with
// the final level notifying all contacts.
func (c *Config) EscalationRules() map[model.AlertSeverity]model.EscalationRule {
	rules := map[model.AlertSeverity]model.EscalationRule{
		model.AlertSeverityInfo: {
			MaxLevel: 0,
		},
		model.AlertSeverityWarning: {
			MaxLevel:               2,
			EscalateAfter:          30 * time.Minute,
			SendSMS:                true,
			ContactPriorityByLevel: []int{0, 0, 1},
		},
		model.AlertSeverityCritical: {
			MaxLevel:               3,
			EscalateAfter:          15 * time.Minute,
			SendSMS:                true,
			ContactPriorityByLevel: []int{0, 0, 1, model.PriorityCeilingAll},
		},
	}

	for name, policy := range c.Escalation {
		rules[model.AlertSeverity(name)] = model.EscalationRule{
			MaxLevel:               policy.MaxLevel,
			EscalateAfter:          policy.EscalateAfter,
			SendSMS:                policy.SendSMS,
			ContactPriorityByLevel: policy.ContactPriorityByLevel,
		}
	}
	return rules
}
