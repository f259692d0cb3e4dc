package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// StreamName holds engine health snapshots with a short retention
const StreamName = "METRICS"

// AlertCounter reports alert counts for the health snapshot
type AlertCounter interface {
	CountAlertsByStatus(ctx context.Context) (map[model.AlertStatus]int, error)
}

// HealthCollector periodically publishes an engine health snapshot:
// host CPU/memory plus alert counts by status. Observability only; it
// sits outside the alert data path.
type HealthCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	counter  AlertCounter
	interval time.Duration
	stop     chan struct{}
}

// NewHealthCollector creates a health collector
func NewHealthCollector(js nats.JetStreamContext, counter AlertCounter, interval time.Duration, logger *zap.Logger) *HealthCollector {
	return &HealthCollector{
		logger:   logger.Named("health-collector"),
		js:       js,
		counter:  counter,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the metrics stream exists and begins collecting
func (c *HealthCollector) Start(ctx context.Context) error {
	_, err := c.js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if err == nats.ErrStreamNotFound {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"metrics.*"},
			Storage:  nats.FileStorage,
			MaxAge:   time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.Info("Created metrics stream", zap.String("name", StreamName))
	}

	c.logger.Info("Starting health collector",
		zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
	return nil
}

// Stop stops the health collector
func (c *HealthCollector) Stop() {
	close(c.stop)
}

func (c *HealthCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *HealthCollector) collect(ctx context.Context) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	counts, err := c.counter.CountAlertsByStatus(ctx)
	if err != nil {
		c.logger.Error("Failed to count alerts", zap.Error(err))
		return
	}

	snapshot := struct {
		Timestamp          time.Time `json:"timestamp"`
		CPUUsage           float64   `json:"cpu_usage"`
		MemoryUsage        float64   `json:"memory_usage"`
		ActiveAlerts       int       `json:"active_alerts"`
		AcknowledgedAlerts int       `json:"acknowledged_alerts"`
		ResolvedAlerts     int       `json:"resolved_alerts"`
	}{
		Timestamp:          time.Now(),
		CPUUsage:           cpuPercent[0],
		MemoryUsage:        memInfo.UsedPercent,
		ActiveAlerts:       counts[model.AlertStatusActive],
		AcknowledgedAlerts: counts[model.AlertStatusAcknowledged],
		ResolvedAlerts:     counts[model.AlertStatusResolved],
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal health snapshot", zap.Error(err))
		return
	}

	if _, err := c.js.Publish("metrics.engine", data); err != nil {
		c.logger.Error("Failed to publish health snapshot", zap.Error(err))
		return
	}

	c.logger.Debug("Health snapshot published",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("active_alerts", snapshot.ActiveAlerts))
}
