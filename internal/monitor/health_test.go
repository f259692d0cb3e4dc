package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
	"github.com/coldchainhq/alert-engine/internal/testutil"
)

type fakeCounter struct {
	counts map[model.AlertStatus]int
}

func (f *fakeCounter) CountAlertsByStatus(ctx context.Context) (map[model.AlertStatus]int, error) {
	return f.counts, nil
}

func TestHealthCollector_PublishesSnapshot(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	counter := &fakeCounter{counts: map[model.AlertStatus]int{
		model.AlertStatusActive:       3,
		model.AlertStatusAcknowledged: 1,
		model.AlertStatusResolved:     7,
	}}

	collector := NewHealthCollector(js, counter, 100*time.Millisecond, zap.NewNop())
	require.NoError(t, collector.Start(context.Background()))
	defer collector.Stop()

	sub, err := js.SubscribeSync("metrics.engine")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := sub.NextMsg(10 * time.Second)
	require.NoError(t, err)

	var snapshot struct {
		Timestamp          time.Time `json:"timestamp"`
		CPUUsage           float64   `json:"cpu_usage"`
		MemoryUsage        float64   `json:"memory_usage"`
		ActiveAlerts       int       `json:"active_alerts"`
		AcknowledgedAlerts int       `json:"acknowledged_alerts"`
		ResolvedAlerts     int       `json:"resolved_alerts"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))

	assert.NotZero(t, snapshot.Timestamp)
	assert.GreaterOrEqual(t, snapshot.CPUUsage, 0.0)
	assert.GreaterOrEqual(t, snapshot.MemoryUsage, 0.0)
	assert.Equal(t, 3, snapshot.ActiveAlerts)
	assert.Equal(t, 1, snapshot.AcknowledgedAlerts)
	assert.Equal(t, 7, snapshot.ResolvedAlerts)
}

func TestHealthCollector_StartIsIdempotent(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	first := NewHealthCollector(js, &fakeCounter{}, time.Hour, zap.NewNop())
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	second := NewHealthCollector(js, &fakeCounter{}, time.Hour, zap.NewNop())
	require.NoError(t, second.Start(context.Background()), "existing stream is reused")
	defer second.Stop()
}
