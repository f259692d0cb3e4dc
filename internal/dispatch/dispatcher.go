package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

// StreamName holds outbound notification jobs until delivery workers
// consume them.
const StreamName = "NOTIFICATIONS"

// Releaser frees a cooldown reservation when an enqueue fails
type Releaser interface {
	Release(ctx context.Context, contactID string)
}

// Dispatcher enqueues one notification job per admitted contact onto
// JetStream. Enqueue is fire-and-forget with a short timeout: delivery
// retries belong to the queue workers, and a slow queue must never
// stall the escalation sweep.
type Dispatcher struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	releaser Releaser
	timeout  time.Duration
}

// New creates a notification dispatcher
func New(logger *zap.Logger, js nats.JetStreamContext, releaser Releaser, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		js:       js,
		releaser: releaser,
		timeout:  timeout,
	}
}

// Start ensures the notification stream exists
func (d *Dispatcher) Start(ctx context.Context) error {
	_, err := d.js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if err == nats.ErrStreamNotFound {
		_, err = d.js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"notify.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		d.logger.Info("Created notification stream", zap.String("name", StreamName))
	}
	return nil
}

// Dispatch enqueues one job per delivery. Failures release the
// contact's cooldown reservation and are logged; the sweep moves on.
func (d *Dispatcher) Dispatch(ctx context.Context, a *model.Alert, level int, deliveries []model.Delivery) {
	message := formatMessage(a, level)

	for _, delivery := range deliveries {
		job := model.NotificationJob{
			OrganizationID: a.OrganizationID,
			AlertID:        a.ID,
			ContactID:      delivery.Contact.ID,
			Channel:        delivery.Channel,
			Message:        message,
		}

		data, err := json.Marshal(job)
		if err != nil {
			d.logger.Error("Failed to marshal notification job", zap.Error(err))
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, err = d.js.Publish("notify."+string(delivery.Channel), data, nats.Context(pubCtx))
		cancel()
		if err != nil {
			d.logger.Error("Failed to enqueue notification",
				zap.String("alert_id", a.ID),
				zap.String("contact_id", delivery.Contact.ID),
				zap.String("channel", string(delivery.Channel)),
				zap.Error(err))
			if delivery.Channel == model.ChannelSMS {
				d.releaser.Release(ctx, delivery.Contact.ID)
			}
			continue
		}

		d.logger.Info("Notification enqueued",
			zap.String("alert_id", a.ID),
			zap.String("contact_id", delivery.Contact.ID),
			zap.String("channel", string(delivery.Channel)),
			zap.Int("level", level))
	}
}

func formatMessage(a *model.Alert, level int) string {
	return fmt.Sprintf("[%s] unit %s: %s (escalation level %d)",
		strings.ToUpper(string(a.Severity)), a.UnitID, a.Message, level)
}
