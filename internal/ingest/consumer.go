package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/model"
)

// StreamName buffers inbound sensor readings and manual log entries
const StreamName = "READINGS"

// Handler is the tracker-facing side of reading ingestion
type Handler interface {
	OnReading(ctx context.Context, unitID string, reading model.Reading) error
}

// Consumer subscribes to reading subjects and feeds decoded readings
// to the tracker. Subjects carry the unit: reading.<unit_id>.
type Consumer struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	handler Handler
	clock   clock.Clock
	subject string
	durable string
	timeout time.Duration
	sub     *nats.Subscription
}

// NewConsumer creates a reading consumer
func NewConsumer(logger *zap.Logger, js nats.JetStreamContext, handler Handler, clk clock.Clock, subject, durable string, timeout time.Duration) *Consumer {
	return &Consumer{
		logger:  logger.Named("ingest"),
		js:      js,
		handler: handler,
		clock:   clk,
		subject: subject,
		durable: durable,
		timeout: timeout,
	}
}

// Start ensures the readings stream exists and subscribes
func (c *Consumer) Start(ctx context.Context) error {
	_, err := c.js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if err == nats.ErrStreamNotFound {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"reading.>"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.Info("Created readings stream", zap.String("name", StreamName))
	}

	sub, err := c.js.Subscribe(c.subject, c.handleReading, nats.Durable(c.durable))
	if err != nil {
		return fmt.Errorf("failed to subscribe to readings: %w", err)
	}
	c.sub = sub

	c.logger.Info("Reading consumer started", zap.String("subject", c.subject))
	return nil
}

// Stop unsubscribes from the readings stream
func (c *Consumer) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

// handleReading decodes and evaluates one reading. Malformed payloads
// and per-unit failures are logged and acked; one bad unit never backs
// up ingestion for the others.
func (c *Consumer) handleReading(msg *nats.Msg) {
	defer msg.Ack()

	reading, err := ExtractReading(msg.Data, c.clock.Now())
	if err != nil {
		c.logger.Warn("Rejected malformed reading",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}

	unitID := unitFromSubject(msg.Subject)
	if unitID == "" {
		unitID = reading.UnitID
	}
	if unitID == "" {
		c.logger.Warn("Rejected reading with no unit",
			zap.String("subject", msg.Subject))
		return
	}

	// Hot path: a stuck evaluation for one unit must not back up the
	// consumer, so every reading gets a short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.handler.OnReading(ctx, unitID, reading); err != nil {
		c.logger.Warn("Reading dropped",
			zap.String("unit_id", unitID),
			zap.Error(err))
	}
}

// unitFromSubject extracts the unit ID from reading.<unit_id>
func unitFromSubject(subject string) string {
	parts := strings.SplitN(subject, ".", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
