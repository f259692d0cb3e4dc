package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/model"
)

// Config holds the cooldown windows and the organization SMS cap
type Config struct {
	PerAlert           time.Duration
	PerContact         time.Duration
	OrgWindow          time.Duration
	MaxSMSPerOrgWindow int
}

// orgWindowScript admits one SMS into an organization's sliding window
// or rejects it, atomically: prune expired entries, check the cap, add.
// Two concurrent sweeps cannot both pass the check before either
// records usage.
var orgWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) >= max then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// Limiter enforces the per-alert, per-contact, and per-organization
// notification limits. All records are Redis keys with TTLs; nothing
// needs explicit cleanup.
type Limiter struct {
	logger *zap.Logger
	rdb    *redis.Client
	cfg    Config
	clock  clock.Clock
}

// New creates a cooldown and rate limiter
func New(logger *zap.Logger, rdb *redis.Client, cfg Config, clk clock.Clock) *Limiter {
	return &Limiter{
		logger: logger.Named("limiter"),
		rdb:    rdb,
		cfg:    cfg,
		clock:  clk,
	}
}

func alertKey(alertID string) string     { return "cooldown:alert:" + alertID }
func contactKey(contactID string) string { return "cooldown:contact:" + contactID }
func orgKey(orgID string) string         { return "cooldown:org:" + orgID }

// Gate filters the candidate contacts down to the deliveries allowed
// right now, reserving usage atomically as it checks:
//   - per-alert: one notification burst per alert per window; a second
//     sweep (or a manual re-evaluation) inside the window gets nothing.
//   - per-contact: at most one SMS per contact per window across all
//     alerts; a contact inside its window is skipped entirely.
//   - per-org: a sliding window caps SMS across the organization; at
//     the cap, contacts fall back to email when they have it.
//
// Reservations happen at check time so concurrent gates cannot double
// admit; Release compensates when an enqueue subsequently fails.
func (l *Limiter) Gate(ctx context.Context, alertID, orgID string, smsAllowed bool, contacts []model.EscalationContact) ([]model.Delivery, error) {
	ok, err := l.rdb.SetNX(ctx, alertKey(alertID), 1, l.cfg.PerAlert).Result()
	if err != nil {
		return nil, fmt.Errorf("per-alert cooldown check failed: %w", err)
	}
	if !ok {
		l.logger.Debug("Alert inside cooldown window, burst suppressed",
			zap.String("alert_id", alertID))
		return nil, nil
	}

	now := l.clock.Now()
	var deliveries []model.Delivery
	for _, c := range contacts {
		delivery, admitted := l.admit(ctx, alertID, orgID, smsAllowed, c, now)
		if admitted {
			deliveries = append(deliveries, delivery)
		}
	}
	return deliveries, nil
}

func (l *Limiter) admit(ctx context.Context, alertID, orgID string, smsAllowed bool, c model.EscalationContact, now time.Time) (model.Delivery, bool) {
	wantsSMS := smsAllowed && c.SMSEnabled && c.Phone != ""
	wantsEmail := c.EmailEnabled && c.Email != ""

	if !wantsSMS {
		if wantsEmail {
			return model.Delivery{Contact: c, Channel: model.ChannelEmail}, true
		}
		return model.Delivery{}, false
	}

	reserved, err := l.rdb.SetNX(ctx, contactKey(c.ID), 1, l.cfg.PerContact).Result()
	if err != nil {
		l.logger.Error("Per-contact cooldown check failed, contact suppressed",
			zap.String("contact_id", c.ID),
			zap.Error(err))
		return model.Delivery{}, false
	}
	if !reserved {
		// Contact was paged recently; no SMS and no email pile-on.
		return model.Delivery{}, false
	}

	member := fmt.Sprintf("%s:%s:%d", alertID, c.ID, now.UnixNano())
	admitted, err := orgWindowScript.Run(ctx, l.rdb,
		[]string{orgKey(orgID)},
		now.UnixMilli(), l.cfg.OrgWindow.Milliseconds(), l.cfg.MaxSMSPerOrgWindow, member).Int()
	if err != nil {
		l.logger.Error("Org rate limit check failed, contact suppressed",
			zap.String("organization_id", orgID),
			zap.Error(err))
		l.Release(ctx, c.ID)
		return model.Delivery{}, false
	}
	if admitted == 0 {
		// Window exhausted: SMS suppressed org-wide, email is exempt.
		l.Release(ctx, c.ID)
		if wantsEmail {
			return model.Delivery{Contact: c, Channel: model.ChannelEmail}, true
		}
		return model.Delivery{}, false
	}

	return model.Delivery{Contact: c, Channel: model.ChannelSMS}, true
}

// Release frees a contact's SMS reservation, best effort. Used when an
// enqueue fails after the gate admitted the contact.
func (l *Limiter) Release(ctx context.Context, contactID string) {
	if err := l.rdb.Del(ctx, contactKey(contactID)).Err(); err != nil {
		l.logger.Warn("Failed to release contact cooldown",
			zap.String("contact_id", contactID),
			zap.Error(err))
	}
}
