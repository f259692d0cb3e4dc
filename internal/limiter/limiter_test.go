package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(zap.NewNop(), rdb, cfg, clk), mr, clk
}

func defaultConfig() Config {
	return Config{
		PerAlert:           15 * time.Minute,
		PerContact:         15 * time.Minute,
		OrgWindow:          time.Hour,
		MaxSMSPerOrgWindow: 50,
	}
}

func smsContact(id string) model.EscalationContact {
	return model.EscalationContact{
		ID:             id,
		OrganizationID: "org-1",
		Phone:          "+1555" + id,
		Email:          id + "@example.com",
		SMSEnabled:     true,
		EmailEnabled:   true,
	}
}

func TestGate_PerAlertBurstSuppression(t *testing.T) {
	l, mr, _ := newTestLimiter(t, defaultConfig())
	ctx := context.Background()
	contacts := []model.EscalationContact{smsContact("c-1")}

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true, contacts)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ChannelSMS, deliveries[0].Channel)

	// Second burst for the same alert inside the window gets nothing,
	// not even email.
	deliveries, err = l.Gate(ctx, "alert-1", "org-1", true, contacts)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	// After the window the alert may notify again.
	mr.FastForward(16 * time.Minute)
	deliveries, err = l.Gate(ctx, "alert-1", "org-1", true, []model.EscalationContact{smsContact("c-2")})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestGate_PerContactCooldownSpansAlerts(t *testing.T) {
	l, mr, _ := newTestLimiter(t, defaultConfig())
	ctx := context.Background()
	contacts := []model.EscalationContact{smsContact("c-1")}

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true, contacts)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// A different alert cannot page the same contact inside the window.
	deliveries, err = l.Gate(ctx, "alert-2", "org-1", true, contacts)
	require.NoError(t, err)
	assert.Empty(t, deliveries, "no SMS and no email fallback while the contact cools down")

	mr.FastForward(16 * time.Minute)
	deliveries, err = l.Gate(ctx, "alert-3", "org-1", true, contacts)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestGate_OrgWindowCapFallsBackToEmail(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSMSPerOrgWindow = 2
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	contacts := []model.EscalationContact{
		smsContact("c-1"), smsContact("c-2"), smsContact("c-3"),
	}
	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true, contacts)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)

	channels := map[model.Channel]int{}
	for _, d := range deliveries {
		channels[d.Channel]++
	}
	assert.Equal(t, 2, channels[model.ChannelSMS], "window admits exactly the cap")
	assert.Equal(t, 1, channels[model.ChannelEmail], "overflow falls back to email")

	// The email fallback released c-3's SMS reservation, so a later
	// alert can still SMS it once the window has room again.
	assert.Equal(t, model.ChannelEmail, deliveries[2].Channel)
}

func TestGate_OrgCapSkipsContactWithoutEmail(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSMSPerOrgWindow = 1
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	noEmail := smsContact("c-2")
	noEmail.Email = ""
	noEmail.EmailEnabled = false

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true,
		[]model.EscalationContact{smsContact("c-1"), noEmail})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "c-1", deliveries[0].Contact.ID)
}

func TestGate_EmailOnlyContactsBypassSMSLimits(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSMSPerOrgWindow = 0
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	emailOnly := model.EscalationContact{
		ID:             "c-1",
		OrganizationID: "org-1",
		Email:          "c-1@example.com",
		EmailEnabled:   true,
	}

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true,
		[]model.EscalationContact{emailOnly})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ChannelEmail, deliveries[0].Channel)
}

func TestGate_SMSDisabledForSeverity(t *testing.T) {
	l, _, _ := newTestLimiter(t, defaultConfig())
	ctx := context.Background()

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", false,
		[]model.EscalationContact{smsContact("c-1")})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ChannelEmail, deliveries[0].Channel,
		"severity without SMS pages by email only")
}

func TestRelease_ReopensContactWindow(t *testing.T) {
	l, _, _ := newTestLimiter(t, defaultConfig())
	ctx := context.Background()
	contact := smsContact("c-1")

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true,
		[]model.EscalationContact{contact})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// Simulates the dispatcher compensating a failed enqueue.
	l.Release(ctx, contact.ID)

	deliveries, err = l.Gate(ctx, "alert-2", "org-1", true,
		[]model.EscalationContact{contact})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1, "released contact is immediately pageable again")
}

func TestGate_OrgWindowSlides(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSMSPerOrgWindow = 1
	l, _, clk := newTestLimiter(t, cfg)
	ctx := context.Background()

	deliveries, err := l.Gate(ctx, "alert-1", "org-1", true,
		[]model.EscalationContact{smsContact("c-1")})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, model.ChannelSMS, deliveries[0].Channel)

	// A fresh contact ten minutes later still sees the full window.
	clk.Advance(10 * time.Minute)
	deliveries, err = l.Gate(ctx, "alert-2", "org-1", true,
		[]model.EscalationContact{smsContact("c-2")})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ChannelEmail, deliveries[0].Channel)

	// Past the window the old entry is pruned and SMS flows again.
	clk.Advance(51 * time.Minute)
	deliveries, err = l.Gate(ctx, "alert-3", "org-1", true,
		[]model.EscalationContact{smsContact("c-3")})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ChannelSMS, deliveries[0].Channel)
}

func TestGate_ConcurrentSweepsCannotDoublePage(t *testing.T) {
	l, _, _ := newTestLimiter(t, defaultConfig())
	ctx := context.Background()
	contact := smsContact("c-1")

	// Two overlapping sweep passes (scheduler jitter, restart overlap)
	// race for the same contact under distinct alerts. The SetNX
	// reservation admits exactly one.
	const passes = 2
	results := make(chan []model.Delivery, passes)
	errs := make(chan error, passes)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(passes)
	for i := 0; i < passes; i++ {
		alertID := fmt.Sprintf("alert-%d", i)
		go func() {
			defer done.Done()
			start.Wait()
			deliveries, err := l.Gate(ctx, alertID, "org-1", true,
				[]model.EscalationContact{contact})
			results <- deliveries
			errs <- err
		}()
	}
	start.Done()
	done.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	total := 0
	for deliveries := range results {
		total += len(deliveries)
	}
	assert.Equal(t, 1, total, "exactly one pass pages the contact")
}
