package infrastructure

import (
	"context"
	"sync"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"

	"golang.org/x/time/rate"
)

// ThrottledSender limits outbound sends with one token bucket per tenant
type ThrottledSender struct {
	next interfaces.MessageSender

	mu        sync.Mutex
	limiters  map[string]*tenantLimiter
	rate      rate.Limit
	burst     int
	idleAfter time.Duration
	now       func() time.Time
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottledSender wraps next. perSecond <= 0 disables throttling.
func NewThrottledSender(next interfaces.MessageSender, perSecond float64, burst int) *ThrottledSender {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledSender{
		next:      next,
		limiters:  make(map[string]*tenantLimiter),
		rate:      limit,
		burst:     burst,
		idleAfter: 10 * time.Minute,
		now:       time.Now,
	}
}

func (t *ThrottledSender) limiter(tenantID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[tenantID]
	if !ok {
		l = &tenantLimiter{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.limiters[tenantID] = l
	}
	l.lastSeen = t.now()
	return l.limiter
}

// Send waits for a token of the tenant's bucket, then forwards.
// A cancelled ctx aborts the wait without sending.
func (t *ThrottledSender) Send(ctx context.Context, tenantID, conversationID string, content entities.Content) error {
	if err := t.limiter(tenantID).Wait(ctx); err != nil {
		return err
	}
	return t.next.Send(ctx, tenantID, conversationID, content)
}

// Cleanup removes buckets idle for longer than ten minutes
func (t *ThrottledSender) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := t.now()
	for tenant, l := range t.limiters {
		if now.Sub(l.lastSeen) > t.idleAfter {
			delete(t.limiters, tenant)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done
func (t *ThrottledSender) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

// GetStats returns rate limiter statistics
func (t *ThrottledSender) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	perSecond := float64(t.rate)
	if t.rate == rate.Inf {
		perSecond = 0 // unlimited
	}
	return map[string]interface{}{
		"active_tenants": len(t.limiters),
		"rate":           perSecond,
		"burst":          t.burst,
	}
}
