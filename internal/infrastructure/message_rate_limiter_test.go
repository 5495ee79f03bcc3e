package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"project_chatflow/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSender struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *countingSender) Send(_ context.Context, tenantID, _ string, _ entities.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = map[string]int{}
	}
	c.count[tenantID]++
	return nil
}

func TestThrottledSender_BurstThenWait(t *testing.T) {
	next := &countingSender{}
	throttled := NewThrottledSender(next, 1, 2)

	ctx := context.Background()
	require.NoError(t, throttled.Send(ctx, "tenant_1", "web:1", &entities.TextContent{Body: "a"}))
	require.NoError(t, throttled.Send(ctx, "tenant_1", "web:1", &entities.TextContent{Body: "b"}))

	// Bucket is empty; the next send has to wait about a second
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := throttled.Send(short, "tenant_1", "web:1", &entities.TextContent{Body: "c"})
	assert.Error(t, err)

	// Other tenants have their own bucket
	require.NoError(t, throttled.Send(ctx, "tenant_2", "web:1", &entities.TextContent{Body: "d"}))

	assert.Equal(t, map[string]int{"tenant_1": 2, "tenant_2": 1}, next.count)
}

func TestThrottledSender_Unlimited(t *testing.T) {
	next := &countingSender{}
	throttled := NewThrottledSender(next, 0, 0)

	for i := 0; i < 100; i++ {
		require.NoError(t, throttled.Send(context.Background(), "tenant_1", "web:1", &entities.TextContent{Body: "x"}))
	}
	assert.Equal(t, 100, next.count["tenant_1"])
	assert.Equal(t, 0.0, throttled.GetStats()["rate"])
}

func TestThrottledSender_Cleanup(t *testing.T) {
	throttled := NewThrottledSender(&countingSender{}, 10, 10)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	throttled.now = func() time.Time { return now }

	require.NoError(t, throttled.Send(context.Background(), "tenant_1", "web:1", &entities.TextContent{Body: "x"}))
	now = now.Add(5 * time.Minute)
	require.NoError(t, throttled.Send(context.Background(), "tenant_2", "web:1", &entities.TextContent{Body: "x"}))

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, throttled.Cleanup())
	assert.Equal(t, 1, throttled.GetStats()["active_tenants"])
}
