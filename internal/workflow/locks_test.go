package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLocks_SerializesSameKey(t *testing.T) {
	locks := NewConversationLocks()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int

	unlock, err := locks.Lock(ctx, "a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		unlock2, err := locks.Lock(ctx, "a")
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		unlock2()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()

	<-done
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, locks.Active())
}

func TestConversationLocks_DifferentKeysConcurrent(t *testing.T) {
	locks := NewConversationLocks()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB, err := locks.Lock(ctx, "b")
		if err == nil {
			unlockB()
			close(acquired)
		}
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
	assert.Equal(t, 1, locks.Active())
}

func TestConversationLocks_CancelledWaiter(t *testing.T) {
	locks := NewConversationLocks()

	unlock, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Eventually(t, func() bool { return locks.Active() == 0 }, time.Second, 5*time.Millisecond)

	// The key is usable again once the abandoned waiter handed it back
	unlock, err = locks.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
}
