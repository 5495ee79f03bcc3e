package workflow

import (
	"context"
	"sync"
)

// conversationLock tracks the mutex of one conversation and how many callers hold or wait for it
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// ConversationLocks is the in-process ConversationLocker the engine uses by default.
// Entries are reference counted and removed once nobody holds them.
type ConversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{locks: make(map[string]*conversationLock)}
}

func (c *ConversationLocks) acquire(key string) *conversationLock {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.locks[key]
	if !exists {
		entry = &conversationLock{}
		c.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (c *ConversationLocks) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.locks, key)
	}
}

// Lock blocks until the conversation is free. The returned func releases it.
func (c *ConversationLocks) Lock(ctx context.Context, key string) (func(), error) {
	entry := c.acquire(key)

	locked := make(chan struct{})
	go func() {
		entry.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// Hand the mutex back as soon as the waiter gets it
		go func() {
			<-locked
			entry.mu.Unlock()
			c.release(key)
		}()
		return nil, ctx.Err()
	}

	return func() {
		entry.mu.Unlock()
		c.release(key)
	}, nil
}

// Active returns how many conversations currently hold or wait for a lock
func (c *ConversationLocks) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
