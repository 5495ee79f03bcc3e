package infrastructure

import (
	"context"
	"time"

	"project_chatflow/internal/interfaces"

	"github.com/rs/zerolog"
)

// DistributedLocker is implemented by lockers shared across replicas (see RedisLocker)
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// DistributedLocks takes the in-process conversation lock first, then the distributed
// one, so only one waiter per replica polls the shared store.
type DistributedLocks struct {
	local  interfaces.ConversationLocker
	remote DistributedLocker
	ttl    time.Duration
	log    zerolog.Logger
}

func NewDistributedLocks(local interfaces.ConversationLocker, remote DistributedLocker, ttl time.Duration, log zerolog.Logger) *DistributedLocks {
	return &DistributedLocks{local: local, remote: remote, ttl: ttl, log: log}
}

func (d *DistributedLocks) Lock(ctx context.Context, key string) (func(), error) {
	localUnlock, err := d.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	remoteUnlock, err := d.remote.Lock(ctx, key, d.ttl)
	if err != nil {
		localUnlock()
		return nil, err
	}
	return func() {
		if err := remoteUnlock(context.Background()); err != nil {
			d.log.Warn().Err(err).Str("conversation", key).Msg("failed to release distributed lock, it will expire")
		}
		localUnlock()
	}, nil
}
