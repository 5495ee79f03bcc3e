package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// IdleSweeper drops sessions idle for longer than ttl
type IdleSweeper interface {
	SweepIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// SessionSweeper runs an IdleSweeper on a cron schedule
type SessionSweeper struct {
	cron    *cron.Cron
	target  IdleSweeper
	ttl     time.Duration
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
}

func NewSessionSweeper(target IdleSweeper, ttl time.Duration, log zerolog.Logger) *SessionSweeper {
	return &SessionSweeper{
		cron:    cron.New(),
		target:  target,
		ttl:     ttl,
		timeout: time.Minute,
		log:     log.With().Str("module", "sweeper").Logger(),
	}
}

// Start schedules the sweep, e.g. "@every 5m" or "*/10 * * * *"
func (s *SessionSweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already started")
	}
	entry, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entry = entry
	s.running = true
	s.cron.Start()

	s.log.Info().Str("schedule", schedule).Dur("idle_ttl", s.ttl).Msg("session sweeper started")
	return nil
}

// RunOnce performs a single sweep and returns the number of dropped sessions
func (s *SessionSweeper) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dropped, err := s.target.SweepIdle(ctx, s.ttl)
	if err != nil {
		s.log.Error().Err(err).Msg("idle session sweep failed")
	}
	if dropped > 0 {
		s.log.Info().Int("dropped", dropped).Msg("dropped idle sessions")
	}
	return dropped
}

// Stop halts scheduling and waits for a running sweep to finish
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	s.running = false
}
