// Package scheduler runs the two periodic metering sweeps: per-minute credit
// deduction for paid sessions and expiry of the one-time free trial. The
// sweeps tick independently and share no in-process state; they coordinate
// only through the store's row locks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// Broadcaster delivers state-change events to the owning user's clients.
// Delivery is best effort; a missed event is recovered by the polling
// fallback, not replayed.
type Broadcaster interface {
	SessionUpdate(userID uuid.UUID, ev model.SessionEvent)
	CreditsUpdate(userID uuid.UUID, ev model.CreditsEvent)
}

// Config tunes the sweep cadence. Zero values fall back to 1s ticks.
type Config struct {
	Interval time.Duration
}

// Scheduler owns both sweeps' lifecycle.
type Scheduler struct {
	store     repo.SweepStore
	broadcast Broadcaster
	interval  time.Duration
	now       func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a scheduler over the sweep store.
func New(store repo.SweepStore, broadcast Broadcaster, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		broadcast: broadcast,
		interval:  cfg.Interval,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches both sweep loops. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Info().Dur("interval", s.interval).Msg("Metering sweeps started")

	s.wg.Add(2)
	go s.loop("deduction", s.DeductionTick)
	go s.loop("trial", s.TrialTick)
}

// Stop cancels the sweeps and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Metering sweeps stopped")
}

func (s *Scheduler) loop(name string, tick func(ctx context.Context, now time.Time)) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Str("sweep", name).Msg("sweep loop stopped")
			return
		case <-ticker.C:
			tick(s.ctx, s.now())
		}
	}
}
