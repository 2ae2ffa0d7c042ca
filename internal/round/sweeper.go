package round

import (
	"context"
	"sync"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
)

// Run sweeps live rounds every SweepInterval until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx, m.now())
		}
	}
}

// Sweep expires stale rounds, auto-resolves idle in-play rounds and retries
// pending settlements. It returns once every live round has been visited.
func (m *Manager) Sweep(ctx context.Context, now time.Time) {
	var wg sync.WaitGroup
	for _, a := range m.arena.all() {
		wg.Add(1)
		go func(a *actor) {
			defer wg.Done()
			_, err := a.do(ctx, func(a *actor, ctx context.Context) (*domain.Round, error) {
				return a.tick(ctx, now)
			})
			if err != nil && err != errRetired {
				logger.Warn("sweep failed", "nonce", a.round.Nonce, "error", err)
			}
		}(a)
	}
	wg.Wait()
}
