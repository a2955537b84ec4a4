package request

import (
	"context"
	"time"
)

// Sweeper signals on a fixed interval, independent of agent actions, that
// the registry is due for a sweep. The owner of the registry performs the
// sweep itself so removals land at a known point of its own ordering.
type Sweeper struct {
	Every time.Duration
	// Due runs on the sweeper goroutine and must not block.
	Due func(ctx context.Context)
}

func (s *Sweeper) Run(ctx context.Context) error {
	every := s.Every
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.Due != nil {
				s.Due(ctx)
			}
		}
	}
}
