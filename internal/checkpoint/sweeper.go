package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type SweepResult struct {
	Expired int
	Deleted int
}

// Sweeper applies the retention window: active checkpoints older than the
// window become Expired, everything else older than the window is removed.
type Sweeper struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewSweeper(repo Repository, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:      repo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	old, err := s.repo.ListBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		return res, fmt.Errorf("list expired checkpoints: %w", err)
	}
	for _, c := range old {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.Status == StatusActive {
			if err := s.repo.UpdateStatus(ctx, c.TicketID, c.ID, StatusExpired); err != nil {
				return res, fmt.Errorf("expire checkpoint %s: %w", c.ID, err)
			}
			res.Expired++
			continue
		}
		if err := s.repo.Delete(ctx, c.TicketID, c.ID); err != nil {
			return res, fmt.Errorf("delete checkpoint %s: %w", c.ID, err)
		}
		res.Deleted++
	}
	return res, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("checkpoint sweep failed", "error", err)
				}
				continue
			}
			if res.Expired > 0 || res.Deleted > 0 {
				slog.Info("checkpoint sweep finished", "expired", res.Expired, "deleted", res.Deleted)
			}
		}
	}
}
