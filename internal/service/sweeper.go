package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"
)

// Sweepable is the part of the coordinator the sweeper drives.
type Sweepable interface {
	EventIDs() []string
	Sweep(ctx context.Context, eventID string) ([]string, error)
}

// Sweeper periodically frees expired holds across all events.  Events
// are swept concurrently, bounded by the worker count, and a failing
// event never stops the others.
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	workers  int
	log      *log.Logger
}

func NewSweeper(target Sweepable, interval time.Duration, workers int, lg *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 8
	}
	if lg == nil {
		lg = log.New("sweeper")
	}
	return &Sweeper{target: target, interval: interval, workers: workers, log: lg}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Infof("sweeping every %s with %d workers", s.interval, s.workers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one pass over all events and returns how many holds
// were freed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	var (
		g     errgroup.Group
		freed atomic.Int64
	)
	g.SetLimit(s.workers)
	for _, id := range s.target.EventIDs() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			expired, err := s.target.Sweep(ctx, id)
			switch {
			case errors.Is(err, ErrBusy):
				s.log.Debugf("event %s busy, skipped this pass", id)
			case err != nil:
				s.log.Errorf("event %s: sweep failed: %v", id, err)
			case len(expired) > 0:
				freed.Add(int64(len(expired)))
				s.log.Infof("event %s: released %d expired holds", id, len(expired))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(freed.Load())
}
