package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs Ledger.Sweep on an interval until ctx is done.
type Sweeper struct {
	Ledger   *Ledger
	Interval time.Duration
	// OnSweep is called after each pass that changed something.
	OnSweep func(SweepResult)
	// Tick runs on every pass, changed or not.
	Tick func(time.Time)
}

func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Info().Str("module", "app.sweeper").Dur("interval", interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return nil
		case now := <-t.C:
			s.RunOnce(now)
		}
	}
}

func (s *Sweeper) RunOnce(now time.Time) SweepResult {
	if s.Tick != nil {
		s.Tick(now)
	}
	res := s.Ledger.Sweep(now)
	if !res.Changed() {
		return res
	}
	log.Debug().Str("module", "app.sweeper").Int("missed", len(res.Missed)).Int("ended", len(res.Ended)).Int("evicted", res.Evicted).Msg("sweep pass")
	if s.OnSweep != nil {
		s.OnSweep(res)
	}
	return res
}
