package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically prunes the archive on a cron schedule.
type Retention struct {
	archive *Archive
	keep    time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

// NewRetention schedules a sweep that drops archive rows older than keep.
func NewRetention(archive *Archive, keep time.Duration, schedule string) (*Retention, error) {
	r := &Retention{
		archive: archive,
		keep:    keep,
		cron:    cron.New(),
		now:     time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Sweep(context.Background()); err != nil {
			log.Printf("Archive retention sweep failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule retention sweep %q: %w", schedule, err)
	}
	return r, nil
}

// Sweep runs one pruning pass immediately.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	n, err := r.archive.Prune(ctx, r.now().Add(-r.keep))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("Archive retention removed %d rows older than %s", n, r.keep)
	}
	return n, nil
}

func (r *Retention) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
