package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// pruneTimeout bounds a single scheduled prune run.
const pruneTimeout = time.Minute

// Pruner deletes messages older than the retention window on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	entryID cron.EntryID
	runs    int
	removed int64
}

// NewPruner creates a pruner. schedule uses standard five-field cron syntax
// or descriptors such as "@daily".
func NewPruner(store *Store, schedule string, retention time.Duration) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	p := &Pruner{
		store:     store,
		retention: retention,
		now:       time.Now,
		c:         cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
	}

	id, err := p.c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if _, err := p.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled message prune failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	p.entryID = id
	return p, nil
}

// Start begins scheduled pruning.
func (p *Pruner) Start() {
	p.c.Start()
	log.Info().
		Dur("retention", p.retention).
		Time("next_run", p.Next()).
		Msg("message pruner started")
}

// Stop stops the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.c.Stop().Done()
}

// Next returns the next scheduled run, zero before Start.
func (p *Pruner) Next() time.Time {
	return p.c.Entry(p.entryID).Next
}

// RunOnce prunes messages older than the retention window now.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.runs++
	p.removed += n
	p.mu.Unlock()

	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned old messages")
	}
	return n, nil
}

// Stats returns the number of completed runs and messages removed.
func (p *Pruner) Stats() (runs int, removed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs, p.removed
}
