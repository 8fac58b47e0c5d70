package history

import (
	"context"
	"time"
)

// DefaultPruneInterval is how often old session events are removed.
const DefaultPruneInterval = 24 * time.Hour

// Pruner deletes session events older than a retention period.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    Logger
}

// NewPruner returns a pruner. A zero interval means DefaultPruneInterval.
func NewPruner(repo Repository, retention, interval time.Duration, logger Logger) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
	}
}

// PruneOnce removes events older than the retention period. A
// non-positive retention keeps everything.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.PruneSessionEvents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("pruned session events", "count", n, "before", cutoff)
	}
	return n, nil
}

// Run prunes immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PruneOnce(ctx); err != nil {
			p.logger.Warn("pruning session events failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
