package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/audit"
)

// AuditPruner periodically deletes session audit rows older than the retention window.
type AuditPruner struct {
	logger    *zap.Logger
	db        audit.DBExecutor
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewAuditPruner(logger *zap.Logger, db audit.DBExecutor, interval, retention time.Duration) *AuditPruner {
	return &AuditPruner{
		logger:    logger,
		db:        db,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the prune loop until Stop is called or ctx is done.
func (p *AuditPruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("audit_pruner.started",
		zap.Duration("interval", p.interval),
		zap.Duration("retention", p.retention))

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("audit_pruner.stopped")
			return
		case <-ctx.Done():
			p.logger.Info("audit_pruner.stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

func (p *AuditPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// RunOnce executes one prune cycle and returns the number of deleted rows.
func (p *AuditPruner) RunOnce(ctx context.Context) int64 {
	start := time.Now()
	cutoff := start.Add(-p.retention).UTC()

	tag, err := p.db.Exec(ctx, `DELETE FROM portal.session_event WHERE occurred_at < $1`, cutoff)
	if err != nil {
		p.logger.Error("audit_pruner.prune_failed", zap.Error(err))
		return 0
	}

	p.logger.Info("audit_pruner.success",
		zap.Int64("deleted", tag.RowsAffected()),
		zap.Duration("duration", time.Since(start)))
	return tag.RowsAffected()
}
