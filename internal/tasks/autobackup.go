package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultBackupInterval is how often a snapshot is taken when no interval
// is configured.
const DefaultBackupInterval = 30 * time.Minute

// Snapshotter writes one auto-backup snapshot.
type Snapshotter interface {
	WriteAutoBackup(ctx context.Context) error
}

// AutoBackup periodically snapshots all data until its context ends.
type AutoBackup struct {
	Target   Snapshotter
	Interval time.Duration
	Log      *zap.Logger

	// RunImmediately takes the first snapshot on start instead of after
	// one interval.
	RunImmediately bool
}

// Run blocks until ctx is cancelled. Failed snapshots are logged and the
// loop carries on; the next tick tries again.
func (a *AutoBackup) Run(ctx context.Context) error {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	interval := a.Interval
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("auto backup started", zap.Duration("interval", interval))
	if a.RunImmediately {
		a.once(ctx, log)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("auto backup stopped")
			return nil
		case <-ticker.C:
			a.once(ctx, log)
		}
	}
}

func (a *AutoBackup) once(ctx context.Context, log *zap.Logger) {
	start := time.Now()
	if err := a.Target.WriteAutoBackup(ctx); err != nil {
		log.Warn("auto backup failed", zap.Error(err))
		return
	}
	log.Debug("auto backup written", zap.Duration("took", time.Since(start)))
}
