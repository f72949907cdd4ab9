package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const retentionBatchSize = 5000

// RetentionJob archives entries older than the retention window and
// prunes them only after the archive upload succeeds. The trail is
// never deleted without an archived copy; with no archiver configured
// the job refuses to prune at all.
type RetentionJob struct {
	recorder  *Recorder
	archiver  Archiver
	days      int
	batchSize int
	logger    *logrus.Logger
}

// NewRetentionJob creates a retention job keeping the given number of
// days in the database
func NewRetentionJob(recorder *Recorder, archiver Archiver, days int, logger *logrus.Logger) *RetentionJob {
	return &RetentionJob{
		recorder:  recorder,
		archiver:  archiver,
		days:      days,
		batchSize: retentionBatchSize,
		logger:    logger,
	}
}

// Register schedules the job on the given cron runner
func (j *RetentionJob) Register(c *cron.Cron, schedule string) error {
	_, err := c.AddFunc(schedule, func() {
		if err := j.Run(context.Background()); err != nil {
			j.logger.WithError(err).Error("audit retention run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit retention: %w", err)
	}
	return nil
}

// Run performs one retention pass, batching until no entries remain
// beyond the window
func (j *RetentionJob) Run(ctx context.Context) error {
	if j.archiver == nil {
		return fmt.Errorf("audit retention requires an archiver, refusing to prune")
	}
	if j.days <= 0 {
		return fmt.Errorf("audit retention window must be positive, got %d days", j.days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -j.days)

	for {
		entries, err := j.recorder.Search(ctx, Filter{
			EndTime: &cutoff,
			Limit:   j.batchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to load retention batch: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		key, err := j.archiver.Archive(ctx, cutoff, entries)
		if err != nil {
			return fmt.Errorf("failed to archive retention batch: %w", err)
		}

		// Delete exactly the rows that made it into the archive;
		// expired rows outside this batch wait for their own upload
		ids := make([]int64, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		pruned, err := j.recorder.pruneArchived(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to prune archived entries: %w", err)
		}

		j.logger.WithFields(logrus.Fields{
			"archive_key": key,
			"pruned":      pruned,
			"cutoff":      cutoff,
		}).Info("audit retention batch archived and pruned")

		if len(entries) < j.batchSize {
			return nil
		}
	}
}

// pruneArchived removes entries that have just been archived. This is
// the only delete path in the package and is unexported: the query
// interface never exposes deletion.
func (r *Recorder) pruneArchived(ctx context.Context, ids []int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
