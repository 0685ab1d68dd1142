package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/models"
)

const (
	maxLastErrorLen = 1000
	defaultJobTime  = 10 * time.Minute
)

// BucketDeleter removes a bucket and everything in it. A missing bucket is
// not an error.
type BucketDeleter interface {
	DeleteBucket(ctx context.Context, bucket string) error
}

// CleanupQueue is a durable retry queue of bucket deletions kept in the
// storage_deletion_job table.
type CleanupQueue struct {
	db         *gorm.DB
	deleter    BucketDeleter
	maxBackoff int
	jobTime    time.Duration
	log        *zap.Logger

	nowFn func() time.Time
}

func NewCleanupQueue(db *gorm.DB, deleter BucketDeleter, maxBackoffMinutes int, log *zap.Logger) *CleanupQueue {
	return &CleanupQueue{
		db:         db,
		deleter:    deleter,
		maxBackoff: maxBackoffMinutes,
		jobTime:    defaultJobTime,
		log:        log.Named("cleanup"),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Backoff is the delay after a failed attempt, 2^(attempts+1) minutes
// capped at maxMinutes. attempts is the count before the failure.
func Backoff(attempts, maxMinutes int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	minutes := maxMinutes
	if attempts+1 < 31 && 1<<(attempts+1) < maxMinutes {
		minutes = 1 << (attempts + 1)
	}
	return time.Duration(minutes) * time.Minute
}

// Enqueue schedules bucket for deletion now. Enqueuing a bucket that is
// already queued only pulls its next attempt forward.
func (q *CleanupQueue) Enqueue(ctx context.Context, bucket string) error {
	now := q.nowFn()
	job := models.StorageDeletionJob{
		BucketName:    bucket,
		NextAttemptTs: now,
		CreatedTs:     now,
		UpdatedTs:     now,
	}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_attempt_ts", "updated_ts"}),
	}).Create(&job).Error
	if err != nil {
		return ErrTransaction.New("enqueue bucket %s: %v", bucket, err)
	}
	q.log.Info("bucket deletion queued", zap.String("bucket", bucket))
	return nil
}

// ProcessDueJobs attempts up to limit due deletions, oldest first, and
// returns how many succeeded. A failed deletion is rescheduled with
// exponential backoff. Cancelling ctx stops before the next job; the job in
// flight runs to completion.
func (q *CleanupQueue) ProcessDueJobs(ctx context.Context, limit int) (int, error) {
	now := q.nowFn()

	var jobs []models.StorageDeletionJob
	err := q.db.WithContext(ctx).
		Where("next_attempt_ts <= ?", now).
		Order("next_attempt_ts").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return 0, ErrTransaction.New("load due jobs: %v", err)
	}
	metrics.CleanupQueueDepth.Set(float64(len(jobs)))

	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ok, err := q.process(ctx, job, now)
		if err != nil {
			return done, err
		}
		if ok {
			done++
		}
	}
	return done, nil
}

func (q *CleanupQueue) process(ctx context.Context, job models.StorageDeletionJob, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.jobTime)
	defer cancel()
	log := q.log.With(zap.String("bucket", job.BucketName), zap.Int("attempts", job.Attempts))

	if derr := q.deleter.DeleteBucket(ctx, job.BucketName); derr != nil {
		msg := derr.Error()
		if len(msg) > maxLastErrorLen {
			msg = msg[:maxLastErrorLen]
		}
		next := now.Add(Backoff(job.Attempts, q.maxBackoff))
		err := q.db.WithContext(ctx).Model(&models.StorageDeletionJob{}).
			Where("bucket_name = ?", job.BucketName).
			Updates(map[string]interface{}{
				"attempts":        job.Attempts + 1,
				"last_error":      msg,
				"next_attempt_ts": next,
				"updated_ts":      now,
			}).Error
		if err != nil {
			return false, ErrTransaction.New("reschedule %s: %v", job.BucketName, err)
		}
		log.Warn("bucket deletion failed", zap.Time("nextAttempt", next), zap.Error(derr))
		metrics.CleanupJobsTotal.WithLabelValues("failed").Inc()
		return false, nil
	}

	err := q.db.WithContext(ctx).Where("bucket_name = ?", job.BucketName).Delete(&models.StorageDeletionJob{}).Error
	if err != nil {
		return false, ErrTransaction.New("remove job %s: %v", job.BucketName, err)
	}
	log.Info("bucket deleted")
	metrics.CleanupJobsTotal.WithLabelValues("ok").Inc()
	return true, nil
}

// CleanupWorker drains the queue at a fixed interval, starting with an
// immediate pass.
type CleanupWorker struct {
	queue    *CleanupQueue
	interval time.Duration
	limit    int
	log      *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewCleanupWorker(queue *CleanupQueue, interval time.Duration, limit int, log *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		queue:    queue,
		interval: interval,
		limit:    limit,
		log:      log.Named("cleanup-worker"),
		stop:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Close is called. A failing or
// panicking cycle is logged and the next one runs on schedule.
func (w *CleanupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("started", zap.Duration("interval", w.interval), zap.Int("limit", w.limit))
	for {
		w.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("cycle panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	n, err := w.queue.ProcessDueJobs(ctx, w.limit)
	if err != nil {
		w.log.Error("cycle failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("cycle done", zap.Int("deleted", n))
	}
}

// Close stops Run after the current cycle.
func (w *CleanupWorker) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}
