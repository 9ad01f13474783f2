// Package archive moves aged events out of the analytics store into
// Parquet objects on S3, grouped by calendar month.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/lynex-ai/lynex/pkg/analytics"
)

// Config holds archiver settings.
type Config struct {
	Bucket             string
	Prefix             string
	AfterDays          int
	BatchSize          int
	Interval           time.Duration
	DeleteAfterArchive bool
}

// DefaultConfig returns the built-in archival policy.
func DefaultConfig() Config {
	return Config{
		Prefix:    "events",
		AfterDays: 30,
		BatchSize: 10_000,
		Interval:  24 * time.Hour,
	}
}

// Source is the archival read/delete surface of the analytics store.
type Source interface {
	SelectOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]analytics.StoredEvent, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// ObjectStore is the S3 surface the archiver uses.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Archiver runs the periodic cold-tier cycle.
type Archiver struct {
	cfg    Config
	source Source
	store  ObjectStore
	logger *slog.Logger
	now    func() time.Time

	// newPolicy is swapped in tests to avoid real backoff sleeps.
	newPolicy func() backoff.BackOff

	cancel context.CancelFunc
	done   chan struct{}
}

func NewArchiver(cfg Config, source Source, store ObjectStore) *Archiver {
	if cfg.AfterDays <= 0 {
		cfg.AfterDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10_000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Archiver{
		cfg:       cfg,
		source:    source,
		store:     store,
		logger:    slog.Default().With("component", "archive"),
		now:       time.Now,
		newPolicy: func() backoff.BackOff { return newRetryPolicy(3) },
	}
}

// Start launches the background archival loop. A failed cycle is logged
// and retried at the next tick.
func (a *Archiver) Start(ctx context.Context) {
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go a.run(ctx)

	a.logger.Info("Archiver started",
		"bucket", a.cfg.Bucket,
		"after_days", a.cfg.AfterDays,
		"interval", a.cfg.Interval,
		"delete_after_archive", a.cfg.DeleteAfterArchive)
}

// Stop signals the loop to exit and waits for it to finish.
func (a *Archiver) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.logger.Info("Archiver stopped")
}

func (a *Archiver) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunCycle(ctx); err != nil {
				a.logger.Error("Archive cycle failed, will retry next interval", "error", err)
			}
		}
	}
}

// RunCycle archives one batch of aged events. Each calendar month becomes
// one Parquet object; a failed month does not abort the others.
func (a *Archiver) RunCycle(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.cfg.AfterDays)

	rows, err := a.source.SelectOlderThan(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("selecting archivable events: %w", err)
	}
	if len(rows) == 0 {
		a.logger.Debug("No events eligible for archive", "cutoff", cutoff)
		return nil
	}

	months := groupByMonth(rows)
	var firstErr error
	archived := 0
	for _, month := range sortedMonths(months) {
		batch := months[month]
		if err := a.archiveMonth(ctx, month, batch); err != nil {
			a.logger.Error("Failed to archive month", "month", month, "events", len(batch), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		archived += len(batch)
	}

	a.logger.Info("Archive cycle complete",
		"eligible", len(rows),
		"archived", archived,
		"months", len(months))
	return firstErr
}

func (a *Archiver) archiveMonth(ctx context.Context, month string, rows []analytics.StoredEvent) error {
	data, err := encodeParquet(rows)
	if err != nil {
		return fmt.Errorf("encoding parquet for %s: %w", month, err)
	}

	key := a.objectKey(month)
	if err := a.upload(ctx, key, data); err != nil {
		return err
	}

	// read-after-write check before any delete is attempted
	if _, err := a.store.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("verifying uploaded object %s: %w", key, err)
	}

	a.logger.Info("Uploaded archive object",
		"key", key,
		"events", len(rows),
		"bytes", len(data))

	if a.cfg.DeleteAfterArchive {
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].EventID
		}
		if err := a.source.DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("deleting archived events for %s: %w", month, err)
		}
	}
	return nil
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	operation := func() error {
		_, err := a.store.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(a.cfg.Bucket),
			Key:          aws.String(key),
			Body:         bytes.NewReader(data),
			ContentType:  aws.String("application/vnd.apache.parquet"),
			StorageClass: types.StorageClassStandardIa,
		})
		return err
	}

	policy := backoff.WithContext(a.newPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// objectKey builds <prefix>/<YYYY-MM>/events_<YYYYMMDD_HHMMSS>.parquet.
func (a *Archiver) objectKey(month string) string {
	return fmt.Sprintf("%s/%s/events_%s.parquet",
		a.cfg.Prefix, month, a.now().UTC().Format("20060102_150405"))
}

func groupByMonth(rows []analytics.StoredEvent) map[string][]analytics.StoredEvent {
	months := make(map[string][]analytics.StoredEvent)
	for _, r := range rows {
		month := r.Timestamp.UTC().Format("2006-01")
		months[month] = append(months[month], r)
	}
	return months
}

func sortedMonths(months map[string][]analytics.StoredEvent) []string {
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newRetryPolicy(maxAttempts uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(b, maxAttempts-1)
}
