package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platinummonkey/tenantry/pkg/async"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

const defaultArchiveConcurrency = 4

// ObjectPutter is the subset of the S3 client used by the archiver
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveSource lists and reads entries for archiving
type ArchiveSource interface {
	ProjectsWithEntries(ctx context.Context, from, to time.Time) ([]int64, error)
	Search(ctx context.Context, filter Filter) ([]*Entry, error)
}

// Archiver copies a day of audit entries to object storage as one NDJSON
// object per project. Entries stay in the database.
type Archiver struct {
	source ArchiveSource
	client ObjectPutter
	bucket string
	prefix string
	logger *observability.Logger

	concurrency int
}

// NewArchiver creates a new archiver. prefix defaults to "audit".
func NewArchiver(source ArchiveSource, client ObjectPutter, bucket, prefix string, logger *observability.Logger) *Archiver {
	if prefix == "" {
		prefix = "audit"
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Archiver{
		source:      source,
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		logger:      logger,
		concurrency: defaultArchiveConcurrency,
	}
}

// WithConcurrency sets how many projects are uploaded in parallel
func (a *Archiver) WithConcurrency(n int) *Archiver {
	if n > 0 {
		a.concurrency = n
	}
	return a
}

// ObjectKey returns the key of the archive object for a project and day
func (a *Archiver) ObjectKey(projectID int64, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s/%d/%04d/%02d/%02d.ndjson", a.prefix, projectID, day.Year(), int(day.Month()), day.Day())
}

// ArchiveDay uploads the entries of the UTC day containing day and returns
// the number of objects written. Uploads are overwrites, so re-running a
// day is safe.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	from := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	projectIDs, err := a.source.ProjectsWithEntries(ctx, from, to)
	if err != nil {
		return 0, err
	}

	var written atomic.Int64
	errs := async.Batch(ctx, projectIDs, a.concurrency, 0, func(ctx context.Context, projectID int64) error {
		if err := a.archiveProject(ctx, projectID, from, to); err != nil {
			return err
		}
		written.Add(1)
		return nil
	})

	count := int(written.Load())
	if len(errs) > 0 {
		return count, errors.Join(errs...)
	}

	a.logger.WithFields(map[string]interface{}{
		"day":     from.Format("2006-01-02"),
		"objects": count,
	}).Info("audit log archived")
	return count, nil
}

func (a *Archiver) archiveProject(ctx context.Context, projectID int64, from, to time.Time) error {
	entries, err := a.source.Search(ctx, Filter{ProjectID: projectID, From: &from, To: &to, Ascending: true})
	if err != nil {
		return fmt.Errorf("failed to read entries of project %d: %w", projectID, err)
	}

	body, err := exportNDJSON(entries)
	if err != nil {
		return err
	}

	key := a.ObjectKey(projectID, from)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
