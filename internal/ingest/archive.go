// Package ingest pulls raw Papertrail logs into the store, either from
// hourly S3 archives or from the realtime CLI feed.
package ingest

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/parse"
	"github.com/topher200/assertion-context/internal/sched"
)

// objectFetcher is the slice of the S3 client we use.
type objectFetcher interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// archiveStore is what we need from esstore.Store.
type archiveStore interface {
	SaveTraceback(ctx context.Context, tb entity.Traceback) error
	BulkSaveApiCalls(ctx context.Context, calls []entity.ApiCall) error
	Refresh(ctx context.Context) error
}

// Ingestor downloads, decompresses, and parses one archive at a time.
type Ingestor struct {
	s3     objectFetcher
	store  archiveStore
	log    *zap.Logger
	tracer trace.Tracer

	// runCLI and sleep are swapped out in realtime tests.
	runCLI func(ctx context.Context, minTime, maxTime string) (stdout, stderr []byte, err error)
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	warnClockSkew sync.Once
}

// NewIngestor wires the two feeds. papertrailToken is handed to the
// realtime CLI subprocess; empty means the CLI falls back to its own
// environment.
func NewIngestor(s3Client objectFetcher, store archiveStore, papertrailToken string, log *zap.Logger) *Ingestor {
	ing := &Ingestor{
		s3:     s3Client,
		store:  store,
		log:    log,
		tracer: otel.Tracer("ingest"),
		now:    time.Now,
	}
	ing.runCLI = func(ctx context.Context, minTime, maxTime string) ([]byte, []byte, error) {
		return papertrailCLI(ctx, papertrailToken, minTime, maxTime)
	}
	ing.sleep = sleepCtx
	return ing
}

// ArchiveKey is the S3 key Papertrail writes the given hour's archive
// under.
func ArchiveKey(prefix string, day time.Time, hour int) string {
	date := day.Format("2006-01-02")
	return fmt.Sprintf("%s/dt=%s/%s-%02d.tsv.gz", prefix, date, date, hour)
}

// IngestArchive downloads one gzipped hourly archive and persists every
// traceback and api call found in it. It returns false without error
// when the archive is unavailable: missing keys are skipped, and a 403
// (Papertrail's archive uploader lagging, or clock skew on signed
// requests) is warned about once and dropped rather than retried.
func (ing *Ingestor) IngestArchive(ctx context.Context, bucket, key string) (bool, error) {
	ctx, span := ing.tracer.Start(ctx, "ingest.IngestArchive")
	defer span.End()

	tmp, err := os.CreateTemp("", "papertrail-archive-*.tsv.gz")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if ok, err := ing.download(ctx, bucket, key, tmp); !ok || err != nil {
		return false, err
	}

	tracebacks, calls, err := ing.parseArchiveFile(tmp)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	if err := ing.persist(ctx, tracebacks, calls); err != nil {
		return false, err
	}
	ing.log.Info("archive ingested",
		zap.String("key", key),
		zap.Int("tracebacks", len(tracebacks)),
		zap.Int("api_calls", len(calls)))
	return true, nil
}

// download streams the object into w, retrying transient failures.
// Access and existence failures are terminal and reported via ok.
func (ing *Ingestor) download(ctx context.Context, bucket, key string, w io.Writer) (ok bool, err error) {
	retryErr := sched.Retry(ctx, sched.RetryPolicy{
		Retryable: func(err error) bool { return statusCode(err) == 0 },
	}, func() error {
		out, err := ing.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		_, err = io.Copy(w, out.Body)
		return err
	})
	switch statusCode(retryErr) {
	case 0:
		if retryErr != nil {
			return false, fmt.Errorf("download s3://%s/%s: %w", bucket, key, retryErr)
		}
		return true, nil
	case 403:
		ing.warnClockSkew.Do(func() {
			ing.log.Warn("s3 archive access denied; check bucket grants and local clock skew",
				zap.String("bucket", bucket))
		})
		ing.log.Info("skipping forbidden archive", zap.String("key", key))
		return false, nil
	case 404:
		ing.log.Info("archive not written yet, skipping", zap.String("key", key))
		return false, nil
	default:
		return false, fmt.Errorf("download s3://%s/%s: %w", bucket, key, retryErr)
	}
}

// parseArchiveFile makes two gunzip passes over the downloaded file,
// one per parser.
func (ing *Ingestor) parseArchiveFile(f *os.File) ([]entity.Traceback, []entity.ApiCall, error) {
	readPass := func() (*gzip.Reader, error) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return gzip.NewReader(f)
	}

	gz, err := readPass()
	if err != nil {
		return nil, nil, fmt.Errorf("gunzip: %w", err)
	}
	tracebacks, err := parse.ParseTracebacks(gz, ing.log)
	if err != nil {
		return nil, nil, err
	}
	gz.Close()

	gz, err = readPass()
	if err != nil {
		return nil, nil, fmt.Errorf("gunzip: %w", err)
	}
	defer gz.Close()
	calls, err := parse.ParseApiCalls(gz, ing.log)
	if err != nil {
		return nil, nil, err
	}
	return tracebacks, calls, nil
}

// persist enriches and writes one batch, then refreshes so the new
// documents are immediately searchable.
func (ing *Ingestor) persist(ctx context.Context, tracebacks []entity.Traceback, calls []entity.ApiCall) error {
	for _, tb := range tracebacks {
		if enriched, found := parse.EnrichProfileName(tb); found {
			tb = enriched
		}
		if err := ing.store.SaveTraceback(ctx, tb); err != nil {
			return fmt.Errorf("save traceback %s: %w", tb.OriginPapertrailID, err)
		}
	}
	if err := ing.store.BulkSaveApiCalls(ctx, calls); err != nil {
		return err
	}
	return ing.store.Refresh(ctx)
}

// statusCode digs the HTTP status out of an S3 error chain, 0 when the
// failure never reached a response.
func statusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
