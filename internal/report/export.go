package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/pool"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/reliability"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/tracing"
)

const (
	s3Scheme      = "s3://"
	contentType   = "text/html; charset=utf-8"
	defaultRegion = "us-east-1"
)

// Uploader is the part of the S3 client the exporter needs
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes rendered reports to a local path or an S3 object
type Exporter struct {
	opts     Options
	uploader Uploader
	retry    reliability.RetryConfig
	tracer   trace.Tracer
	logger   *logging.Logger
}

// ExporterOption customizes an Exporter
type ExporterOption func(*Exporter)

// WithUploader sets the client used for s3:// destinations instead of one
// built from the default AWS credential chain
func WithUploader(u Uploader) ExporterOption {
	return func(e *Exporter) { e.uploader = u }
}

// WithRetry sets how failed uploads are retried
func WithRetry(cfg reliability.RetryConfig) ExporterOption {
	return func(e *Exporter) { e.retry = cfg }
}

// WithTracer records a span per export
func WithTracer(t trace.Tracer) ExporterOption {
	return func(e *Exporter) { e.tracer = t }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) ExporterOption {
	return func(e *Exporter) { e.logger = l }
}

// NewExporter creates an exporter
func NewExporter(opts Options, options ...ExporterOption) *Exporter {
	e := &Exporter{
		opts:   opts,
		retry:  reliability.DefaultRetryConfig(),
		tracer: noop.NewTracerProvider().Tracer("report"),
		logger: logging.Nop(),
	}
	for _, o := range options {
		o(e)
	}
	e.logger = e.logger.WithComponent("report")
	return e
}

// Export renders snap and writes it to dest with default settings
func Export(ctx context.Context, dest string, snap *stats.Snapshot, opts Options) error {
	return NewExporter(opts).Export(ctx, dest, snap)
}

// Export renders snap and writes it to dest: either s3://bucket/key or a
// filesystem path. Local files are replaced atomically.
func (e *Exporter) Export(ctx context.Context, dest string, snap *stats.Snapshot) (err error) {
	if dest == "" {
		return fmt.Errorf("export report: empty destination")
	}

	ctx, span := tracing.TraceExport(ctx, e.tracer, dest)
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	if err := RenderHTML(buf, snap, e.opts); err != nil {
		return err
	}

	if strings.HasPrefix(dest, s3Scheme) {
		bucket, key, err := ParseS3URL(dest)
		if err != nil {
			return err
		}
		if err := e.upload(ctx, bucket, key, buf.Bytes()); err != nil {
			return err
		}
	} else if err := writeFileAtomic(dest, buf.Bytes()); err != nil {
		return err
	}

	e.logger.Info().
		Str("destination", dest).
		Int("bytes", buf.Len()).
		Msg("Exported report")
	return nil
}

func (e *Exporter) upload(ctx context.Context, bucket, key string, body []byte) error {
	if e.uploader == nil {
		client, err := NewS3Client(ctx, e.opts)
		if err != nil {
			return err
		}
		e.uploader = client
	}

	attempt := 0
	err := reliability.Retry(ctx, e.retry, func(ctx context.Context) error {
		attempt++
		_, err := e.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err == nil {
			return nil
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Msg("Report upload failed")

		var noBucket *s3types.NoSuchBucket
		if errors.As(err, &noBucket) {
			return reliability.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// NewS3Client builds an S3 client from the default AWS configuration chain
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	region := opts.S3Region
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if opts.S3Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
		})
	}
	if opts.S3PathStyle {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(cfg, s3opts...), nil
}

// ParseS3URL splits s3://bucket/key. Both parts must be non-empty.
func ParseS3URL(dest string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(dest, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 destination %q: want s3://bucket/key", dest)
	}
	return bucket, key, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
