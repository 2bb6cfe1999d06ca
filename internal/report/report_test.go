package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/reliability"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
)

func sampleSnapshot() *stats.Snapshot {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	return &stats.Snapshot{
		GeneratedAt:  start.Add(time.Hour),
		TotalRecords: 6,
		Unparsable:   2,
		Filtered:     1,
		TotalBytes:   5120,
		StatusCodes:  map[uint16]uint64{200: 4, 404: 1, 500: 1},
		TopIPs: []stats.IPCount{
			{IP: "10.0.0.1", Count: 4},
			{IP: "10.0.0.2", Count: 2},
		},
		TopPaths: []stats.PathCount{
			{Path: "/index.html", Count: 5},
			{Path: "/<script>", Count: 1},
		},
		TimeSeries: []stats.Bucket{
			{Start: start, Count: 4},
			{Start: start.Add(time.Minute), Count: 0},
			{Start: start.Add(2 * time.Minute), Count: 2},
		},
		BucketWidthSeconds: 60,
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, sampleSnapshot(), Options{Title: "Edge report"}))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Edge report</title>")
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "/index.html")
	assert.Contains(t, out, "404")
	assert.Contains(t, out, "5.0 KiB")
	assert.Contains(t, out, "Requests per 1m0s")
	assert.Equal(t, 3, strings.Count(out, "<rect "))
	assert.Contains(t, out, "peak 4")

	// User-controlled values are escaped
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "/&lt;script&gt;")

	// Self-contained: no external resources
	assert.NotContains(t, out, "<link")
	assert.NotContains(t, out, "src=")
}

func TestRenderHTML_Deterministic(t *testing.T) {
	snap := sampleSnapshot()

	var a, b bytes.Buffer
	require.NoError(t, RenderHTML(&a, snap, Options{}))
	require.NoError(t, RenderHTML(&b, snap, Options{}))
	assert.Equal(t, a.String(), b.String())
	assert.Contains(t, a.String(), "<title>"+DefaultTitle+"</title>")
}

func TestRenderHTML_Empty(t *testing.T) {
	agg := stats.New(stats.Config{})

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, agg.Snapshot(), Options{}))
	assert.Contains(t, buf.String(), "No requests.")
	assert.NotContains(t, buf.String(), "<rect ")
}

func TestRenderHTML_NilSnapshot(t *testing.T) {
	assert.Error(t, RenderHTML(io.Discard, nil, Options{}))
}

func TestBars(t *testing.T) {
	series := sampleSnapshot().TimeSeries
	out := bars(series, 4)
	require.Len(t, out, 3)

	assert.InDelta(t, float64(chartHeight)-16, out[0].H, 0.001)
	assert.Zero(t, out[1].H)
	assert.InDelta(t, out[0].H/2, out[2].H, 0.001)
	assert.Less(t, out[0].X, out[1].X)
	assert.Less(t, out[2].X+out[2].W, float64(chartWidth)+0.001)

	assert.Nil(t, bars(nil, 0))
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanBytes(tt.in), "humanBytes(%d)", tt.in)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleSnapshot()))
	out := buf.String()

	for _, want := range []string{"Admitted", "Unparsable", "Filtered", "500", "10.0.0.2", "/index.html"} {
		assert.Contains(t, out, want)
	}
}

func TestWriteSummary_AlwaysShowsUnparsable(t *testing.T) {
	agg := stats.New(stats.Config{})
	agg.RecordUnparsable()

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, agg.Snapshot()))
	assert.Contains(t, buf.String(), "Unparsable")
	assert.Contains(t, buf.String(), "Admitted")
}

type fakeUploader struct {
	calls int
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestExport_LocalFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "reports", "out.html")

	require.NoError(t, Export(context.Background(), dest, sampleSnapshot(), Options{}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10.0.0.1")

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExport_ReplacesExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.html")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0644))

	require.NoError(t, Export(context.Background(), dest, sampleSnapshot(), Options{}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
}

func TestExport_S3(t *testing.T) {
	up := &fakeUploader{}
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	e := NewExporter(Options{}, WithUploader(up), WithTracer(tp.Tracer("test")))
	require.NoError(t, e.Export(context.Background(), "s3://reports/daily/index.html", sampleSnapshot()))

	require.NotNil(t, up.input)
	assert.Equal(t, "reports", *up.input.Bucket)
	assert.Equal(t, "daily/index.html", *up.input.Key)
	assert.Equal(t, contentType, *up.input.ContentType)
	assert.Equal(t, int64(len(up.body)), *up.input.ContentLength)
	assert.Contains(t, string(up.body), "<!DOCTYPE html>")

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "report.export", spans[0].Name())
}

func TestExport_S3Failure(t *testing.T) {
	boom := errors.New("access denied")
	up := &fakeUploader{err: boom}
	e := NewExporter(Options{},
		WithUploader(up),
		WithRetry(reliability.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond}),
	)

	err := e.Export(context.Background(), "s3://reports/index.html", sampleSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, reliability.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, up.calls)
}

func TestExport_S3MissingBucketNotRetried(t *testing.T) {
	up := &fakeUploader{err: &s3types.NoSuchBucket{Message: aws.String("bucket does not exist")}}
	e := NewExporter(Options{},
		WithUploader(up),
		WithRetry(reliability.RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}),
	)

	err := e.Export(context.Background(), "s3://gone/index.html", sampleSnapshot())
	require.Error(t, err)

	var noBucket *s3types.NoSuchBucket
	assert.ErrorAs(t, err, &noBucket)
	assert.NotErrorIs(t, err, reliability.ErrMaxRetriesExceeded)
	assert.Equal(t, 1, up.calls)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{in: "s3://b/k.html", bucket: "b", key: "k.html"},
		{in: "s3://b/a/b/c.html", bucket: "b", key: "a/b/c.html"},
		{in: "s3://b", wantErr: true},
		{in: "s3://b/", wantErr: true},
		{in: "s3:///k", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestExport_EmptyDestination(t *testing.T) {
	assert.Error(t, Export(context.Background(), "", sampleSnapshot(), Options{}))
}
