package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/tracing"
	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

// cancellation is checked every this many lines
const ctxCheckInterval = 4096

// FileResult describes one file of a batch run
type FileResult struct {
	Path  string
	Bytes int64
	Stats types.IngestStats
	Err   error
}

// Summary is the outcome of a batch run
type Summary struct {
	Files       []FileResult
	FilesFailed int
	Totals      types.IngestStats
	Duration    time.Duration
}

// BatchConfig holds batch driver dependencies
type BatchConfig struct {
	Pipeline *Pipeline
	Metrics  *metrics.Collector
	Tracer   trace.Tracer
	Logger   *logging.Logger
}

// Batch reads a fixed set of files once, in order
type Batch struct {
	pipeline *Pipeline
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *logging.Logger
}

// NewBatch creates a batch driver
func NewBatch(cfg BatchConfig) *Batch {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Batch{
		pipeline: cfg.Pipeline,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger.WithComponent("batch"),
	}
}

// Run ingests paths sequentially. A file that cannot be opened is logged and
// skipped; only cancellation aborts the run.
func (b *Batch) Run(ctx context.Context, paths []string) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Files: make([]FileResult, 0, len(paths))}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res := b.ingestFile(ctx, path)
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			summary.Files = append(summary.Files, res)
			summary.Totals.Add(res.Stats)
			return summary, res.Err
		}

		if res.Err != nil {
			summary.FilesFailed++
			b.metrics.ObserveFile("failed")
			b.logger.Error().Err(res.Err).Str("path", path).Msg("Skipping file")
		} else {
			b.metrics.ObserveFile("ok")
			b.logger.Debug().
				Str("path", path).
				Int64("bytes", res.Bytes).
				Int64("lines", res.Stats.Lines).
				Int64("unparsable", res.Stats.Unparsable).
				Msg("File ingested")
		}

		summary.Files = append(summary.Files, res)
		summary.Totals.Add(res.Stats)
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// ingestFile reads path up to the size it had when opened
func (b *Batch) ingestFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path}

	file, err := os.Open(path)
	if err != nil {
		res.Err = fmt.Errorf("failed to open file: %w", err)
		return res
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		res.Err = fmt.Errorf("failed to stat file: %w", err)
		return res
	}
	size := info.Size()

	ctx, span := tracing.TraceIngestFile(ctx, b.tracer, path, size)
	defer span.End()

	reader := bufio.NewReaderSize(io.LimitReader(file, size), 64*1024)
	var n int64

	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			res.Bytes += int64(len(line))
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			tally(&res.Stats, b.pipeline.route(line, path))

			n++
			if n%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					res.Err = err
					break
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			res.Err = fmt.Errorf("failed to read file: %w", readErr)
			break
		}
	}

	b.metrics.AddBytes(path, int(res.Bytes))
	tracing.RecordLines(ctx, res.Stats)
	if res.Err != nil {
		tracing.RecordError(ctx, res.Err)
	}

	return res
}

func tally(s *types.IngestStats, outcome string) {
	s.Lines++
	switch outcome {
	case Admitted:
		s.Admitted++
	case Filtered:
		s.Filtered++
	case Unparsable:
		s.Unparsable++
	}
}
