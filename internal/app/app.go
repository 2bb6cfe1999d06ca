// Package app wires the analyzer together for batch and follow runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/config"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/dlq"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/filter"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/health"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/ingest"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/parser"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/profiling"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/report"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/server"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/source"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/tailer"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/tracing"
)

const (
	systemMetricsInterval = 15 * time.Second
	healthCheckTimeout    = 5 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Options adjusts the environment an App runs in
type Options struct {
	Stdout io.Writer // summaries and echoed lines; defaults to os.Stdout

	// ServeAddress overrides the address derived from the configured port,
	// e.g. "127.0.0.1:0"
	ServeAddress string

	Clock clock.Clock // drives tail engine polling
}

// App is one configured run of the analyzer
type App struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger

	metrics  *metrics.Collector
	tracing  *tracing.Provider
	agg      *stats.Aggregator
	pipeline *ingest.Pipeline
	rejects  *dlq.DeadLetterQueue
	health   *health.Checker
	server   *server.Server
	exporter *report.Exporter
	profiler *profiling.Profiler
	shutdown *shutdown.Manager

	ready     chan struct{}
	readyOnce sync.Once
}

// New builds every component from cfg. Pattern, filter and tracing problems
// surface here, before any input is touched.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	p, err := parser.New(&parser.Config{Pattern: cfg.Pattern, TimeFormat: cfg.TimeFormat})
	if err != nil {
		return nil, err
	}

	window, err := filter.Parse(cfg.Since, cfg.Until)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &App{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		tracing:  tp,
		ready:    make(chan struct{}),
		shutdown: shutdown.New(shutdown.Config{Timeout: shutdownTimeout, Logger: logger}),
	}
	a.shutdown.RegisterFunc("tracing", tp.Shutdown)

	a.agg = stats.New(stats.Config{TopN: cfg.TopN, BucketWidth: cfg.BucketWidth})

	if cfg.RejectFile != "" {
		a.rejects, err = dlq.NewDeadLetterQueue(dlq.DLQConfig{
			Path:       cfg.RejectFile,
			MaxEntries: cfg.RejectMaxEntries,
		})
		if err != nil {
			a.shutdown.Shutdown()
			return nil, err
		}
		a.shutdown.RegisterFunc("reject-file", func(context.Context) error {
			return a.rejects.Close()
		})
	}

	pcfg := ingest.PipelineConfig{
		Parser:     p,
		Window:     window,
		Aggregator: a.agg,
		Metrics:    a.metrics,
		Rejects:    a.rejects,
		Logger:     logger,
	}
	if cfg.Follow && cfg.Echo {
		pcfg.Echo = opts.Stdout
	}
	a.pipeline, err = ingest.NewPipeline(pcfg)
	if err != nil {
		a.shutdown.Shutdown()
		return nil, err
	}

	a.health = health.NewChecker(healthCheckTimeout, a.metrics)
	a.health.Register("pipeline", a.pipeline.HealthCheck())

	addr := opts.ServeAddress
	if addr == "" {
		addr = cfg.ServeAddress()
	}
	if addr != "" {
		a.server, err = server.New(server.Config{
			Address:       addr,
			DataPath:      cfg.ServePath,
			Source:        a.agg,
			Registry:      a.metrics.Registry(),
			HealthChecker: a.health,
			Metrics:       a.metrics,
			Tracer:        tp.Tracer(),
			Logger:        logger,
			Profiling:     cfg.Profiling.HTTP,
		})
		if err != nil {
			a.shutdown.Shutdown()
			return nil, err
		}
	}

	a.profiler = profiling.New(profiling.Config{
		CPUProfilePath: cfg.Profiling.CPUProfile,
		MemProfilePath: cfg.Profiling.MemProfile,
		HTTP:           cfg.Profiling.HTTP,
	}, logger)

	a.exporter = report.NewExporter(report.Options{
		Title:       cfg.Report.Title,
		S3Region:    cfg.Report.S3Region,
		S3Endpoint:  cfg.Report.S3Endpoint,
		S3PathStyle: cfg.Report.S3PathStyle,
	}, report.WithTracer(tp.Tracer()), report.WithLogger(logger))

	logger.Info().
		Str("parser", p.Name()).
		Str("window", window.String()).
		Bool("follow", cfg.Follow).
		Msg("Analyzer configured")

	return a, nil
}

// Run resolves the inputs and runs in batch or follow mode. Shutdown steps
// run before it returns.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := a.shutdown.Shutdown(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	paths, err := a.resolve()
	if err != nil {
		return err
	}

	if err := a.profiler.Start(); err != nil {
		return err
	}
	a.shutdown.RegisterFunc("profiling", func(context.Context) error {
		return a.profiler.Stop()
	})

	a.metrics.Start(systemMetricsInterval)
	a.shutdown.RegisterFunc("metrics", func(context.Context) error {
		a.metrics.Stop()
		return nil
	})

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
		a.shutdown.RegisterComponent(a.server)
	}

	if a.cfg.Follow {
		return a.follow(ctx, paths)
	}
	return a.batch(ctx, paths)
}

func (a *App) resolve() ([]string, error) {
	if a.cfg.Follow {
		return source.Targets(a.cfg.Inputs)
	}

	res, err := source.Enumerate(a.cfg.Inputs)
	if err != nil {
		return nil, err
	}
	for _, pattern := range res.Unmatched {
		a.logger.Warn().Str("pattern", pattern).Msg("Input pattern matched no files")
	}
	return res.Paths, nil
}

func (a *App) batch(ctx context.Context, paths []string) error {
	a.markReady()

	b := ingest.NewBatch(ingest.BatchConfig{
		Pipeline: a.pipeline,
		Metrics:  a.metrics,
		Tracer:   a.tracing.Tracer(),
		Logger:   a.logger,
	})

	summary, err := b.Run(ctx, paths)
	interrupted := err != nil && ctx.Err() != nil
	if err != nil && !interrupted {
		return err
	}

	evt := a.logger.Info()
	if interrupted {
		evt = a.logger.Warn()
	}
	evt.Int("files", len(summary.Files)).
		Int("files_failed", summary.FilesFailed).
		Int64("lines", summary.Totals.Lines).
		Int64("admitted", summary.Totals.Admitted).
		Int64("filtered", summary.Totals.Filtered).
		Int64("unparsable", summary.Totals.Unparsable).
		Dur("duration", summary.Duration).
		Bool("interrupted", interrupted).
		Msg("Batch complete")

	if err := a.finish(ctx); err != nil {
		return err
	}

	if a.server != nil && !interrupted {
		a.logger.Info().Str("address", a.server.Addr()).Msg("Serving final snapshot until interrupted")
		<-ctx.Done()
	}
	return nil
}

func (a *App) follow(ctx context.Context, paths []string) error {
	engines := make([]*tailer.Engine, 0, len(paths))
	for _, path := range paths {
		e, err := tailer.New(tailer.Config{
			Path:         path,
			PollInterval: a.cfg.PollInterval,
			FromStart:    a.cfg.FromStart,
			Clock:        a.opts.Clock,
		}, a.pipeline, a.logger, a.metrics)
		if err != nil {
			return err
		}
		a.health.Register("tail:"+path, e.HealthCheck())
		engines = append(engines, e)
	}

	var (
		mu    sync.Mutex
		fatal []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		g.Go(func() error {
			if err := e.Run(gctx); err != nil {
				// One file failing never stops the others or the server
				mu.Lock()
				fatal = append(fatal, err)
				mu.Unlock()
			}
			return nil
		})
	}
	a.markReady()

	a.logger.Info().Int("files", len(engines)).Msg("Following files")
	g.Wait()

	if ctx.Err() == nil {
		// Every engine gave up
		if a.server == nil {
			a.finish(ctx)
			return fmt.Errorf("no followable files: %w", errors.Join(fatal...))
		}
		a.logger.Error().Msg("All followed files failed, still serving last snapshot")
		<-ctx.Done()
	}

	return a.finish(ctx)
}

// finish prints the summary and writes the HTML report
func (a *App) finish(ctx context.Context) error {
	snap := a.agg.Snapshot()

	if err := report.WriteSummary(a.opts.Stdout, snap); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write summary")
	}

	if a.rejects != nil {
		m := a.rejects.Metrics()
		evt := a.logger.Info()
		if m.Dropped > 0 {
			evt = a.logger.Warn()
		}
		evt.Str("path", a.cfg.RejectFile).
			Uint64("written", m.Enqueued).
			Uint64("dropped", m.Dropped).
			Float64("utilization", m.Utilization()).
			Msg("Reject file summary")
	}

	if a.cfg.ExportHTML == "" {
		return nil
	}

	// The run context may already be cancelled in follow mode
	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return a.exporter.Export(exportCtx, a.cfg.ExportHTML, snap)
}

func (a *App) markReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// Ready is closed once inputs are resolved and the stats server, if any, is
// listening
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// ServerAddr returns the stats server address, "" when not serving
func (a *App) ServerAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Aggregator returns the aggregator every source feeds
func (a *App) Aggregator() *stats.Aggregator {
	return a.agg
}
