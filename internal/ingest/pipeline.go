// Package ingest routes raw lines through parse, filter and aggregation, and
// drives one-shot batch runs over a fixed set of files.
package ingest

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/dlq"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/filter"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/parser"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

// Outcome labels for a routed line
const (
	Admitted   = metrics.OutcomeAdmitted
	Filtered   = metrics.OutcomeFiltered
	Unparsable = metrics.OutcomeUnparsable
)

// PipelineConfig holds the stages a line passes through. Parser and
// Aggregator are required.
type PipelineConfig struct {
	Parser     *parser.Parser
	Window     *filter.TimeWindow
	Aggregator *stats.Aggregator
	Metrics    *metrics.Collector
	Rejects    *dlq.DeadLetterQueue
	Logger     *logging.Logger
	Echo       io.Writer  // receives every admitted line when set
	WarnRate   rate.Limit // unparsable-line warnings per second; 0 for 1/s
}

// Pipeline is the single write path into an Aggregator. Process calls are
// serialized, so several sources may share one pipeline.
type Pipeline struct {
	parser  *parser.Parser
	window  *filter.TimeWindow
	agg     *stats.Aggregator
	metrics *metrics.Collector
	rejects *dlq.DeadLetterQueue
	logger  *logging.Logger
	echo    io.Writer
	warn    *rate.Limiter

	mu         sync.Mutex
	counts     types.IngestStats
	suppressed int64
}

// NewPipeline validates cfg and builds a pipeline
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("pipeline requires a parser")
	}
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("pipeline requires an aggregator")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.WarnRate <= 0 {
		cfg.WarnRate = 1
	}

	return &Pipeline{
		parser:  cfg.Parser,
		window:  cfg.Window,
		agg:     cfg.Aggregator,
		metrics: cfg.Metrics,
		rejects: cfg.Rejects,
		logger:  cfg.Logger.WithComponent("pipeline"),
		echo:    cfg.Echo,
		warn:    rate.NewLimiter(cfg.WarnRate, 5),
	}, nil
}

// Process routes one line read from source
func (p *Pipeline) Process(line, source string) {
	p.route(line, source)
}

// route returns which outcome the line produced
func (p *Pipeline) route(line, source string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts.Lines++

	start := time.Now()
	out := p.parser.Parse(line)
	p.metrics.ObserveParse(p.parser.Name(), time.Since(start))

	if !out.Parsed() {
		p.counts.Unparsable++
		p.agg.RecordUnparsable()
		p.metrics.ObserveLine(source, Unparsable)
		p.reject(source, out.Failure)
		return Unparsable
	}

	if !p.window.Admit(out.Record) {
		p.counts.Filtered++
		p.agg.RecordFiltered()
		p.metrics.ObserveLine(source, Filtered)
		return Filtered
	}

	p.counts.Admitted++
	p.agg.Admit(out.Record)
	p.metrics.ObserveLine(source, Admitted)

	if p.echo != nil {
		if _, err := io.WriteString(p.echo, strings.TrimRight(line, "\r\n")+"\n"); err != nil {
			p.logger.Debug().Err(err).Msg("Failed to echo line")
		}
	}

	return Admitted
}

func (p *Pipeline) reject(source string, failure *parser.ParseFailure) {
	if p.rejects != nil {
		if err := p.rejects.Enqueue(source, failure.Line, failure.Reason); err != nil {
			p.logger.Debug().Err(err).Msg("Failed to write reject entry")
		} else {
			p.metrics.ObserveReject()
		}
	}

	if !p.warn.Allow() {
		p.suppressed++
		return
	}

	evt := p.logger.Warn().
		Str("source", source).
		Str("reason", failure.Reason)
	if p.suppressed > 0 {
		evt = evt.Int64("suppressed", p.suppressed)
		p.suppressed = 0
	}
	evt.Msg("Unparsable line")
}

// Stats returns how every line so far was routed
func (p *Pipeline) Stats() types.IngestStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// Aggregator returns the aggregator the pipeline writes to
func (p *Pipeline) Aggregator() *stats.Aggregator {
	return p.agg
}
