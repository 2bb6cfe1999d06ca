package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/filter"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/ingest"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/parser"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/pool"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/report"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
)

var accessLines = []string{
	`10.0.0.1 - - [15/Jan/2024:12:00:00 +0000] "GET /index.html HTTP/1.1" 200 512`,
	`10.0.0.2 - - [15/Jan/2024:12:00:01 +0000] "GET /api/users?id=7 HTTP/1.1" 200 1834`,
	`10.0.0.3 - - [15/Jan/2024:12:00:02 +0000] "POST /api/login HTTP/1.1" 401 64`,
	`10.0.0.1 - - [15/Jan/2024:12:00:03 +0000] "GET /missing HTTP/1.1" 404 -`,
	`garbage that matches nothing`,
}

func newPipeline(b *testing.B, window *filter.TimeWindow) (*ingest.Pipeline, *stats.Aggregator) {
	b.Helper()

	p, err := parser.New(nil)
	if err != nil {
		b.Fatal(err)
	}
	agg := stats.New(stats.Config{})

	pl, err := ingest.NewPipeline(ingest.PipelineConfig{
		Parser:     p,
		Window:     window,
		Aggregator: agg,
	})
	if err != nil {
		b.Fatal(err)
	}
	return pl, agg
}

// BenchmarkParserCommon benchmarks the default extraction pattern
func BenchmarkParserCommon(b *testing.B) {
	p, err := parser.New(nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if !p.Parse(accessLines[0]).Parsed() {
			b.Fatal("line did not parse")
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkParserCombined benchmarks the combined format preset
func BenchmarkParserCombined(b *testing.B) {
	p, err := parser.New(&parser.Config{Pattern: "combined"})
	if err != nil {
		b.Fatal(err)
	}

	line := accessLines[1] + ` "https://example.com/" "Mozilla/5.0 (X11; Linux x86_64)"`

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		p.Parse(line)
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
}

// BenchmarkPipeline benchmarks parse, filter and aggregate for mixed input
func BenchmarkPipeline(b *testing.B) {
	b.Run("Unbounded", func(b *testing.B) {
		pl, _ := newPipeline(b, nil)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			pl.Process(accessLines[i%len(accessLines)], "bench.log")
		}
		b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
	})

	b.Run("Windowed", func(b *testing.B) {
		window, err := filter.Parse("2024-01-15 12:00:01", "2024-01-15 12:00:02")
		if err != nil {
			b.Fatal(err)
		}
		pl, _ := newPipeline(b, window)
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			pl.Process(accessLines[i%len(accessLines)], "bench.log")
		}
		b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
	})
}

// BenchmarkParallelSources benchmarks several sources sharing one pipeline
func BenchmarkParallelSources(b *testing.B) {
	for _, sources := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("Sources-%d", sources), func(b *testing.B) {
			pl, _ := newPipeline(b, nil)
			b.ReportAllocs()
			b.SetParallelism(sources)
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					pl.Process(accessLines[i%len(accessLines)], "bench.log")
					i++
				}
			})
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
		})
	}
}

// populated returns an aggregator holding many distinct clients and paths
func populated(b *testing.B) *stats.Aggregator {
	b.Helper()
	pl, agg := newPipeline(b, nil)
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50000; i++ {
		ts := start.Add(time.Duration(i) * time.Second).Format(parser.DefaultTimeFormat)
		pl.Process(fmt.Sprintf(`10.0.%d.%d - - [%s] "GET /page/%d HTTP/1.1" %d 100`,
			i/256%256, i%256, ts, i%500, 200+i%5), "bench.log")
	}
	return agg
}

// BenchmarkSnapshot benchmarks building a snapshot from a busy aggregator
func BenchmarkSnapshot(b *testing.B) {
	agg := populated(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = agg.Snapshot()
	}
}

// BenchmarkSnapshotEncoding benchmarks JSON encoding of a snapshot
func BenchmarkSnapshotEncoding(b *testing.B) {
	snap := populated(b).Snapshot()

	b.Run("WithoutPool", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			data, err := json.Marshal(snap)
			if err != nil {
				b.Fatal(err)
			}
			_ = data
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			buf := pool.GetByteBuffer()
			if err := json.NewEncoder(buf).Encode(snap); err != nil {
				b.Fatal(err)
			}
			pool.PutByteBuffer(buf)
		}
	})
}

// BenchmarkRenderHTML benchmarks report rendering
func BenchmarkRenderHTML(b *testing.B) {
	snap := populated(b).Snapshot()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := report.RenderHTML(io.Discard, snap, report.Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
