// Package report renders aggregate snapshots as a standalone HTML document
// and as console summary tables.
package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
)

// DefaultTitle is used when Options.Title is empty
const DefaultTitle = "loglyzer report"

const (
	chartWidth  = 960
	chartHeight = 220
)

// Options controls rendering and export
type Options struct {
	Title string `yaml:"title,omitempty"`

	// S3 settings, used only for s3:// destinations
	S3Region    string `yaml:"s3_region,omitempty"`
	S3Endpoint  string `yaml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

type row struct {
	Label string
	Count uint64
	Share float64 // percent of the largest row, for bar widths
}

type bar struct {
	X, Y, W, H float64
	Start      string
	Count      uint64
}

type page struct {
	Title       string
	GeneratedAt string
	Snapshot    *stats.Snapshot
	BucketWidth time.Duration
	Statuses    []row
	IPs         []row
	Paths       []row
	Bars        []bar
	Peak        uint64
	Width       int
	Height      int
}

var funcs = template.FuncMap{
	"bytes": humanBytes,
	"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"num":   func(f float64) string { return fmt.Sprintf("%.2f", f) },
}

var tmpl = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:-apple-system,Helvetica,Arial,sans-serif;margin:2em;color:#222;background:#fafafa}
h1{margin-bottom:0}
.sub{color:#777;margin-top:.2em}
.cards{display:flex;gap:1em;flex-wrap:wrap;margin:1.5em 0}
.card{background:#fff;border:1px solid #ddd;border-radius:6px;padding:1em 1.4em;min-width:9em}
.card b{display:block;font-size:1.6em}
.card.warn b{color:#b3261e}
table{border-collapse:collapse;background:#fff;margin-bottom:2em;min-width:30em}
th,td{border-bottom:1px solid #eee;padding:.35em .8em;text-align:left}
td.n{text-align:right;font-variant-numeric:tabular-nums}
.bar{background:#3b7dd8;height:.8em;border-radius:2px}
svg rect{fill:#3b7dd8}
svg text{font-size:11px;fill:#555}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="sub">Generated {{.GeneratedAt}}</p>

<div class="cards">
<div class="card"><span>Requests</span><b>{{.Snapshot.TotalRecords}}</b></div>
<div class="card warn"><span>Unparsable</span><b>{{.Snapshot.Unparsable}}</b></div>
<div class="card"><span>Filtered</span><b>{{.Snapshot.Filtered}}</b></div>
<div class="card"><span>Bytes served</span><b>{{bytes .Snapshot.TotalBytes}}</b></div>
</div>

<h2>Requests per {{.BucketWidth}}</h2>
{{if .Bars}}<svg width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}" xmlns="http://www.w3.org/2000/svg">
{{range .Bars}}<rect x="{{num .X}}" y="{{num .Y}}" width="{{num .W}}" height="{{num .H}}"><title>{{.Start}}: {{.Count}}</title></rect>
{{end}}<text x="0" y="12">peak {{.Peak}}</text>
</svg>{{else}}<p>No requests.</p>{{end}}

<h2>Status codes</h2>
<table>
<tr><th>Status</th><th>Requests</th><th></th></tr>
{{range .Statuses}}<tr><td>{{.Label}}</td><td class="n">{{.Count}}</td><td><div class="bar" style="width:{{pct .Share}}"></div></td></tr>
{{else}}<tr><td colspan="3">None</td></tr>
{{end}}</table>

<h2>Top clients</h2>
<table>
<tr><th>IP</th><th>Requests</th><th></th></tr>
{{range .IPs}}<tr><td>{{.Label}}</td><td class="n">{{.Count}}</td><td><div class="bar" style="width:{{pct .Share}}"></div></td></tr>
{{else}}<tr><td colspan="3">None</td></tr>
{{end}}</table>

<h2>Top paths</h2>
<table>
<tr><th>Path</th><th>Requests</th><th></th></tr>
{{range .Paths}}<tr><td>{{.Label}}</td><td class="n">{{.Count}}</td><td><div class="bar" style="width:{{pct .Share}}"></div></td></tr>
{{else}}<tr><td colspan="3">None</td></tr>
{{end}}</table>
</body>
</html>
`))

// RenderHTML writes a self-contained HTML report of snap to w. The output
// depends only on its inputs.
func RenderHTML(w io.Writer, snap *stats.Snapshot, opts Options) error {
	if snap == nil {
		return fmt.Errorf("render report: nil snapshot")
	}
	if err := tmpl.Execute(w, buildPage(snap, opts)); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func buildPage(snap *stats.Snapshot, opts Options) page {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}

	p := page{
		Title:       title,
		GeneratedAt: snap.GeneratedAt.UTC().Format(time.RFC3339),
		Snapshot:    snap,
		BucketWidth: time.Duration(snap.BucketWidthSeconds) * time.Second,
		Peak:        snap.PeakBucket(),
		Width:       chartWidth,
		Height:      chartHeight,
	}

	for _, s := range snap.StatusHistogram() {
		p.Statuses = append(p.Statuses, row{Label: fmt.Sprintf("%d", s.Code), Count: s.Count})
	}
	for _, ip := range snap.TopIPs {
		p.IPs = append(p.IPs, row{Label: ip.IP, Count: ip.Count})
	}
	for _, path := range snap.TopPaths {
		p.Paths = append(p.Paths, row{Label: path.Path, Count: path.Count})
	}
	scale(p.Statuses)
	scale(p.IPs)
	scale(p.Paths)

	p.Bars = bars(snap.TimeSeries, p.Peak)
	return p
}

func scale(rows []row) {
	var max uint64
	for _, r := range rows {
		if r.Count > max {
			max = r.Count
		}
	}
	if max == 0 {
		return
	}
	for i := range rows {
		rows[i].Share = float64(rows[i].Count) / float64(max) * 100
	}
}

// bars lays the series out left to right; the tallest bar leaves room for
// the peak label
func bars(series []stats.Bucket, peak uint64) []bar {
	if len(series) == 0 || peak == 0 {
		return nil
	}

	const top = 16.0
	slot := float64(chartWidth) / float64(len(series))
	gap := slot * 0.1
	usable := float64(chartHeight) - top

	out := make([]bar, 0, len(series))
	for i, b := range series {
		h := float64(b.Count) / float64(peak) * usable
		out = append(out, bar{
			X:     float64(i)*slot + gap/2,
			Y:     float64(chartHeight) - h,
			W:     slot - gap,
			H:     h,
			Start: b.Start.UTC().Format(time.RFC3339),
			Count: b.Count,
		})
	}
	return out
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
