// Package stats maintains the running summary of admitted access-log
// records. An Aggregator is written by one ingest path at a time and read
// concurrently through detached snapshots.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

const (
	// DefaultTopN is the number of IPs and paths surfaced in a snapshot
	DefaultTopN = 10
	// DefaultBucketWidth is the granularity of the request-count series
	DefaultBucketWidth = time.Minute

	// Series longer than this many buckets are emitted sparse
	maxDenseBuckets = 10080
)

// Config holds aggregator configuration
type Config struct {
	TopN        int
	BucketWidth time.Duration
	Clock       clock.Clock // stamps snapshots; defaults to the wall clock
}

type counter struct {
	count uint64
	seq   uint64 // first-seen order, breaks count ties
}

// Aggregator accumulates counts for every admitted record
type Aggregator struct {
	topN  int
	width time.Duration
	clock clock.Clock

	mu         sync.Mutex
	total      uint64
	unparsable uint64
	filtered   uint64
	totalBytes uint64
	statuses   map[uint16]uint64
	ips        map[string]*counter
	paths      map[string]*counter
	buckets    map[int64]uint64
	seq        uint64
}

// New creates an empty Aggregator
func New(cfg Config) *Aggregator {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = DefaultBucketWidth
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Aggregator{
		topN:     cfg.TopN,
		width:    cfg.BucketWidth,
		clock:    cfg.Clock,
		statuses: make(map[uint16]uint64),
		ips:      make(map[string]*counter),
		paths:    make(map[string]*counter),
		buckets:  make(map[int64]uint64),
	}
}

// Admit adds rec to every sub-aggregate
func (a *Aggregator) Admit(rec *types.LogRecord) {
	bucket := rec.Timestamp.UTC().Truncate(a.width).Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.totalBytes += rec.ResponseBytes
	a.statuses[rec.StatusCode]++
	a.buckets[bucket]++
	a.bump(a.ips, rec.ClientIP)
	a.bump(a.paths, rec.Path)
}

func (a *Aggregator) bump(m map[string]*counter, key string) {
	if c, ok := m[key]; ok {
		c.count++
		return
	}
	a.seq++
	m[key] = &counter{count: 1, seq: a.seq}
}

// RecordUnparsable counts a line the parser rejected
func (a *Aggregator) RecordUnparsable() {
	a.mu.Lock()
	a.unparsable++
	a.mu.Unlock()
}

// RecordFiltered counts a parsed record rejected by the time window
func (a *Aggregator) RecordFiltered() {
	a.mu.Lock()
	a.filtered++
	a.mu.Unlock()
}

// Totals returns the admitted and unparsable counts without building a
// full snapshot
func (a *Aggregator) Totals() (admitted, unparsable uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.unparsable
}

type entry struct {
	key string
	counter
}

type raw struct {
	total, unparsable, filtered, totalBytes uint64
	statuses                                map[uint16]uint64
	ips, paths                              []entry
	buckets                                 map[int64]uint64
}

// copyOut takes the flat copy a snapshot is built from. It is the only
// read path that holds the lock.
func (a *Aggregator) copyOut() raw {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := raw{
		total:      a.total,
		unparsable: a.unparsable,
		filtered:   a.filtered,
		totalBytes: a.totalBytes,
		statuses:   make(map[uint16]uint64, len(a.statuses)),
		ips:        make([]entry, 0, len(a.ips)),
		paths:      make([]entry, 0, len(a.paths)),
		buckets:    make(map[int64]uint64, len(a.buckets)),
	}
	for k, v := range a.statuses {
		r.statuses[k] = v
	}
	for k, v := range a.buckets {
		r.buckets[k] = v
	}
	for k, c := range a.ips {
		r.ips = append(r.ips, entry{key: k, counter: *c})
	}
	for k, c := range a.paths {
		r.paths = append(r.paths, entry{key: k, counter: *c})
	}
	return r
}

// Snapshot returns a detached point-in-time copy. Sorting and series
// construction happen after the lock is released.
func (a *Aggregator) Snapshot() *Snapshot {
	r := a.copyOut()

	snap := &Snapshot{
		GeneratedAt:        a.clock.Now().UTC(),
		TotalRecords:       r.total,
		Unparsable:         r.unparsable,
		Filtered:           r.filtered,
		TotalBytes:         r.totalBytes,
		StatusCodes:        r.statuses,
		BucketWidthSeconds: int64(a.width / time.Second),
	}

	for _, e := range topN(r.ips, a.topN) {
		snap.TopIPs = append(snap.TopIPs, IPCount{IP: e.key, Count: e.count})
	}
	for _, e := range topN(r.paths, a.topN) {
		snap.TopPaths = append(snap.TopPaths, PathCount{Path: e.key, Count: e.count})
	}
	snap.TimeSeries = series(r.buckets, a.width)

	if snap.TopIPs == nil {
		snap.TopIPs = []IPCount{}
	}
	if snap.TopPaths == nil {
		snap.TopPaths = []PathCount{}
	}

	return snap
}

// topN orders entries by count descending, then first-seen ascending
func topN(entries []entry, n int) []entry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].seq < entries[j].seq
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// series returns buckets in time order, filling empty buckets with zero
// counts between the first and last observed bucket
func series(buckets map[int64]uint64, width time.Duration) []Bucket {
	if len(buckets) == 0 {
		return []Bucket{}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	step := int64(width / time.Second)
	if step <= 0 {
		step = 1
	}
	first, last := keys[0], keys[len(keys)-1]

	if (last-first)/step+1 > maxDenseBuckets {
		out := make([]Bucket, 0, len(keys))
		for _, k := range keys {
			out = append(out, Bucket{Start: time.Unix(k, 0).UTC(), Count: buckets[k]})
		}
		return out
	}

	out := make([]Bucket, 0, (last-first)/step+1)
	for k := first; k <= last; k += step {
		out = append(out, Bucket{Start: time.Unix(k, 0).UTC(), Count: buckets[k]})
	}
	return out
}
