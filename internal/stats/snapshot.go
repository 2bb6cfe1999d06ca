package stats

import (
	"sort"
	"time"
)

// IPCount is one entry of the top client list
type IPCount struct {
	IP    string `json:"ip"`
	Count uint64 `json:"count"`
}

// PathCount is one entry of the top path list
type PathCount struct {
	Path  string `json:"path"`
	Count uint64 `json:"count"`
}

// Bucket is one point of the request-count series
type Bucket struct {
	Start time.Time `json:"bucket_start"`
	Count uint64    `json:"count"`
}

// StatusCount is one row of the status-code histogram
type StatusCount struct {
	Code  uint16
	Count uint64
}

// Snapshot is an immutable copy of aggregate state. It shares nothing with
// the Aggregator that produced it.
type Snapshot struct {
	GeneratedAt        time.Time         `json:"generated_at"`
	TotalRecords       uint64            `json:"total_records"`
	Unparsable         uint64            `json:"unparsable"`
	Filtered           uint64            `json:"filtered"`
	TotalBytes         uint64            `json:"total_bytes"`
	StatusCodes        map[uint16]uint64 `json:"status_codes"`
	TopIPs             []IPCount         `json:"top_ips"`
	TopPaths           []PathCount       `json:"top_paths"`
	TimeSeries         []Bucket          `json:"time_series"`
	BucketWidthSeconds int64             `json:"bucket_width_seconds"`
}

// LinesSeen is every line accounted for: admitted, filtered and unparsable
func (s *Snapshot) LinesSeen() uint64 {
	return s.TotalRecords + s.Filtered + s.Unparsable
}

// StatusHistogram returns the status codes in ascending order
func (s *Snapshot) StatusHistogram() []StatusCount {
	out := make([]StatusCount, 0, len(s.StatusCodes))
	for code, n := range s.StatusCodes {
		out = append(out, StatusCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// PeakBucket returns the largest bucket count in the series
func (s *Snapshot) PeakBucket() uint64 {
	var peak uint64
	for _, b := range s.TimeSeries {
		if b.Count > peak {
			peak = b.Count
		}
	}
	return peak
}
