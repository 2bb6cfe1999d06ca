package types

import "time"

// LogRecord represents one parsed access-log line
type LogRecord struct {
	ClientIP      string    `json:"client_ip"`
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method,omitempty"`
	Path          string    `json:"path"`
	StatusCode    uint16    `json:"status_code"`
	ResponseBytes uint64    `json:"response_bytes"`
}

// FilePosition tracks the current read position in a followed file
type FilePosition struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Inode  uint64 `json:"inode"`
}

// IngestStats tracks how lines were routed through the pipeline
type IngestStats struct {
	Lines      int64 `json:"lines"`
	Admitted   int64 `json:"admitted"`
	Filtered   int64 `json:"filtered"`
	Unparsable int64 `json:"unparsable"`
}

// Add accumulates other into s
func (s *IngestStats) Add(other IngestStats) {
	s.Lines += other.Lines
	s.Admitted += other.Admitted
	s.Filtered += other.Filtered
	s.Unparsable += other.Unparsable
}
