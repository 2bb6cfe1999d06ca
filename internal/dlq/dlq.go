// Package dlq keeps a dead-letter file of lines the parser rejected, one
// JSON object per line, so unparsable input can be inspected after a run.
package dlq

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDLQClosed = errors.New("reject file is closed")
	ErrDLQFull   = errors.New("reject file is full")
)

// DLQConfig holds configuration for the reject file
type DLQConfig struct {
	Path          string
	MaxEntries    int64 // Entries beyond this are counted and dropped; 0 for no limit
	FlushInterval time.Duration
}

// Entry is one rejected line
type Entry struct {
	Timestamp time.Time `json:"time"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Line      string    `json:"line"`
}

// DeadLetterQueue appends rejected lines to a file
type DeadLetterQueue struct {
	config DLQConfig

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	enc     *json.Encoder
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewDeadLetterQueue opens (or creates) the reject file for appending
func NewDeadLetterQueue(config DLQConfig) (*DeadLetterQueue, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("reject file path is required")
	}

	if config.FlushInterval == 0 {
		config.FlushInterval = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create reject directory: %w", err)
	}

	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open reject file: %w", err)
	}

	w := bufio.NewWriter(file)
	dlq := &DeadLetterQueue{
		config:  config,
		file:    file,
		w:       w,
		enc:     json.NewEncoder(w),
		closeCh: make(chan struct{}),
	}
	dlq.enc.SetEscapeHTML(false)

	dlq.wg.Add(1)
	go dlq.flushLoop()

	return dlq, nil
}

// Enqueue records one rejected line. A nil queue discards it.
func (dlq *DeadLetterQueue) Enqueue(source, line, reason string) error {
	if dlq == nil {
		return nil
	}

	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	if dlq.config.MaxEntries > 0 && int64(dlq.enqueued.Load()) >= dlq.config.MaxEntries {
		dlq.dropped.Add(1)
		return ErrDLQFull
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Reason:    reason,
		Line:      line,
	}
	if err := dlq.enc.Encode(&entry); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	dlq.enqueued.Add(1)
	return nil
}

// Flush writes buffered entries to disk
func (dlq *DeadLetterQueue) Flush() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}
	return dlq.w.Flush()
}

// Close flushes remaining entries and closes the file
func (dlq *DeadLetterQueue) Close() error {
	dlq.mu.Lock()
	if dlq.closed {
		dlq.mu.Unlock()
		return ErrDLQClosed
	}
	dlq.closed = true
	close(dlq.closeCh)
	dlq.mu.Unlock()

	dlq.wg.Wait()

	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if err := dlq.w.Flush(); err != nil {
		dlq.file.Close()
		return fmt.Errorf("failed to flush reject file: %w", err)
	}
	return dlq.file.Close()
}

// Metrics returns reject file statistics
func (dlq *DeadLetterQueue) Metrics() DLQMetrics {
	return DLQMetrics{
		Enqueued:   dlq.enqueued.Load(),
		Dropped:    dlq.dropped.Load(),
		MaxEntries: dlq.config.MaxEntries,
	}
}

// Path returns the reject file location
func (dlq *DeadLetterQueue) Path() string {
	return dlq.config.Path
}

// flushLoop periodically flushes buffered entries
func (dlq *DeadLetterQueue) flushLoop() {
	defer dlq.wg.Done()

	ticker := time.NewTicker(dlq.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dlq.mu.Lock()
			if !dlq.closed {
				_ = dlq.w.Flush()
			}
			dlq.mu.Unlock()
		case <-dlq.closeCh:
			return
		}
	}
}

// ReadEntries decodes every entry in a reject file
func ReadEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reject file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// DLQMetrics holds reject file statistics
type DLQMetrics struct {
	Enqueued   uint64
	Dropped    uint64
	MaxEntries int64
}

// Utilization returns the fill percentage (0-100), or 0 when unbounded
func (m DLQMetrics) Utilization() float64 {
	if m.MaxEntries == 0 {
		return 0
	}
	return (float64(m.Enqueued) / float64(m.MaxEntries)) * 100.0
}
