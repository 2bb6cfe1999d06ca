// Package tailer follows a single growing file by polling, surviving
// rename-based rotation and in-place truncation.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

const (
	// DefaultPollInterval is how often the file is re-checked
	DefaultPollInterval = time.Second
	// DefaultMaxLineBytes bounds the carried fragment; longer lines are
	// delivered in pieces
	DefaultMaxLineBytes = 1 << 20

	readChunkSize = 64 * 1024
)

// State of a tail engine
type State int

const (
	StateOpening State = iota
	StateTailing
	StateReopening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateTailing:
		return "tailing"
	case StateReopening:
		return "reopening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives every complete line, in file order
type Sink interface {
	Process(line, source string)
}

// Config holds tail engine configuration
type Config struct {
	Path         string
	PollInterval time.Duration
	FromStart    bool // deliver existing content instead of starting at end of file
	MaxLineBytes int
	Clock        clock.Clock
}

// Status is a point-in-time view of an engine
type Status struct {
	Path        string
	State       State
	Offset      int64
	Inode       uint64
	Rotations   int64
	Truncations int64
	LastError   error
	Fatal       bool
}

// Engine tails one file. Run drives it from a single goroutine; Status may
// be called from anywhere.
type Engine struct {
	cfg     Config
	sink    Sink
	logger  *logging.Logger
	metrics *metrics.Collector

	// owned by the polling goroutine
	file     *os.File
	info     os.FileInfo
	carry    []byte
	buf      []byte
	attempts int

	mu   sync.RWMutex
	pos  types.FilePosition
	st   State
	rot  int64
	trn  int64
	err  error
	dead bool
}

// New creates an engine for cfg.Path
func New(cfg Config, sink Sink, logger *logging.Logger, m *metrics.Collector) (*Engine, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("tail path is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("tail sink is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Engine{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.WithComponent("tailer").WithSource(cfg.Path),
		metrics: m,
		buf:     make([]byte, readChunkSize),
		pos:     types.FilePosition{Path: cfg.Path},
		st:      StateOpening,
	}, nil
}

// Path returns the followed path
func (e *Engine) Path() string {
	return e.cfg.Path
}

// Run polls until ctx is cancelled or a fatal error occurs. It returns nil
// on cancellation and a *FatalIOError otherwise. The file handle is closed
// before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.cfg.Clock.Ticker(e.cfg.PollInterval)
	defer ticker.Stop()
	defer e.stop()

	e.logger.Info().
		Dur("poll_interval", e.cfg.PollInterval).
		Bool("from_start", e.cfg.FromStart).
		Msg("Following file")

	if err := e.poll(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.poll(); err != nil {
				return err
			}
		}
	}
}

// poll runs one state machine step. Only fatal errors are returned;
// transient ones are recorded and retried on the next tick.
func (e *Engine) poll() error {
	var err error

	switch e.State() {
	case StateOpening:
		err = e.open(e.attempts == 0 && !e.cfg.FromStart)
		e.attempts++
		if err == nil {
			err = e.readAvailable()
		}
	case StateReopening:
		err = e.reopen()
	case StateTailing:
		err = e.check()
	case StateStopped:
		return nil
	}

	e.publish()

	if err == nil {
		e.setErr(nil)
		return nil
	}

	e.setErr(err)
	if IsFatal(err) {
		e.metrics.ObserveTailError(e.cfg.Path, "fatal")
		e.logger.Error().Err(err).Msg("Giving up on file")
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
		return err
	}

	e.metrics.ObserveTailError(e.cfg.Path, "transient")
	e.logger.Warn().Err(err).Str("state", e.State().String()).Msg("Transient tail error, retrying next poll")
	return nil
}

// open opens the path and records its identity. atEnd skips content that
// already exists.
func (e *Engine) open(atEnd bool) error {
	file, err := os.Open(e.cfg.Path)
	if err != nil {
		return classify(e.cfg.Path, "open", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return classify(e.cfg.Path, "stat", err)
	}

	var offset int64
	if atEnd {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return classify(e.cfg.Path, "seek", err)
		}
	}

	e.file = file
	e.info = info
	e.carry = e.carry[:0]

	e.mu.Lock()
	e.pos.Offset = offset
	e.pos.Inode = getInode(info)
	e.st = StateTailing
	e.mu.Unlock()

	e.logger.Info().
		Int64("offset", offset).
		Uint64("inode", getInode(info)).
		Msg("Opened file")
	return nil
}

// reopen replaces the handle with a fresh one at offset zero and reads
// whatever the new file already holds
func (e *Engine) reopen() error {
	e.closeFile()
	if err := e.open(false); err != nil {
		return err
	}
	return e.readAvailable()
}

// check compares the path against the open handle and reads new content
func (e *Engine) check() error {
	cur, err := os.Stat(e.cfg.Path)
	if err != nil {
		// Path gone, usually mid-rotation. Keep the old handle; content
		// written to it before the rename is drained once the new file
		// shows up.
		return classify(e.cfg.Path, "stat", err)
	}

	offset := e.Offset()

	switch {
	case !os.SameFile(e.info, cur):
		if err := e.readAvailable(); err != nil && IsFatal(err) {
			return err
		}
		e.rotate("rotation", cur)
		return e.reopen()

	case cur.Size() < offset:
		e.rotate("truncation", cur)
		return e.reopen()

	case cur.Size() > offset:
		return e.readAvailable()
	}

	return nil
}

// rotate moves to Reopening and drops the carried fragment
func (e *Engine) rotate(reason string, cur os.FileInfo) {
	dropped := len(e.carry)
	e.carry = e.carry[:0]

	e.mu.Lock()
	e.st = StateReopening
	if reason == "rotation" {
		e.rot++
	} else {
		e.trn++
	}
	prev := e.pos.Offset
	e.mu.Unlock()

	e.metrics.ObserveReopen(e.cfg.Path, reason)
	e.logger.Info().
		Str("reason", reason).
		Int64("previous_offset", prev).
		Int64("size", cur.Size()).
		Uint64("inode", getInode(cur)).
		Int("dropped_fragment_bytes", dropped).
		Msg("File replaced, reopening")
}

// readAvailable reads from the handle to EOF, delivering complete lines
func (e *Engine) readAvailable() error {
	for {
		n, err := e.file.Read(e.buf)
		if n > 0 {
			e.mu.Lock()
			e.pos.Offset += int64(n)
			e.mu.Unlock()
			e.metrics.AddBytes(e.cfg.Path, n)
			e.deliver(e.buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(e.cfg.Path, "read", err)
		}
		if n == 0 {
			return nil
		}
	}
}

// deliver splits chunk on newlines, prefixing the carried fragment. The
// trailing incomplete piece is carried to the next read.
func (e *Engine) deliver(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			e.carry = append(e.carry, chunk...)
			break
		}

		if len(e.carry) > 0 {
			e.carry = append(e.carry, chunk[:i]...)
			e.sink.Process(string(e.carry), e.cfg.Path)
			e.carry = e.carry[:0]
		} else {
			e.sink.Process(string(chunk[:i]), e.cfg.Path)
		}
		chunk = chunk[i+1:]
	}

	if len(e.carry) > e.cfg.MaxLineBytes {
		e.logger.Warn().Int("bytes", len(e.carry)).Msg("Line exceeds maximum length, delivering partial line")
		e.sink.Process(string(e.carry), e.cfg.Path)
		e.carry = e.carry[:0]
	}
}

func (e *Engine) closeFile() {
	if e.file != nil {
		e.file.Close()
		e.file = nil
	}
}

func (e *Engine) stop() {
	e.closeFile()
	e.carry = nil

	e.mu.Lock()
	e.st = StateStopped
	e.mu.Unlock()

	e.publish()
	e.logger.Info().Msg("Stopped following file")
}

func (e *Engine) publish() {
	e.mu.RLock()
	state, offset := e.st, e.pos.Offset
	e.mu.RUnlock()
	e.metrics.SetTailPosition(e.cfg.Path, int(state), offset)
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st
}

// Offset returns the number of bytes consumed from the current file
func (e *Engine) Offset() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pos.Offset
}

// Status returns a snapshot of the engine bookkeeping
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Path:        e.pos.Path,
		State:       e.st,
		Offset:      e.pos.Offset,
		Inode:       e.pos.Inode,
		Rotations:   e.rot,
		Truncations: e.trn,
		LastError:   e.err,
		Fatal:       e.dead,
	}
}
