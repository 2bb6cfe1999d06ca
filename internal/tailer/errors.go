package tailer

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// TransientIOError is a read failure expected to clear by the next poll,
// such as the path missing in the middle of a rotation
type TransientIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient %s error on %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// FatalIOError stops the engine for its file
type FatalIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *FatalIOError) Error() string {
	return fmt.Sprintf("fatal %s error on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FatalIOError) Unwrap() error {
	return e.Err
}

// classify wraps err as fatal when retrying cannot help (permission denied,
// device gone) and as transient otherwise
func classify(path, op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EIO),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO):
		return &FatalIOError{Path: path, Op: op, Err: err}
	default:
		return &TransientIOError{Path: path, Op: op, Err: err}
	}
}

// IsFatal reports whether err stops an engine
func IsFatal(err error) bool {
	var fatal *FatalIOError
	return errors.As(err, &fatal)
}
