// Package faults defines the error taxonomy shared by every layer of the
// build: configuration mistakes, rejected stage input and filesystem or
// network failures. Typed errors unwrap to both their sentinel kind and the
// underlying cause, so callers can use errors.Is for the kind and errors.As
// for the details.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks bad paths, bad patterns, unknown tasks and other
	// mistakes in how the build is wired.
	ErrConfiguration = errors.New("configuration error")
	// ErrStage marks a transformation stage rejecting its input.
	ErrStage = errors.New("stage error")
	// ErrIO marks filesystem and network failures.
	ErrIO = errors.New("io error")
)

// Configf returns a configuration error with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StageError reports a stage failure for a specific task and file.
type StageError struct {
	Task  string
	Stage string
	File  string
	Err   error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: stage %q", e.Task, e.Stage)
	if e.File != "" {
		msg += fmt.Sprintf(" (%s)", e.File)
	}
	return msg + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error { return []error{ErrStage, e.Err} }

// Stage wraps err as a StageError unless it already is one or is an IO error.
func Stage(task, stage, file string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) || errors.Is(err, ErrIO) {
		return err
	}
	return &StageError{Task: task, Stage: stage, File: file, Err: err}
}

// IOError reports a filesystem or network failure on a path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// IO wraps err as an IOError. It returns nil for a nil err.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
