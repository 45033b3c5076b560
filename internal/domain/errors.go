package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrLoad              = errors.New("load failed")
	ErrEmbedding         = errors.New("embedding failed")
	ErrIndex             = errors.New("vector index failure")
	ErrRewrite           = errors.New("query rewrite failed")
	ErrGeneration        = errors.New("generation failed")
	ErrTimeout           = errors.New("timed out")
	ErrRegistry          = errors.New("registry failure")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Error attaches an error kind and the failing operation to a cause.
// A cause that is a context deadline also matches ErrTimeout.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// Wrap returns nil when err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(kind error, op string, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
		if errors.Is(e.Err, context.DeadlineExceeded) {
			errs = append(errs, ErrTimeout)
		}
	}
	return errs
}

// KindOf returns the first known kind err matches, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrTimeout,
		ErrUnsupportedFormat,
		ErrLoad,
		ErrEmbedding,
		ErrIndex,
		ErrRewrite,
		ErrGeneration,
		ErrRegistry,
		ErrNotFound,
		ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
