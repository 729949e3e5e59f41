package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failed RunOutcome carries an error that Classify maps
// to exactly one of these kinds.
var (
	// ErrConstruction marks wiring errors found at composition time.
	ErrConstruction = errors.New("pipeline construction failed")

	// ErrStageFailure marks a failed stage invocation.
	ErrStageFailure = errors.New("stage failed")

	// ErrLoopExhausted marks a loop that hit its iteration cap without its
	// exit condition firing.
	ErrLoopExhausted = errors.New("loop exhausted")

	// ErrAborted marks a run stopped by a non-retriable failure inside a loop,
	// a failed exit check, or cancellation.
	ErrAborted = errors.New("pipeline aborted")
)

// Context and wiring errors.
var (
	ErrDuplicateKey          = errors.New("duplicate key")
	ErrKeyNotFound           = errors.New("key not found")
	ErrUnsatisfiedDependency = errors.New("unsatisfied dependency")
	ErrTypeMismatch          = errors.New("type mismatch")
)

// ErrorKind is the taxonomy class of a run error.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindConstruction  ErrorKind = "construction"
	KindStageFailure  ErrorKind = "stage_failure"
	KindLoopExhausted ErrorKind = "loop_exhausted"
	KindAborted       ErrorKind = "aborted"
)

// Classify maps err to its taxonomy class. Aborted wins over the stage
// failure that caused it.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAborted):
		return KindAborted
	case errors.Is(err, ErrConstruction):
		return KindConstruction
	case errors.Is(err, ErrLoopExhausted):
		return KindLoopExhausted
	case errors.Is(err, ErrStageFailure):
		return KindStageFailure
	default:
		return KindAborted
	}
}

// ConstructionError reports a wiring problem in a named node.
type ConstructionError struct {
	Node string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("compose %s: %v", e.Node, e.Err)
}

func (e *ConstructionError) Unwrap() []error {
	return []error{ErrConstruction, e.Err}
}

// StageError describes a failed stage invocation.
type StageError struct {
	Stage     string
	Reason    string
	Retriable bool
	Err       error
}

func (e *StageError) Error() string {
	kind := "non-retriable"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("stage %s failed (%s): %s", e.Stage, kind, e.Reason)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStageFailure}
	}
	return []error{ErrStageFailure, e.Err}
}

// AbortError reports why a run was aborted and where.
type AbortError struct {
	Node   string
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborted at %s: %s", e.Node, e.Reason)
}

func (e *AbortError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAborted}
	}
	return []error{ErrAborted, e.Err}
}

func constructionErr(node string, format string, args ...any) error {
	return &ConstructionError{Node: node, Err: fmt.Errorf(format, args...)}
}
