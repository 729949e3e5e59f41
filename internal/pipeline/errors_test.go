package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	stageErr := &StageError{Stage: "s", Reason: "boom", Retriable: true}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"construction", constructionErr("n", "%w: x", ErrUnsatisfiedDependency), KindConstruction},
		{"stage failure", stageErr, KindStageFailure},
		{"wrapped stage failure", fmt.Errorf("outer: %w", stageErr), KindStageFailure},
		{"loop exhausted", fmt.Errorf("%w: fix", ErrLoopExhausted), KindLoopExhausted},
		{"abort wins over cause", &AbortError{Node: "s", Reason: "r", Err: stageErr}, KindAborted},
		{"unclassified is aborted", errors.New("mystery"), KindAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("rate limited")
	err := &StageError{Stage: "style", Reason: "rate limited", Retriable: true, Err: cause}

	assert.ErrorIs(t, err, ErrStageFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "style")
	assert.Contains(t, err.Error(), "retriable")

	bare := &StageError{Stage: "s", Reason: "r"}
	assert.ErrorIs(t, bare, ErrStageFailure)
	assert.Contains(t, bare.Error(), "non-retriable")
}

func TestAbortError(t *testing.T) {
	cause := &StageError{Stage: "fixer", Reason: "bad"}
	err := &AbortError{Node: "fixer", Reason: "non-retriable stage failure", Err: cause}

	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, ErrStageFailure)

	var se *StageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "fixer", se.Stage)
}

func TestConstructionError(t *testing.T) {
	err := constructionErr("fixer", "%w: input %q", ErrUnsatisfiedDependency, "validation")
	assert.ErrorIs(t, err, ErrConstruction)
	assert.ErrorIs(t, err, ErrUnsatisfiedDependency)
	assert.Contains(t, err.Error(), "compose fixer")
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", Success().String())
	assert.Equal(t, "partial_failure(at=fix)", PartialFailure("fix").String())
	assert.Equal(t, "aborted(cancelled)", Aborted("s", "cancelled").String())
	assert.True(t, Aborted("s", "r").IsAborted())
	assert.True(t, PartialFailure("s").IsPartialFailure())
}
