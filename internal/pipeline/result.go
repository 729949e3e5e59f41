package pipeline

import (
	"fmt"
	"time"
)

// StageStatus tags a StageResult.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageResult is the outcome of one stage invocation. It is consumed by the
// enclosing pipeline immediately and never persisted beyond the run.
type StageResult struct {
	Status    StageStatus `json:"status"`
	Value     any         `json:"value,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Retriable bool        `json:"retriable,omitempty"`
	Err       error       `json:"-"`
}

// Completed wraps a stage's structured output.
func Completed(value any) StageResult {
	return StageResult{Status: StageCompleted, Value: value}
}

// Failed reports a stage failure.
func Failed(reason string, retriable bool) StageResult {
	return StageResult{Status: StageFailed, Reason: reason, Retriable: retriable}
}

// FailedWith reports a stage failure caused by err.
func FailedWith(err error, retriable bool) StageResult {
	return StageResult{Status: StageFailed, Reason: err.Error(), Retriable: retriable, Err: err}
}

// IsCompleted reports whether the stage completed.
func (r StageResult) IsCompleted() bool {
	return r.Status == StageCompleted
}

// StatusKind is the terminal state of a node or run.
type StatusKind string

const (
	StatusSuccess        StatusKind = "success"
	StatusPartialFailure StatusKind = "partial_failure"
	StatusAborted        StatusKind = "aborted"
)

// Status is a tagged run status. At is set for partial failures and names
// the stage or loop that stopped progress; Reason is set when aborted.
type Status struct {
	Kind   StatusKind `json:"kind"`
	At     string     `json:"at,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

func Success() Status                   { return Status{Kind: StatusSuccess} }
func PartialFailure(at string) Status   { return Status{Kind: StatusPartialFailure, At: at} }
func Aborted(at, reason string) Status  { return Status{Kind: StatusAborted, At: at, Reason: reason} }
func (s Status) IsSuccess() bool        { return s.Kind == StatusSuccess }
func (s Status) IsAborted() bool        { return s.Kind == StatusAborted }
func (s Status) IsPartialFailure() bool { return s.Kind == StatusPartialFailure }

func (s Status) String() string {
	switch s.Kind {
	case StatusPartialFailure:
		return fmt.Sprintf("partial_failure(at=%s)", s.At)
	case StatusAborted:
		return fmt.Sprintf("aborted(%s)", s.Reason)
	default:
		return string(s.Kind)
	}
}

// IterationRecord captures one loop iteration.
type IterationRecord struct {
	Index      int                    `json:"index"`
	Order      []string               `json:"order"`
	Results    map[string]StageResult `json:"results"`
	ExitFired  bool                   `json:"exit_fired"`
	Transcript []Entry                `json:"transcript,omitempty"`
}

func (r *IterationRecord) record(stage string, res StageResult) {
	if r.Results == nil {
		r.Results = make(map[string]StageResult)
	}
	r.Order = append(r.Order, stage)
	r.Results[stage] = res
}

// LoopRecord is the per-iteration history of a loop, built as it runs and
// written into the enclosing context under the loop's name.
type LoopRecord struct {
	Name          string            `json:"name"`
	MaxIterations int               `json:"max_iterations"`
	Iterations    []IterationRecord `json:"iterations"`
	Status        Status            `json:"status"`
}

// Attempts returns the number of iterations that ran.
func (r *LoopRecord) Attempts() int {
	return len(r.Iterations)
}

// Succeeded reports whether the exit condition fired.
func (r *LoopRecord) Succeeded() bool {
	n := len(r.Iterations)
	return n > 0 && r.Iterations[n-1].ExitFired
}

// Last returns the final iteration, or nil if none ran.
func (r *LoopRecord) Last() *IterationRecord {
	if len(r.Iterations) == 0 {
		return nil
	}
	return &r.Iterations[len(r.Iterations)-1]
}

// RunOutcome is the terminal value of a pipeline run.
type RunOutcome struct {
	RunID     string                 `json:"run_id"`
	Pipeline  string                 `json:"pipeline"`
	Context   *ExecutionContext      `json:"-"`
	Status    Status                 `json:"status"`
	Err       error                  `json:"-"`
	Loops     map[string]*LoopRecord `json:"loops,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
}

// Succeeded reports whether the run finished with Success.
func (o RunOutcome) Succeeded() bool {
	return o.Status.IsSuccess()
}

// Kind classifies the run error.
func (o RunOutcome) Kind() ErrorKind {
	return Classify(o.Err)
}

// Loop returns the record for the named loop.
func (o RunOutcome) Loop(name string) (*LoopRecord, bool) {
	r, ok := o.Loops[name]
	return r, ok
}

// outcome is the internal result of running one node.
type outcome struct {
	status    Status
	err       error
	retriable bool
}

func succeeded() outcome { return outcome{status: Success()} }

func (o outcome) ok() bool { return o.status.IsSuccess() }

func abortOutcome(node, reason string, cause error) outcome {
	return outcome{
		status: Aborted(node, reason),
		err:    &AbortError{Node: node, Reason: reason, Err: cause},
	}
}

func cancelledOutcome(node string, cause error) outcome {
	return abortOutcome(node, "cancelled", cause)
}
