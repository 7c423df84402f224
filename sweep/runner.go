package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// TrialResult is the immutable record of one successful trial.
type TrialResult struct {
	Tuple              Tuple
	AAT                float64
	OverheadBits       uint64
	Ratio              float64
	EstimatedSizeBytes uint64
	Elapsed            time.Duration // wall time of the simulator run; not persisted
}

// Stage identifies where a trial failed.
type Stage string

const (
	StageStart  Stage = "start"
	StageExit   Stage = "exit"
	StageParse  Stage = "parse"
	StageDerive Stage = "derive"
)

// TrialError is a failure isolated to one tuple. Output carries the raw
// simulator stdout so the trial can be diagnosed and re-run by hand.
type TrialError struct {
	Tuple  Tuple
	Stage  Stage
	Output string
	Err    error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial %s failed at %s: %v", e.Tuple, e.Stage, e.Err)
}

func (e *TrialError) Unwrap() error { return e.Err }

// FatalError is a resource-level failure after which no further result can be
// recorded; it aborts the whole sweep.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Runner executes single trials.
type Runner struct {
	Exec      Executor
	TracePath string
	Fields    []Field // nil = DefaultFields
}

// NewRunner creates a Runner feeding the trace at tracePath to exec.
func NewRunner(exec Executor, tracePath string) *Runner {
	return &Runner{Exec: exec, TracePath: tracePath, Fields: DefaultFields}
}

// Run performs one trial. The error is nil, a *TrialError, a *FatalError, or
// the context's error when the trial was interrupted.
func (r *Runner) Run(ctx context.Context, t Tuple) (TrialResult, error) {
	trace, err := os.Open(r.TracePath)
	if err != nil {
		return TrialResult{}, &FatalError{Op: "opening trace", Err: err}
	}
	defer func() { _ = trace.Close() }()

	start := time.Now()
	out, err := r.Exec.Execute(ctx, t.Args(), trace)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return TrialResult{}, err
		}
		stage := StageExit
		var startErr *StartError
		if errors.As(err, &startErr) {
			stage = StageStart
		}
		return TrialResult{}, &TrialError{Tuple: t, Stage: stage, Output: string(out), Err: err}
	}

	fields := r.Fields
	if fields == nil {
		fields = DefaultFields
	}
	rep, err := Extract(string(out), fields)
	if err != nil {
		return TrialResult{}, &TrialError{Tuple: t, Stage: StageParse, Output: string(out), Err: err}
	}

	size, err := EstimateSizeBytes(rep.OverheadBits, rep.Ratio)
	if err != nil {
		return TrialResult{}, &TrialError{Tuple: t, Stage: StageDerive, Output: string(out),
			Err: fmt.Errorf("ratio %v: %w", rep.Ratio, err)}
	}

	return TrialResult{
		Tuple:              t,
		AAT:                rep.AAT,
		OverheadBits:       rep.OverheadBits,
		Ratio:              rep.Ratio,
		EstimatedSizeBytes: size,
		Elapsed:            elapsed,
	}, nil
}
