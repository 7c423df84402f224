package sweep

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Summary counts the outcomes of a sweep.
type Summary struct {
	RunID     string
	Attempted int64
	Succeeded int64
	Failed    int64
	Skipped   int64 // already completed, or not run because the sweep was aborted
	Elapsed   time.Duration
}

// Sweep runs trials over a sequence of tuples with at most Workers in flight.
//
// With a single worker, rows reach the sink in enumeration order. With more,
// rows arrive in completion order; every row carries its full tuple.
type Sweep struct {
	Runner    *Runner
	Sink      Sink
	Workers   int
	Completed map[Tuple]bool // tuples to skip, e.g. loaded from a previous run
	RunID     string         // empty = generated
}

// Run executes the sweep. Per-trial failures are logged and counted. The
// returned error is non-nil only for a *FatalError; cancelling ctx stops new
// trials from launching, kills in-flight simulators and returns a summary
// with the interrupted tuples counted as skipped.
func (s *Sweep) Run(ctx context.Context, tuples iter.Seq[Tuple]) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: s.RunID}
	if sum.RunID == "" {
		sum.RunID = xid.New().String()
	}

	var attempted, succeeded, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))

	for t := range tuples {
		if gctx.Err() != nil {
			skipped.Add(1)
			continue
		}
		if s.Completed[t] {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			attempted.Add(1)
			res, err := s.Runner.Run(gctx, t)
			if err != nil {
				var fatal *FatalError
				var trialErr *TrialError
				switch {
				case errors.As(err, &fatal):
					return err
				case errors.As(err, &trialErr):
					failed.Add(1)
					logTrialError(sum.RunID, trialErr)
					return nil
				default:
					// interrupted by cancellation
					skipped.Add(1)
					return nil
				}
			}
			if err := s.Sink.Append(res); err != nil {
				return &FatalError{Op: "appending result", Err: err}
			}
			succeeded.Add(1)
			logrus.WithFields(tupleFields(t)).WithFields(logrus.Fields{
				"run":        sum.RunID,
				"aat":        res.AAT,
				"size_bytes": res.EstimatedSizeBytes,
				"elapsed":    res.Elapsed.Round(time.Millisecond),
			}).Info("trial complete")
			return nil
		})
	}

	err := g.Wait()
	sum.Attempted = attempted.Load()
	sum.Succeeded = succeeded.Load()
	sum.Failed = failed.Load()
	sum.Skipped = skipped.Load()
	sum.Elapsed = time.Since(start)

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return sum, err
	}
	return sum, nil
}

func tupleFields(t Tuple) logrus.Fields {
	return logrus.Fields{"c": t.C, "b": t.B, "s": t.S, "v": t.V, "t": t.T.String(), "r": t.R.String()}
}

func logTrialError(runID string, e *TrialError) {
	logrus.WithFields(tupleFields(e.Tuple)).WithFields(logrus.Fields{
		"run":    runID,
		"stage":  e.Stage,
		"output": e.Output,
	}).Warnf("trial failed: %v", e.Err)
}
