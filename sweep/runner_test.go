package sweep

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cachesweep/internal/testutil"
)

// fakeExecutor calls fn with the parsed tuple and the trace contents.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []Tuple
	fn    func(t Tuple, trace []byte) ([]byte, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, args []string, stdin io.Reader) ([]byte, error) {
	trace, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	t := tupleFromArgs(args)
	f.mu.Lock()
	f.calls = append(f.calls, t)
	f.mu.Unlock()
	return f.fn(t, trace)
}

func (f *fakeExecutor) Calls() []Tuple {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tuple(nil), f.calls...)
}

func tupleFromArgs(args []string) Tuple {
	var t Tuple
	for i := 0; i+1 < len(args); i += 2 {
		n, _ := strconv.Atoi(args[i+1])
		switch args[i] {
		case "-c":
			t.C = n
		case "-b":
			t.B = n
		case "-s":
			t.S = n
		case "-v":
			t.V = n
		case "-t":
			t.T = FetchPolicy(args[i+1][0])
		case "-r":
			t.R = ReplacementPolicy(args[i+1][0])
		}
	}
	return t
}

func okReport(t Tuple, _ []byte) ([]byte, error) {
	return []byte("Average access time (AAT): 3.25\nStorage Overhead: 64\nStorage Overhead Ratio: 0.5\n"), nil
}

var testTuple = Tuple{C: 15, B: 6, S: 3, V: 2, T: FetchBlocking, R: ReplaceLRU}

func TestRunner_Run_Success(t *testing.T) {
	// GIVEN a trace file and a simulator that reports aat=3.25, overhead=64, ratio=0.5
	trace := testutil.WriteTrace(t, "r 0x1000\nw 0x2000\n")
	var seenTrace []byte
	exec := &fakeExecutor{fn: func(tup Tuple, tr []byte) ([]byte, error) {
		seenTrace = tr
		return okReport(tup, tr)
	}}
	r := NewRunner(exec, trace)

	// WHEN one trial runs
	res, err := r.Run(context.Background(), testTuple)

	// THEN the simulator sees the full trace and the result carries the derived size
	require.NoError(t, err)
	assert.Equal(t, "r 0x1000\nw 0x2000\n", string(seenTrace))
	assert.Equal(t, []Tuple{testTuple}, exec.Calls())
	assert.Equal(t, testTuple, res.Tuple)
	assert.Equal(t, 3.25, res.AAT)
	assert.Equal(t, uint64(64), res.OverheadBits)
	assert.Equal(t, 0.5, res.Ratio)
	assert.Equal(t, uint64(24), res.EstimatedSizeBytes)
}

func TestRunner_Run_FailureStages(t *testing.T) {
	trace := testutil.WriteTrace(t, "r 0x0\n")
	tests := []struct {
		name   string
		fn     func(Tuple, []byte) ([]byte, error)
		stage  Stage
		output string
	}{
		{
			name:  "start",
			fn:    func(Tuple, []byte) ([]byte, error) { return nil, &StartError{Path: "sim", Err: errors.New("no such file")} },
			stage: StageStart,
		},
		{
			name:   "exit",
			fn:     func(Tuple, []byte) ([]byte, error) { return []byte("partial"), &ExitError{Code: 1} },
			stage:  StageExit,
			output: "partial",
		},
		{
			name:   "parse",
			fn:     func(Tuple, []byte) ([]byte, error) { return []byte("(AAT): 3.25\nRatio: 0.5\n"), nil },
			stage:  StageParse,
			output: "(AAT): 3.25\nRatio: 0.5\n",
		},
		{
			name:   "derive",
			fn:     func(Tuple, []byte) ([]byte, error) { return []byte("(AAT): 3.25 Overhead: 64 Ratio: 0.0\n"), nil },
			stage:  StageDerive,
			output: "(AAT): 3.25 Overhead: 64 Ratio: 0.0\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRunner(&fakeExecutor{fn: tc.fn}, trace)

			_, err := r.Run(context.Background(), testTuple)

			var terr *TrialError
			require.True(t, errors.As(err, &terr), "want *TrialError, got %v", err)
			assert.Equal(t, tc.stage, terr.Stage)
			assert.Equal(t, testTuple, terr.Tuple)
			assert.Equal(t, tc.output, terr.Output)
			assert.Contains(t, terr.Error(), testTuple.String())
		})
	}
}

func TestRunner_Run_DeriveFailureWrapsSentinel(t *testing.T) {
	trace := testutil.WriteTrace(t, "")
	r := NewRunner(&fakeExecutor{fn: func(Tuple, []byte) ([]byte, error) {
		return []byte("(AAT): 1 Overhead: 1 Ratio: 0.0"), nil
	}}, trace)

	_, err := r.Run(context.Background(), testTuple)

	assert.ErrorIs(t, err, ErrDegenerateRatio)
}

func TestRunner_Run_MissingTraceIsFatal(t *testing.T) {
	exec := &fakeExecutor{fn: okReport}
	r := NewRunner(exec, filepath.Join(t.TempDir(), "missing.trace"))

	_, err := r.Run(context.Background(), testTuple)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal), "want *FatalError, got %v", err)
	assert.Empty(t, exec.Calls(), "simulator must not run without a trace")
}

func TestRunner_Run_NilFieldsUsesDefaults(t *testing.T) {
	trace := testutil.WriteTrace(t, "")
	r := &Runner{Exec: &fakeExecutor{fn: okReport}, TracePath: trace}

	res, err := r.Run(context.Background(), testTuple)

	require.NoError(t, err)
	assert.Equal(t, uint64(24), res.EstimatedSizeBytes)
}
