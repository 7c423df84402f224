package cmd

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cachesweep/internal/testutil"
	"github.com/inference-sim/cachesweep/sweep"
	"github.com/inference-sim/cachesweep/sweep/store"
)

func tinyBounds() sweep.Bounds {
	return sweep.Bounds{
		CMin:                3,
		CMax:                3,
		BMin:                0,
		BMax:                2,
		FetchPolicies:       []sweep.FetchPolicy{sweep.FetchBlocking},
		ReplacementPolicies: []sweep.ReplacementPolicy{sweep.ReplaceLRU},
	}
}

func readTable(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

// setFlag sets a runCmd flag for the duration of the test.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	flag := runCmd.Flags().Lookup(name)
	require.NotNil(t, flag)
	def := flag.DefValue
	require.NoError(t, runCmd.Flags().Set(name, value))
	t.Cleanup(func() {
		_ = runCmd.Flags().Set(name, def)
		flag.Changed = false
	})
}

func TestRunSweep_WritesTableAndMirror(t *testing.T) {
	// GIVEN the fake simulator and c=3, b in [0,2]: 6+3+1 = 10 (b,s,v) triples
	exe := testutil.EnableFakeSimulator(t)
	dir := t.TempDir()
	opts := runOptions{
		Trace:     testutil.WriteTrace(t, "r 0x1\n"),
		Simulator: exe,
		Output:    filepath.Join(dir, "out.csv"),
		SQLite:    filepath.Join(dir, "out.sqlite3"),
		Workers:   2,
		Header:    true,
		Bounds:    tinyBounds(),
	}
	require.NoError(t, validateOptions(opts))

	// WHEN the sweep runs
	sum, err := runSweep(context.Background(), opts)

	// THEN every configuration has a row after the header, and the mirror agrees
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.Succeeded)
	rows := readTable(t, opts.Output)
	require.Len(t, rows, 11)
	assert.Equal(t, "c", rows[0][0])

	db, err := store.NewSQLiteSink(opts.SQLite, "reader")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	n, err := db.Count(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRunSweep_TwoDisjointRunsUnion(t *testing.T) {
	exe := testutil.EnableFakeSimulator(t)
	out := filepath.Join(t.TempDir(), "out.csv")
	trace := testutil.WriteTrace(t, "w 0x2\n")

	blocking := tinyBounds()
	subblocking := tinyBounds()
	subblocking.FetchPolicies = []sweep.FetchPolicy{sweep.FetchSubblocking}

	for _, b := range []sweep.Bounds{blocking, subblocking} {
		_, err := runSweep(context.Background(), runOptions{
			Trace: trace, Simulator: exe, Output: out, Workers: 1, Bounds: b,
		})
		require.NoError(t, err)
	}

	rows := readTable(t, out)
	require.Len(t, rows, 20)
	done, err := sweep.LoadCompleted(out)
	require.NoError(t, err)
	assert.Len(t, done, 20)
	for _, row := range rows {
		assert.Len(t, row, 8)
	}
}

func TestRunSweep_ResumeSkipsRecordedTuples(t *testing.T) {
	// GIVEN a first run where every s=1 trial failed
	exe := testutil.EnableFakeSimulator(t)
	out := filepath.Join(t.TempDir(), "out.csv")
	trace := testutil.WriteTrace(t, "r 0x3\n")
	t.Setenv(testutil.FakeFailSEnv, "1")
	opts := runOptions{Trace: trace, Simulator: exe, Output: out, Workers: 1, Bounds: tinyBounds()}
	first, err := runSweep(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, int64(4), first.Failed) // b=0 and b=1, v=0..1
	require.Len(t, readTable(t, out), 6)

	// WHEN the simulator is fixed and the sweep is resumed
	t.Setenv(testutil.FakeFailSEnv, "")
	opts.Resume = true
	second, err := runSweep(context.Background(), opts)

	// THEN only the missing tuples run and the table is complete without duplicates
	require.NoError(t, err)
	assert.Equal(t, int64(4), second.Succeeded)
	assert.Equal(t, int64(6), second.Skipped)
	assert.Len(t, readTable(t, out), 10)
}

func TestRunSweep_UnwritableOutput(t *testing.T) {
	exe := testutil.EnableFakeSimulator(t)
	_, err := runSweep(context.Background(), runOptions{
		Trace:     testutil.WriteTrace(t, ""),
		Simulator: exe,
		Output:    filepath.Join(t.TempDir(), "no-dir", "out.csv"),
		Workers:   1,
		Bounds:    tinyBounds(),
	})
	assert.Error(t, err)
}

func TestValidateOptions(t *testing.T) {
	exe := testutil.EnableFakeSimulator(t)
	good := runOptions{
		Trace:     testutil.WriteTrace(t, ""),
		Simulator: exe,
		Output:    "out.csv",
		Bounds:    tinyBounds(),
	}
	require.NoError(t, validateOptions(good))

	missingTrace := good
	missingTrace.Trace = filepath.Join(t.TempDir(), "missing.trace")
	assert.ErrorContains(t, validateOptions(missingTrace), "trace file")

	missingSim := good
	missingSim.Simulator = filepath.Join(t.TempDir(), "cachesim")
	assert.ErrorContains(t, validateOptions(missingSim), "simulator")

	badBounds := good
	badBounds.Bounds.BMin = -1
	assert.ErrorContains(t, validateOptions(badBounds), "bounds")
}

func TestResolveOptions_Defaults(t *testing.T) {
	opts, err := resolveOptions(runCmd)
	require.NoError(t, err)
	assert.Equal(t, defaultTracePath, opts.Trace)
	assert.Equal(t, defaultSimulatorPath, opts.Simulator)
	assert.Equal(t, defaultOutputPath, opts.Output)
	assert.Equal(t, sweep.DefaultBounds(), opts.Bounds)
	assert.GreaterOrEqual(t, opts.Workers, 1)
}

func TestResolveOptions_FlagsOverrideConfig(t *testing.T) {
	// GIVEN a config file and explicitly set flags
	path := writeConfig(t, "output: from-config.csv\ntrace: from-config.trace\nworkers: 3\nbounds:\n  c_max: 16\n  b_max: 9\n")
	orig := configPath
	configPath = path
	t.Cleanup(func() { configPath = orig })
	setFlag(t, "output", "from-flag.csv")
	setFlag(t, "b-max", "8")

	// WHEN options are resolved
	opts, err := resolveOptions(runCmd)

	// THEN flags win where set, the file wins over defaults elsewhere
	require.NoError(t, err)
	assert.Equal(t, "from-flag.csv", opts.Output)
	assert.Equal(t, "from-config.trace", opts.Trace)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 16, opts.Bounds.CMax)
	assert.Equal(t, 8, opts.Bounds.BMax)
}
