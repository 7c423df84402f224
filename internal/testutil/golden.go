// Package testutil provides shared test infrastructure for cachesweep: a fake
// cache simulator that test binaries re-exec, the sample simulator report in
// testdata/, and assertion helpers used across sweep/ and cmd/ test packages.
package testutil

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	// FakeSimulatorEnv makes a test binary behave as the simulator when set to "1".
	FakeSimulatorEnv = "CACHESWEEP_FAKE_SIMULATOR"
	// FakeFailSEnv makes the fake simulator exit with status 3 when -s equals its value.
	FakeFailSEnv = "CACHESWEEP_FAKE_FAIL_S"
	// FakeGarbleSEnv makes the fake simulator omit the Overhead line when -s equals its value.
	FakeGarbleSEnv = "CACHESWEEP_FAKE_GARBLE_S"
	// FakeReportFirstEnv makes the fake simulator write FakeReportFirstBytes of
	// preamble to stdout before it reads any of stdin.
	FakeReportFirstEnv = "CACHESWEEP_FAKE_REPORT_FIRST"
	// FakeHangEnv makes the fake simulator start a helper that inherits its
	// stdout, then sleep for FakeHangTime.
	FakeHangEnv = "CACHESWEEP_FAKE_HANG"

	// FakeReportFirstBytes exceeds a Linux pipe buffer (64 KiB) several times over.
	FakeReportFirstBytes = 256 << 10
	// FakeHangTime is how long the hanging simulator and its helper sleep.
	FakeHangTime = 20 * time.Second
)

// RunFakeSimulatorIfRequested turns the current process into the fake
// simulator when FakeSimulatorEnv is set. Call it first thing in TestMain.
func RunFakeSimulatorIfRequested() {
	if os.Getenv(FakeSimulatorEnv) != "1" {
		return
	}
	if os.Getenv(FakeHangEnv) == "helper" {
		time.Sleep(FakeHangTime)
		os.Exit(0)
	}
	os.Exit(FakeSimulator(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// FakeSimulator mimics the cache simulator's contract. It consumes all of
// stdin, reports the number of trace bytes read as the AAT, 64*(v+1) overhead
// bits and a 0.5 ratio, so the estimated size is 24*(v+1) bytes.
func FakeSimulator(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		flags[args[i]] = args[i+1]
	}
	for _, f := range []string{"-c", "-b", "-s", "-v", "-t", "-r"} {
		if _, ok := flags[f]; !ok {
			_, _ = fmt.Fprintf(stderr, "missing flag %s\n", f)
			return 2
		}
	}
	if os.Getenv(FakeHangEnv) == "1" {
		return hang(stdout, stderr)
	}
	if os.Getenv(FakeReportFirstEnv) == "1" {
		line := "preamble: warming up the cache model\n"
		_, _ = io.WriteString(stdout, strings.Repeat(line, FakeReportFirstBytes/len(line)+1))
	}
	trace, err := io.ReadAll(stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reading trace: %v\n", err)
		return 2
	}
	if s := os.Getenv(FakeFailSEnv); s != "" && s == flags["-s"] {
		_, _ = fmt.Fprintln(stderr, "invalid configuration")
		return 3
	}
	v, _ := strconv.Atoi(flags["-v"])

	_, _ = fmt.Fprintf(stdout, "Cache Settings\nC: %s\nB: %s\nS: %s\nV: %s\nF: %s\nR: %s\n\n",
		flags["-c"], flags["-b"], flags["-s"], flags["-v"], flags["-t"], flags["-r"])
	_, _ = fmt.Fprintf(stdout, "Average access time (AAT): %d.000000\n", len(trace))
	if s := os.Getenv(FakeGarbleSEnv); s == "" || s != flags["-s"] {
		_, _ = fmt.Fprintf(stdout, "Storage Overhead: %d\n", 64*(v+1))
	}
	_, _ = fmt.Fprintf(stdout, "Storage Overhead Ratio: 0.500000\n")
	return 0
}

// hang leaves a helper process holding stdout and sleeps, so only a kill plus
// a bounded wait for the pipes lets the caller return early.
func hang(stdout, stderr io.Writer) int {
	exe, err := os.Executable()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "locating executable: %v\n", err)
		return 2
	}
	helper := exec.Command(exe)
	helper.Env = append(os.Environ(), FakeHangEnv+"=helper")
	helper.Stdout = stdout
	if err := helper.Start(); err != nil {
		_, _ = fmt.Fprintf(stderr, "starting helper: %v\n", err)
		return 2
	}
	time.Sleep(FakeHangTime)
	return 0
}

// EnableFakeSimulator configures the environment so that running the current
// test binary acts as the simulator, and returns its path.
func EnableFakeSimulator(t *testing.T) string {
	t.Helper()
	t.Setenv(FakeSimulatorEnv, "1")
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("Failed to locate test binary: %v", err)
	}
	return exe
}

// LoadSampleReport returns testdata/cachesim_report.txt.
// The path is resolved relative to this source file: internal/testutil/ → testdata/.
func LoadSampleReport(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "testdata", "cachesim_report.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read sample report: %v", err)
	}
	return string(data)
}

// WriteTrace writes a small trace file into a temp dir and returns its path.
func WriteTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.trace")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write trace: %v", err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
