package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/cpu"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/inference-sim/cachesweep/sweep"
	"github.com/inference-sim/cachesweep/sweep/store"
)

const (
	defaultTracePath     = "../traces/perlbench.trace"
	defaultSimulatorPath = "../cachesim"
	defaultOutputPath    = "output.csv"
)

var (
	// CLI flags for the sweep
	tracePath     string // Trace file streamed to every simulator run
	simulatorPath string // Simulator executable
	outputPath    string // CSV results table (appended to)
	sqlitePath    string // Optional SQLite mirror of the results
	configPath    string // Optional sweep YAML
	logLevel      string // Log verbosity level
	workers       int    // Concurrent simulator processes (0 = physical cores)
	writeHeader   bool   // Write a CSV header when the table is empty
	resume        bool   // Skip tuples already present in the output table

	// Bound overrides
	cMin int
	cMax int
	bMin int
	bMax int
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cachesweep",
	Short: "Design-space sweep harness for the cache simulator",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runOptions is the fully resolved configuration of one sweep.
type runOptions struct {
	Trace     string
	Simulator string
	Output    string
	SQLite    string
	Workers   int
	Header    bool
	Resume    bool
	Bounds    sweep.Bounds
}

// runCmd executes the sweep using parameters from the config file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulator over every configuration in the space",
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := resolveOptions(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := validateOptions(opts); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := runSweep(ctx, opts)
		if err != nil {
			logrus.Fatalf("Sweep aborted: %v", err)
		}
		if ctx.Err() != nil {
			logrus.Warnf("Sweep interrupted; %d tuples not run", summary.Skipped)
		}
		fmt.Printf("elapsed time: %.3f seconds\n", summary.Elapsed.Seconds())
		if ctx.Err() != nil {
			atexit.Exit(1)
		}
	},
}

// resolveOptions layers defaults, the optional config file, and explicitly set
// flags, in that order of precedence.
func resolveOptions(cmd *cobra.Command) (runOptions, error) {
	opts := runOptions{
		Trace:     defaultTracePath,
		Simulator: defaultSimulatorPath,
		Output:    defaultOutputPath,
		Bounds:    sweep.DefaultBounds(),
	}

	if configPath != "" {
		cfg, err := loadSweepConfig(configPath)
		if err != nil {
			return runOptions{}, err
		}
		if cfg.Trace != "" {
			opts.Trace = cfg.Trace
		}
		if cfg.Simulator != "" {
			opts.Simulator = cfg.Simulator
		}
		if cfg.Output != "" {
			opts.Output = cfg.Output
		}
		opts.SQLite = cfg.SQLite
		opts.Workers = cfg.Workers
		opts.Header = cfg.Header
		opts.Bounds, err = cfg.Bounds.Apply(opts.Bounds)
		if err != nil {
			return runOptions{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("trace") {
		opts.Trace = tracePath
	}
	if flags.Changed("cmd") {
		opts.Simulator = simulatorPath
	}
	if flags.Changed("output") {
		opts.Output = outputPath
	}
	if flags.Changed("sqlite") {
		opts.SQLite = sqlitePath
	}
	if flags.Changed("workers") {
		opts.Workers = workers
	}
	if flags.Changed("header") {
		opts.Header = writeHeader
	}
	opts.Resume = resume
	opts.Bounds = applyBoundFlags(cmd, opts.Bounds)

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers()
	}
	return opts, nil
}

// applyBoundFlags overrides bounds with explicitly set --c-min/--c-max/--b-min/--b-max.
func applyBoundFlags(cmd *cobra.Command, b sweep.Bounds) sweep.Bounds {
	flags := cmd.Flags()
	if flags.Changed("c-min") {
		b.CMin = cMin
	}
	if flags.Changed("c-max") {
		b.CMax = cMax
	}
	if flags.Changed("b-min") {
		b.BMin = bMin
	}
	if flags.Changed("b-max") {
		b.BMax = bMax
	}
	return b
}

// validateOptions reports configuration errors before any trial runs.
func validateOptions(opts runOptions) error {
	if err := opts.Bounds.Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	f, err := os.Open(opts.Trace)
	if err != nil {
		return fmt.Errorf("trace file: %w", err)
	}
	_ = f.Close()
	if _, err := exec.LookPath(opts.Simulator); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is empty")
	}
	return nil
}

// defaultWorkers returns the number of physical cores, or 1 if unknown.
func defaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		logrus.Debugf("cannot determine core count (%v); using 1 worker", err)
		return 1
	}
	return n
}

// runSweep opens the sinks and runs every tuple in opts.Bounds.
func runSweep(ctx context.Context, opts runOptions) (sweep.Summary, error) {
	runID := xid.New().String()

	var completed map[sweep.Tuple]bool
	if opts.Resume {
		var err error
		completed, err = sweep.LoadCompleted(opts.Output)
		if err != nil {
			return sweep.Summary{RunID: runID}, err
		}
		logrus.Infof("Resuming: %d tuples already in %s", len(completed), opts.Output)
	}

	csvSink, err := sweep.NewCSVSink(opts.Output, opts.Header)
	if err != nil {
		return sweep.Summary{RunID: runID}, err
	}
	sinks := sweep.MultiSink{csvSink}
	if opts.SQLite != "" {
		dbSink, err := store.NewSQLiteSink(opts.SQLite, runID)
		if err != nil {
			_ = csvSink.Close()
			return sweep.Summary{RunID: runID}, err
		}
		sinks = append(sinks, dbSink)
	}
	atexit.Register(func() { _ = sinks.Close() })
	defer func() { _ = sinks.Close() }()

	total := sweep.Count(opts.Bounds)
	logrus.Infof("Starting sweep run=%s: %d configurations, %d workers, simulator=%s trace=%s output=%s",
		runID, total, opts.Workers, opts.Simulator, opts.Trace, opts.Output)

	sw := &sweep.Sweep{
		Runner:    sweep.NewRunner(sweep.NewProcessExecutor(opts.Simulator), opts.Trace),
		Sink:      sinks,
		Workers:   opts.Workers,
		Completed: completed,
		RunID:     runID,
	}
	summary, err := sw.Run(ctx, sweep.Enumerate(opts.Bounds))
	logrus.Infof("Sweep run=%s finished in %s: %d succeeded, %d failed, %d skipped",
		runID, summary.Elapsed.Round(time.Millisecond), summary.Succeeded, summary.Failed, summary.Skipped)
	return summary, err
}

// Execute runs the CLI root command
func Execute() {
	// logrus.Fatal exits through atexit so open sinks are closed.
	logrus.RegisterExitHandler(func() { atexit.Exit(1) })
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
}

func addBoundFlags(c *cobra.Command) {
	def := sweep.DefaultBounds()
	c.Flags().StringVar(&configPath, "config", "", "Path to sweep YAML config")
	c.Flags().IntVar(&cMin, "c-min", def.CMin, "Smallest log2 cache size")
	c.Flags().IntVar(&cMax, "c-max", def.CMax, "Largest log2 cache size")
	c.Flags().IntVar(&bMin, "b-min", def.BMin, "Smallest log2 block size")
	c.Flags().IntVar(&bMax, "b-max", def.BMax, "Largest log2 block size")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&tracePath, "trace", defaultTracePath, "Trace file fed to the simulator")
	runCmd.Flags().StringVar(&simulatorPath, "cmd", defaultSimulatorPath, "Simulator executable")
	runCmd.Flags().StringVar(&outputPath, "output", defaultOutputPath, "CSV results table (appended)")
	runCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Also record results into this SQLite database")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent simulator processes (0 = physical cores)")
	runCmd.Flags().BoolVar(&writeHeader, "header", false, "Write a header row when the table is empty")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Skip configurations already in the output table")
	addBoundFlags(runCmd)

	rootCmd.AddCommand(runCmd)
}
