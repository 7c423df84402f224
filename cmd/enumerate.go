package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/cachesweep/sweep"
)

var countOnly bool

// enumerateCmd lists the configurations a run would visit, without invoking the simulator.
var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Print every configuration in the space (c,b,s,v,t,r)",
	Run: func(cmd *cobra.Command, args []string) {
		bounds, err := resolveBounds(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if countOnly {
			fmt.Println(sweep.Count(bounds))
			return
		}
		w := csv.NewWriter(os.Stdout)
		for t := range sweep.Enumerate(bounds) {
			_ = w.Write([]string{
				strconv.Itoa(t.C), strconv.Itoa(t.B), strconv.Itoa(t.S), strconv.Itoa(t.V),
				t.T.String(), t.R.String(),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			logrus.Fatalf("Writing configurations: %v", err)
		}
	},
}

// resolveBounds returns the default bounds overlaid with --config and bound flags.
func resolveBounds(cmd *cobra.Command) (sweep.Bounds, error) {
	bounds := sweep.DefaultBounds()
	if configPath != "" {
		cfg, err := loadSweepConfig(configPath)
		if err != nil {
			return sweep.Bounds{}, err
		}
		if bounds, err = cfg.Bounds.Apply(bounds); err != nil {
			return sweep.Bounds{}, err
		}
	}
	bounds = applyBoundFlags(cmd, bounds)
	if err := bounds.Validate(); err != nil {
		return sweep.Bounds{}, err
	}
	return bounds, nil
}

func init() {
	enumerateCmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of configurations")
	addBoundFlags(enumerateCmd)
	rootCmd.AddCommand(enumerateCmd)
}
