package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/cachesweep/sweep"
)

// SweepConfig represents the optional sweep YAML file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type SweepConfig struct {
	Trace     string       `yaml:"trace"`
	Simulator string       `yaml:"simulator"`
	Output    string       `yaml:"output"`
	SQLite    string       `yaml:"sqlite"`
	Workers   int          `yaml:"workers"`
	Header    bool         `yaml:"header"`
	Bounds    BoundsConfig `yaml:"bounds"`
}

// BoundsConfig overlays sweep.Bounds; unset fields keep their defaults.
type BoundsConfig struct {
	CMin                *int     `yaml:"c_min"`
	CMax                *int     `yaml:"c_max"`
	BMin                *int     `yaml:"b_min"`
	BMax                *int     `yaml:"b_max"`
	SMax                *int     `yaml:"s_max"`
	VMax                *int     `yaml:"v_max"`
	FetchPolicies       []string `yaml:"fetch_policies"`
	ReplacementPolicies []string `yaml:"replacement_policies"`
}

// loadSweepConfig parses a sweep YAML file with strict field checking, so a
// misspelled key is an error instead of a silently ignored bound.
func loadSweepConfig(path string) (*SweepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sweep config %s: %w", path, err)
	}
	var cfg SweepConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing sweep config %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply overlays the configured fields onto base.
func (bc BoundsConfig) Apply(base sweep.Bounds) (sweep.Bounds, error) {
	out := base
	if bc.CMin != nil {
		out.CMin = *bc.CMin
	}
	if bc.CMax != nil {
		out.CMax = *bc.CMax
	}
	if bc.BMin != nil {
		out.BMin = *bc.BMin
	}
	if bc.BMax != nil {
		out.BMax = *bc.BMax
	}
	if bc.SMax != nil {
		out.SMax = bc.SMax
	}
	if bc.VMax != nil {
		out.VMax = bc.VMax
	}
	if len(bc.FetchPolicies) > 0 {
		out.FetchPolicies = nil
		for _, s := range bc.FetchPolicies {
			p, err := sweep.ParseFetchPolicy(s)
			if err != nil {
				return sweep.Bounds{}, err
			}
			out.FetchPolicies = append(out.FetchPolicies, p)
		}
	}
	if len(bc.ReplacementPolicies) > 0 {
		out.ReplacementPolicies = nil
		for _, s := range bc.ReplacementPolicies {
			p, err := sweep.ParseReplacementPolicy(s)
			if err != nil {
				return sweep.Bounds{}, err
			}
			out.ReplacementPolicies = append(out.ReplacementPolicies, p)
		}
	}
	return out, nil
}
