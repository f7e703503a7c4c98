// Package config holds the named defaults for a batch and loads overrides
// from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults are the values used for any option not given on the command line.
type Defaults struct {
	AccountingGroup     string  `yaml:"accounting_group"`
	AccountingGroupUser string  `yaml:"accounting_group_user"`
	Universe            string  `yaml:"universe"`
	Executable          string  `yaml:"executable"`
	FrequencyScaling    string  `yaml:"frequency_scaling"`
	Colormap            string  `yaml:"colormap"`
	NProc               int     `yaml:"nproc"`
	FARThreshold        float64 `yaml:"far_threshold"`
	SubmitCommand       string  `yaml:"submit_command"`
	WatchCommand        string  `yaml:"watch_command"`

	// EpochTable is a CUE epoch table path. Empty uses the built-in table.
	EpochTable string `yaml:"epoch_table"`
}

// Built-in default values.
const (
	DefaultAccountingGroup  = "ligo.dev.{epoch}.detchar.user_req.omegascan"
	DefaultUniverse         = "vanilla"
	DefaultExecutable       = "omega-scan"
	DefaultFrequencyScaling = "log"
	DefaultColormap         = "viridis"
	DefaultNProc            = 8
	DefaultFARThreshold     = 3.171e-8 // one false alarm per year
	DefaultSubmitCommand    = "condor_submit_dag"
	DefaultWatchCommand     = "condor_watch_q"
)

// FrequencyScalings lists the accepted frequency-axis scaling modes.
var FrequencyScalings = []string{"log", "linear"}

// Builtin returns the built-in defaults. The accounting group user comes
// from getenv("USER").
func Builtin(getenv func(string) string) Defaults {
	return Defaults{
		AccountingGroup:     DefaultAccountingGroup,
		AccountingGroupUser: getenv("USER"),
		Universe:            DefaultUniverse,
		Executable:          DefaultExecutable,
		FrequencyScaling:    DefaultFrequencyScaling,
		Colormap:            DefaultColormap,
		NProc:               DefaultNProc,
		FARThreshold:        DefaultFARThreshold,
		SubmitCommand:       DefaultSubmitCommand,
		WatchCommand:        DefaultWatchCommand,
	}
}

// Load reads a YAML defaults file over base. Keys absent from the file keep
// their base value. Unknown keys are rejected so typos surface early.
func Load(path string, base Defaults) (Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read defaults file: %w", err)
	}

	d := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return Defaults{}, fmt.Errorf("failed to parse defaults file %s: %w", path, err)
	}

	if err := d.Validate(); err != nil {
		return Defaults{}, fmt.Errorf("invalid defaults file %s: %w", path, err)
	}
	return d, nil
}

// Validate checks the values that have a fixed domain.
func (d Defaults) Validate() error {
	if !IsFrequencyScaling(d.FrequencyScaling) {
		return fmt.Errorf("frequency_scaling %q must be one of %v", d.FrequencyScaling, FrequencyScalings)
	}
	if d.NProc < 1 {
		return fmt.Errorf("nproc must be at least 1, got %d", d.NProc)
	}
	if d.FARThreshold <= 0 {
		return fmt.Errorf("far_threshold must be positive, got %v", d.FARThreshold)
	}
	return nil
}

// IsFrequencyScaling reports whether s is an accepted scaling mode.
func IsFrequencyScaling(s string) bool {
	for _, f := range FrequencyScalings {
		if f == s {
			return true
		}
	}
	return false
}
