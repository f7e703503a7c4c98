package workflow

import (
	"strconv"
)

// FlagOptions holds the per-run options shared by every job in a batch.
type FlagOptions struct {
	IFO                string
	OutputDir          string
	ConfigFile         string // passed through unvalidated; empty omits the flag
	FrequencyScaling   string
	Colormap           string
	NProc              int
	FARThreshold       float64
	DisableCorrelation bool
	DisableCheckpoint  bool
	IgnoreStateFlags   bool
}

// Flag is one command-line flag of the analysis pipeline. Toggles carry no value.
type Flag struct {
	Name     string
	Value    string
	HasValue bool
}

// InvocationFlags is the immutable flag set shared by every JobNode.
// Accessors return copies.
type InvocationFlags struct {
	flags []Flag
}

// Flag names understood by the analysis pipeline.
const (
	FlagIFO                = "--ifo"
	FlagOutputDirectory    = "--output-directory"
	FlagConfigFile         = "--config-file"
	FlagFrequencyScaling   = "--frequency-scaling"
	FlagColormap           = "--colormap"
	FlagNProc              = "--nproc"
	FlagFARThreshold       = "--far-threshold"
	FlagDisableCorrelation = "--disable-correlation"
	FlagDisableCheckpoint  = "--disable-checkpoint"
	FlagIgnoreStateFlags   = "--ignore-state-flags"
)

// BuildFlags derives the shared invocation flags from per-run options.
func BuildFlags(opts FlagOptions) *InvocationFlags {
	f := &InvocationFlags{}
	f.set(FlagIFO, opts.IFO)
	f.set(FlagOutputDirectory, opts.OutputDir)
	if opts.ConfigFile != "" {
		f.set(FlagConfigFile, opts.ConfigFile)
	}
	f.set(FlagFrequencyScaling, opts.FrequencyScaling)
	f.set(FlagColormap, opts.Colormap)
	f.set(FlagNProc, strconv.Itoa(opts.NProc))
	f.set(FlagFARThreshold, strconv.FormatFloat(opts.FARThreshold, 'g', -1, 64))
	f.toggle(FlagDisableCorrelation, opts.DisableCorrelation)
	f.toggle(FlagDisableCheckpoint, opts.DisableCheckpoint)
	f.toggle(FlagIgnoreStateFlags, opts.IgnoreStateFlags)
	return f
}

func (f *InvocationFlags) set(name, value string) {
	f.flags = append(f.flags, Flag{Name: name, Value: value, HasValue: true})
}

func (f *InvocationFlags) toggle(name string, on bool) {
	if on {
		f.flags = append(f.flags, Flag{Name: name})
	}
}

// Flags returns the flags in emission order.
func (f *InvocationFlags) Flags() []Flag {
	out := make([]Flag, len(f.flags))
	copy(out, f.flags)
	return out
}

// Lookup returns the value of a flag and whether it is present.
func (f *InvocationFlags) Lookup(name string) (string, bool) {
	for _, fl := range f.flags {
		if fl.Name == name {
			return fl.Value, true
		}
	}
	return "", false
}

// Has reports whether a flag is present.
func (f *InvocationFlags) Has(name string) bool {
	_, ok := f.Lookup(name)
	return ok
}

// Args renders the flags as a command-line argument vector.
func (f *InvocationFlags) Args() []string {
	args := make([]string, 0, 2*len(f.flags))
	for _, fl := range f.flags {
		args = append(args, fl.Name)
		if fl.HasValue {
			args = append(args, fl.Value)
		}
	}
	return args
}
