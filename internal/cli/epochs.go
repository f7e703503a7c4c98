package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/scanbatch/internal/epoch"
	"github.com/roach88/scanbatch/internal/gpstime"
	"github.com/roach88/scanbatch/internal/workflow"
)

// EpochsOptions holds flags for the epochs command.
type EpochsOptions struct {
	*RootOptions
	EpochTable string
}

// EpochLookup is the result of resolving one GPS time.
type EpochLookup struct {
	GPS   float64     `json:"gps"`
	Epoch epoch.Epoch `json:"epoch"`
}

// NewEpochsCommand creates the epochs command.
func NewEpochsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EpochsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "epochs [gps-time]",
		Short: "Show the observing-run table or resolve a GPS time",
		Long: `Show the observing-run table used to fill {epoch} in accounting groups.

With a GPS time, print the run it falls in: the latest run whose start is
not after the time.

Examples:
  scan-batch epochs
  scan-batch epochs 1187008882.43
  scan-batch epochs --epoch-table runs.cue --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpochs(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EpochTable, "epoch-table", "", "CUE epoch table (default: built-in observing runs)")

	return cmd
}

func runEpochs(opts *EpochsOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	table, err := loadEpochTable(opts.EpochTable)
	if err != nil {
		return failGeneration(formatter, err)
	}

	if len(args) == 0 {
		return outputEpochTable(formatter, table.Epochs())
	}

	src, err := gpstime.Resolve(args)
	if err != nil {
		return failGeneration(formatter, err)
	}
	if src.Kind != gpstime.KindTimes {
		return failGeneration(formatter, &workflow.InputError{
			Field:   "gps-time",
			Message: fmt.Sprintf("%q is not a GPS time", args[0]),
		})
	}

	gps := src.Times[0]
	e, err := table.Lookup(gps)
	if err != nil {
		return failGeneration(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(EpochLookup{GPS: gps, Epoch: e})
	}
	fmt.Fprintf(formatter.Writer, "%s %s\n", gpstime.Format(gps), e.Label)
	return nil
}

func outputEpochTable(formatter *OutputFormatter, epochs []epoch.Epoch) error {
	if formatter.Format == "json" {
		return formatter.Success(epochs)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSTART")
	for _, e := range epochs {
		fmt.Fprintf(tw, "%s\t%d\n", e.Label, e.Start)
	}
	return tw.Flush()
}
