package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/scanbatch/internal/gpstime"
	"github.com/roach88/scanbatch/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger string
	Limit  int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List workflows recorded in a ledger",
		Long: `List the workflows recorded by generate --ledger, newest first.

Examples:
  scan-batch history --ledger ./scans.db
  scan-batch history --ledger ./scans.db --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to SQLite ledger (required)")
	_ = cmd.MarkFlagRequired("ledger")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum records to show (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create an empty ledger.
	if _, err := os.Stat(opts.Ledger); err != nil {
		return formatter.Fail(ExitInputError, ErrCodeLedger, fmt.Errorf("ledger not found: %w", err), nil)
	}

	st, err := store.Open(opts.Ledger)
	if err != nil {
		return formatter.Fail(ExitWriteError, ErrCodeLedger, err, nil)
	}
	defer st.Close()

	gens, err := st.ListGenerations(ctx, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeLedger, err, nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(gens)
	}

	if len(gens) == 0 {
		fmt.Fprintln(formatter.Writer, "No generations recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tTAG\tJOBS\tMAX GPS\tSTATUS\tDAG")
	for _, g := range gens {
		status := g.SubmitStatus
		if g.ExitCode != nil && *g.ExitCode != 0 {
			status = fmt.Sprintf("%s (%d)", status, *g.ExitCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			g.Seq, g.ID, g.Tag, g.Nodes, gpstime.Format(g.MaxGPS), status, g.DAGPath)
	}
	return tw.Flush()
}
