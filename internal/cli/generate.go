package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/scanbatch/internal/condor"
	"github.com/roach88/scanbatch/internal/config"
	"github.com/roach88/scanbatch/internal/epoch"
	"github.com/roach88/scanbatch/internal/gpstime"
	"github.com/roach88/scanbatch/internal/store"
	"github.com/roach88/scanbatch/internal/workflow"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions

	IFO                string
	OutputDir          string
	ConfigFile         string
	FrequencyScaling   string
	Colormap           string
	DisableCorrelation bool
	DisableCheckpoint  bool
	IgnoreStateFlags   bool
	FARThreshold       float64
	NProc              int

	Universe   string
	Executable string
	Tag        string

	AccountingGroup     string
	AccountingGroupUser string
	TimeoutHours        float64
	Commands            []string

	Submit  bool
	Monitor bool

	DefaultsFile string
	EpochTable   string
	Ledger       string

	// Scheduler overrides the HTCondor command-line tools (for testing).
	// If nil, the tools named in the defaults are run.
	Scheduler condor.Scheduler
}

// GenerateResult is the success payload of the generate command.
type GenerateResult struct {
	*workflow.Artifacts
	Outcome      condor.Outcome `json:"outcome"`
	GenerationID string         `json:"generation_id,omitempty"`
	Previous     int            `json:"previous_generations,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}
	builtin := config.Builtin(os.Getenv)

	cmd := &cobra.Command{
		Use:   "generate <gps-time>... | generate <times-file>",
		Short: "Write an HTCondor DAG with one omega scan per GPS time",
		Long: `Write an HTCondor DAG with one independent omega-scan job per GPS time.

Times are given as arguments, or as a single file whose first column
holds one time per row. Every job shares the same scan options; the only
per-job argument is its GPS time. The DAG and its submit file are written
to the output directory as <tag>.dag and <tag>.sub, with scheduler logs
under <output-dir>/logs.

The accounting group may contain {epoch}, which is replaced by the
observing run of the latest time in the batch.

Examples:
  scan-batch generate -i L1 -o ./scans 1187008882.43 1187058327.08
  scan-batch generate -i H1 -o ./scans times.txt --submit --monitor
  scan-batch generate -i L1 --condor-timeout 4 --condor-command request_memory=4096 times.txt`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.IFO, "ifo", "i", "", "interferometer prefix, e.g. H1 or L1 (required)")
	f.StringVarP(&opts.OutputDir, "output-dir", "o", ".", "directory for the DAG, submit file and scan output")
	f.StringVarP(&opts.ConfigFile, "config-file", "f", "", "omega-scan configuration file, passed through unchecked")
	f.StringVar(&opts.FrequencyScaling, "frequency-scaling", builtin.FrequencyScaling, "frequency axis scaling (log|linear)")
	f.StringVar(&opts.Colormap, "colormap", builtin.Colormap, "colormap for spectrograms")
	f.BoolVar(&opts.DisableCorrelation, "disable-correlation", false, "disable cross-correlation of aux channels")
	f.BoolVar(&opts.DisableCheckpoint, "disable-checkpoint", false, "disable checkpointing of scan progress")
	f.BoolVar(&opts.IgnoreStateFlags, "ignore-state-flags", false, "ignore detector state flags")
	f.Float64Var(&opts.FARThreshold, "far-threshold", builtin.FARThreshold, "false alarm rate threshold (Hz) for reporting channels")
	f.IntVarP(&opts.NProc, "nproc", "j", builtin.NProc, "worker processes per scan, also requested as CPUs")
	f.StringVar(&opts.Universe, "universe", builtin.Universe, "HTCondor universe")
	f.StringVar(&opts.Executable, "executable", builtin.Executable, "omega-scan executable")
	f.StringVar(&opts.Tag, "tag", "", "workflow tag naming files and jobs (default: command name)")
	f.StringVar(&opts.AccountingGroup, "condor-accounting-group", builtin.AccountingGroup, "accounting group, may contain {epoch}")
	f.StringVar(&opts.AccountingGroupUser, "condor-accounting-group-user", builtin.AccountingGroupUser, "accounting group user")
	f.Float64Var(&opts.TimeoutHours, "condor-timeout", 0, "remove jobs running longer than this many hours (0 disables)")
	f.StringArrayVar(&opts.Commands, "condor-command", nil, "extra submit directive key=value (repeatable)")
	f.BoolVar(&opts.Submit, "submit", false, "submit the DAG with condor_submit_dag")
	f.BoolVar(&opts.Monitor, "monitor", false, "watch the submitted DAG until it finishes (requires --submit)")
	f.StringVar(&opts.DefaultsFile, "defaults", "", "YAML file overriding built-in defaults")
	f.StringVar(&opts.EpochTable, "epoch-table", "", "CUE epoch table (default: built-in observing runs)")
	f.StringVar(&opts.Ledger, "ledger", "", "SQLite ledger recording each generation")

	return cmd
}

func runGenerate(opts *GenerateOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	defaults := config.Builtin(os.Getenv)
	if opts.DefaultsFile != "" {
		loaded, err := config.Load(opts.DefaultsFile, defaults)
		if err != nil {
			return formatter.Fail(ExitInputError, ErrCodeDefaults, err, nil)
		}
		defaults = loaded
		logger.Debug("loaded defaults", "path", opts.DefaultsFile)
	}
	applyDefaults(cmd, opts, defaults)

	wf, err := buildWorkflow(opts, args, cmd.Root().Name())
	if err != nil {
		return failGeneration(formatter, err)
	}
	logger.Debug("workflow assembled", "tag", wf.Tag, "nodes", len(wf.Nodes),
		"accounting_group", wf.Directives.AccountingGroup)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	// Open the ledger before writing so a bad path leaves nothing behind.
	var ledger *store.Store
	if opts.Ledger != "" {
		ledger, err = store.Open(opts.Ledger)
		if err != nil {
			return formatter.Fail(ExitWriteError, ErrCodeLedger, err, nil)
		}
		defer func() {
			if closeErr := ledger.Close(); closeErr != nil {
				logger.Error("error closing ledger", "error", closeErr)
			}
		}()
	}

	arts, err := wf.Write()
	if err != nil {
		return failGeneration(formatter, err)
	}
	logger.Info("workflow written", "dag", arts.DAGPath, "nodes", arts.Nodes)

	result := &GenerateResult{Artifacts: arts}
	var gen store.Generation
	if ledger != nil {
		gen, err = recordGeneration(parentCtx, ledger, wf, arts, result, logger)
		if err != nil {
			return formatter.Fail(ExitWriteError, ErrCodeLedger, err, nil)
		}
	}

	ctx, stop := signalContext(parentCtx, logger)
	defer stop()

	controller := &condor.Controller{
		Scheduler: schedulerFor(opts, defaults, cmd),
		Logger:    logger,
	}
	outcome, runErr := controller.Run(ctx, arts.DAGPath, arts.LogPath, condor.Plan{
		Submit:  opts.Submit,
		Monitor: opts.Monitor,
	})
	result.Outcome = outcome

	if ledger != nil && opts.Submit {
		exitCode := ExitSuccess
		if !outcome.Submitted {
			exitCode, _ = classifyError(runErr)
		}
		if err := ledger.RecordSubmission(parentCtx, gen.ID, exitCode); err != nil {
			logger.Error("error recording submission", "id", gen.ID, "error", err)
		}
	}

	if runErr != nil {
		return failGeneration(formatter, runErr)
	}
	return outputGenerateSuccess(formatter, result)
}

// applyDefaults fills every option not set on the command line from d.
func applyDefaults(cmd *cobra.Command, opts *GenerateOptions, d config.Defaults) {
	changed := cmd.Flags().Changed
	if !changed("frequency-scaling") {
		opts.FrequencyScaling = d.FrequencyScaling
	}
	if !changed("colormap") {
		opts.Colormap = d.Colormap
	}
	if !changed("far-threshold") {
		opts.FARThreshold = d.FARThreshold
	}
	if !changed("nproc") {
		opts.NProc = d.NProc
	}
	if !changed("universe") {
		opts.Universe = d.Universe
	}
	if !changed("executable") {
		opts.Executable = d.Executable
	}
	if !changed("condor-accounting-group") {
		opts.AccountingGroup = d.AccountingGroup
	}
	if !changed("condor-accounting-group-user") {
		opts.AccountingGroupUser = d.AccountingGroupUser
	}
	if !changed("epoch-table") {
		opts.EpochTable = d.EpochTable
	}
}

// buildWorkflow runs every input check and assembles the workflow. It
// touches the filesystem only to read a times file or epoch table.
func buildWorkflow(opts *GenerateOptions, args []string, defaultTag string) (*workflow.Workflow, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	times, err := gpstime.Normalize(args)
	if err != nil {
		return nil, err
	}

	table, err := loadEpochTable(opts.EpochTable)
	if err != nil {
		return nil, err
	}

	// Scans run from the scheduler's working directory, so pass them an
	// absolute output path.
	outdir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, &workflow.InputError{Field: "output-dir", Message: "resolving output directory", Err: err}
	}

	flags := workflow.BuildFlags(workflow.FlagOptions{
		IFO:                opts.IFO,
		OutputDir:          outdir,
		ConfigFile:         opts.ConfigFile,
		FrequencyScaling:   opts.FrequencyScaling,
		Colormap:           opts.Colormap,
		NProc:              opts.NProc,
		FARThreshold:       opts.FARThreshold,
		DisableCorrelation: opts.DisableCorrelation,
		DisableCheckpoint:  opts.DisableCheckpoint,
		IgnoreStateFlags:   opts.IgnoreStateFlags,
	})

	directives, err := workflow.BuildDirectives(workflow.DirectiveOptions{
		AccountingGroup:     opts.AccountingGroup,
		AccountingGroupUser: opts.AccountingGroupUser,
		TimeoutHours:        opts.TimeoutHours,
		Extra:               opts.Commands,
	}, gpstime.Max(times), table)
	if err != nil {
		return nil, err
	}

	tag := opts.Tag
	if tag == "" {
		tag = defaultTag
	}
	return workflow.New(workflow.Config{
		Tag:        tag,
		OutputDir:  outdir,
		Universe:   opts.Universe,
		Executable: opts.Executable,
	}, times, flags, directives)
}

func validateOptions(opts *GenerateOptions) error {
	switch {
	case opts.IFO == "":
		return &workflow.InputError{Field: "ifo", Message: "--ifo is required"}
	case !config.IsFrequencyScaling(opts.FrequencyScaling):
		return &workflow.InputError{
			Field:   "frequency-scaling",
			Message: fmt.Sprintf("%q must be one of %v", opts.FrequencyScaling, config.FrequencyScalings),
		}
	case opts.NProc < 1:
		return &workflow.InputError{Field: "nproc", Message: fmt.Sprintf("must be at least 1, got %d", opts.NProc)}
	case !(opts.FARThreshold > 0) || math.IsInf(opts.FARThreshold, 0):
		return &workflow.InputError{Field: "far-threshold", Message: fmt.Sprintf("must be a positive number, got %v", opts.FARThreshold)}
	}
	return nil
}

func loadEpochTable(path string) (*epoch.Table, error) {
	if path == "" {
		return epoch.Default(), nil
	}
	table, err := epoch.LoadFile(path)
	if err != nil {
		return nil, &workflow.InputError{Field: "epoch-table", Message: "loading epoch table", Err: err}
	}
	return table, nil
}

func recordGeneration(ctx context.Context, ledger *store.Store, wf *workflow.Workflow, arts *workflow.Artifacts, result *GenerateResult, logger *slog.Logger) (store.Generation, error) {
	previous, err := ledger.FindByDigest(ctx, arts.DAGDigest)
	if err != nil {
		return store.Generation{}, err
	}
	if len(previous) > 0 {
		logger.Info("identical workflow generated before", "first_id", previous[0].ID, "count", len(previous))
	}

	gen, err := ledger.RecordGeneration(ctx, store.Generation{
		Tag:             arts.Tag,
		DAGPath:         arts.DAGPath,
		SubmitPath:      arts.SubmitPath,
		DAGDigest:       arts.DAGDigest,
		SubmitDigest:    arts.SubmitDigest,
		Nodes:           arts.Nodes,
		MaxGPS:          arts.MaxGPS,
		AccountingGroup: wf.Directives.AccountingGroup,
	})
	if err != nil {
		return store.Generation{}, err
	}
	logger.Debug("generation recorded", "id", gen.ID, "seq", gen.Seq)

	result.GenerationID = gen.ID
	result.Previous = len(previous)
	return gen, nil
}

func schedulerFor(opts *GenerateOptions, d config.Defaults, cmd *cobra.Command) condor.Scheduler {
	if opts.Scheduler != nil {
		return opts.Scheduler
	}
	// Tool output must not corrupt JSON on stdout.
	stdout := cmd.OutOrStdout()
	if opts.Format == "json" {
		stdout = cmd.ErrOrStderr()
	}
	tools := condor.NewCLI(stdout, cmd.ErrOrStderr())
	tools.SubmitCommand = d.SubmitCommand
	tools.WatchCommand = d.WatchCommand
	return tools
}

// signalContext is cancelled on SIGINT or SIGTERM, or when parent is done.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

func failGeneration(formatter *OutputFormatter, err error) error {
	exitCode, code := classifyError(err)
	return formatter.Fail(exitCode, code, err, nil)
}

// outputGenerateSuccess outputs the written artifacts and scheduler outcome.
func outputGenerateSuccess(formatter *OutputFormatter, result *GenerateResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Wrote %d job(s) for %s\n", result.Nodes, result.Tag)
	fmt.Fprintf(w, "  DAG:    %s\n", result.DAGPath)
	fmt.Fprintf(w, "  Submit: %s\n", result.SubmitPath)
	fmt.Fprintf(w, "  Log:    %s\n", result.LogPath)
	if result.GenerationID != "" {
		fmt.Fprintf(w, "Recorded as %s\n", result.GenerationID)
	}
	if result.Outcome.Submitted {
		fmt.Fprintf(w, "Submitted %s\n", result.DAGPath)
	}
	if result.Outcome.Interrupted {
		fmt.Fprintln(w, "Monitoring stopped; the workflow keeps running.")
	}
	formatter.VerboseLog("DAG digest: %s", result.DAGDigest)
	return nil
}
