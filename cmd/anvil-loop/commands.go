package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ldd69/anvil/pkg/config"
	werrors "github.com/ldd69/anvil/pkg/errors"
	"github.com/ldd69/anvil/pkg/export"
	"github.com/ldd69/anvil/pkg/ledger"
	"github.com/ldd69/anvil/pkg/runstate"
)

// -----------------------------------------------------------------------------
// status
// -----------------------------------------------------------------------------

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted state of the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			plan, err := cfg.ResolvePlan()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), cfg, plan)
		},
	}
}

func printStatus(w io.Writer, cfg *config.Config, plan config.Plan) error {
	store := runstate.NewStore(plan.RunDir)
	state, found, err := store.Load()
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "No run in %s yet. 'anvil-loop run' bootstraps one.\n", plan.RunDir)
		return nil
	}
	records, err := store.Records()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run:         %s\n", plan.RunDir)
	fmt.Fprintf(w, "Epochs:      %d\n", state.Epochs)
	fmt.Fprintf(w, "Train time:  %s\n", time.Duration(state.TrainTime)*time.Second)
	fmt.Fprintf(w, "Acceptance:  %.4f (target %.4f)\n", state.LastAcceptance, cfg.Loop.TargetAcceptance)
	fmt.Fprintf(w, "Rows:        %d\n", len(records))

	last := records[len(records)-1]
	fmt.Fprintln(w, "Last record:")
	fmt.Fprintf(w, "  final loss  %g\n", last.FinalLoss)
	fmt.Fprintf(w, "  acceptance  %.4f ± %.4f\n", last.AcceptanceMean, last.AcceptanceStd)
	fmt.Fprintf(w, "  τ_int       %.3f ± %.3f\n", last.TauintMean, last.TauintStd)

	fp := runFingerprint(cfg, plan, records)
	fmt.Fprintf(w, "Fingerprint: %s\n", fp.ShortHash())

	if state.LastAcceptance >= cfg.Loop.TargetAcceptance {
		fmt.Fprintln(w, "Converged.")
	}
	return nil
}

func runFingerprint(cfg *config.Config, plan config.Plan, records []runstate.IterationRecord) *export.Fingerprint {
	return export.NewFingerprintBuilder().
		WithToolVersion(version).
		WithLoop(cfg.Loop.TargetAcceptance, cfg.Loop.NSample, plan.EpochsIter).
		WithRecords(records).
		WithParameter("run_dir", plan.RunDir).
		Build()
}

// -----------------------------------------------------------------------------
// history
// -----------------------------------------------------------------------------

type historyOptions struct {
	*rootOptions
	all   bool
	runs  bool
	limit int
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &historyOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List iterations recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "Include every run, not just the configured one")
	cmd.Flags().BoolVar(&opts.runs, "runs", false, "List run directories only")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Most recent entries to show (0 for all)")
	return cmd
}

func (o *historyOptions) run(ctx context.Context, w io.Writer) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" {
		return werrors.Validation(werrors.ErrValidationRequired, "no ledger configured").
			WithContext("field", "ledger.path").
			WithSuggestion("Set ledger.path in the config or pass --ledger")
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	if o.runs {
		runs, err := l.Runs(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Fprintln(w, r)
		}
		return nil
	}

	q := ledger.Query{Limit: o.limit}
	if !o.all {
		plan, err := cfg.ResolvePlan()
		if err != nil {
			return err
		}
		q.RunDir = plan.RunDir
	}
	entries, err := l.History(ctx, q)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No iterations recorded.")
		return nil
	}
	printHistory(w, entries, o.all)
	return nil
}

func printHistory(w io.Writer, entries []ledger.Entry, withRun bool) {
	header := fmt.Sprintf("%-19s  %-8s  %4s  %8s  %8s  %-17s  %-15s",
		"recorded", "session", "iter", "epochs", "time", "acceptance", "τ_int")
	if withRun {
		header += "  run"
	}
	fmt.Fprintln(w, header)

	for _, e := range entries {
		iter := fmt.Sprintf("%d", e.Number)
		if e.Bootstrap {
			iter = "boot"
		}
		r := e.Record
		line := fmt.Sprintf("%-19s  %-8s  %4s  %8d  %7ds  %.4f ± %.4f  %6.3f ± %6.3f",
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
			shortSession(e.SessionID), iter, r.Epochs, r.TrainTime,
			r.AcceptanceMean, r.AcceptanceStd, r.TauintMean, r.TauintStd)
		if withRun {
			line += "  " + e.RunDir
		}
		fmt.Fprintln(w, line)
	}
}

// -----------------------------------------------------------------------------
// export
// -----------------------------------------------------------------------------

type exportOptions struct {
	*rootOptions
	format    string
	what      string
	dialect   string
	metric    string
	precision int
	output    string
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the run's data as CSV or an SVG plot",
		Long: `Export reads the run directory and writes either a CSV table (the data file
or the rebased learning-rate file) or an SVG figure. Without --metric the SVG
stacks acceptance against the target over the learning-rate schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "csv", "Output format: csv, svg")
	f.StringVar(&opts.what, "what", "records", "CSV table: records, lr")
	f.StringVar(&opts.dialect, "dialect", "standard", "CSV dialect: standard, excel, tsv")
	f.IntVar(&opts.precision, "precision", -1, "CSV decimal places (-1 for shortest)")
	f.StringVar(&opts.metric, "metric", "", "SVG single metric: acceptance, tauint, loss, learning_rate")
	f.StringVarP(&opts.output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func (o *exportOptions) run(stdout io.Writer) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	plan, err := cfg.ResolvePlan()
	if err != nil {
		return err
	}

	store := runstate.NewStore(plan.RunDir)
	if _, found, err := store.Load(); err != nil {
		return err
	} else if !found {
		return werrors.Validation(werrors.ErrValidationRequired, "no run to export").
			WithContext("run_dir", plan.RunDir)
	}

	w := stdout
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return werrors.IOWrap(err, werrors.ErrIOWriteFailed, "cannot create export file").
				WithContext("path", o.output)
		}
		defer f.Close()
		w = f
	}

	switch o.format {
	case "csv":
		err = o.writeCSV(w, store)
	case "svg":
		err = o.writeSVG(w, store, cfg, plan)
	default:
		return werrors.Validationf(werrors.ErrValidationOutOfRange,
			"unknown export format %q (want csv or svg)", o.format)
	}
	if err != nil {
		return err
	}
	if o.output != "" {
		fmt.Fprintf(stdout, "Exported %s to %s\n", o.format, o.output)
	}
	return nil
}

func (o *exportOptions) writeCSV(w io.Writer, store *runstate.Store) error {
	dialect, err := export.ParseDialect(o.dialect)
	if err != nil {
		return werrors.Validation(werrors.ErrValidationOutOfRange, err.Error())
	}
	cfg := export.DefaultCSVConfig()
	cfg.Dialect = dialect
	cfg.Precision = o.precision

	switch o.what {
	case "records":
		records, err := store.Records()
		if err != nil {
			return err
		}
		return export.ExportRecordsToCSV(w, records, cfg)
	case "lr":
		rows, err := store.LearningRates()
		if err != nil {
			return err
		}
		return export.ExportLearningRatesToCSV(w, rows, cfg)
	}
	return werrors.Validationf(werrors.ErrValidationOutOfRange,
		"unknown table %q (want records or lr)", o.what)
}

func (o *exportOptions) writeSVG(w io.Writer, store *runstate.Store, cfg *config.Config, plan config.Plan) error {
	records, err := store.Records()
	if err != nil {
		return err
	}
	rows, err := store.LearningRates()
	if err != nil {
		return err
	}

	svg := export.DefaultSVGConfig()
	svg.ToolVersion = version
	svg.Fingerprint = runFingerprint(cfg, plan, records).ShortHash()

	if o.metric == "" {
		return export.ExportRunReport(w, records, rows, cfg.Loop.TargetAcceptance, svg)
	}
	metric, err := export.ParseMetric(o.metric)
	if err != nil {
		return werrors.Validation(werrors.ErrValidationOutOfRange, err.Error())
	}
	plot := export.LearningRatePlot(rows, svg)
	if metric != export.MetricLearningRate {
		plot = export.RecordPlot(records, metric, cfg.Loop.TargetAcceptance, svg)
	}
	_, err = plot.WriteTo(w)
	return err
}

// -----------------------------------------------------------------------------
// init, version
// -----------------------------------------------------------------------------

func newInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := config.InitConfig(root.configPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !created {
				fmt.Fprintf(w, "Config already exists at: %s\n", root.configPath)
				return nil
			}
			fmt.Fprintf(w, "Config initialized at: %s\n", root.configPath)
			fmt.Fprintln(w, "Edit this file to point at your training and sampling executables.")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anvil-loop %s\n", version)
		},
	}
}
