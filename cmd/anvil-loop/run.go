package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ldd69/anvil/pkg/config"
	"github.com/ldd69/anvil/pkg/controller"
	"github.com/ldd69/anvil/pkg/gateway"
	"github.com/ldd69/anvil/pkg/ledger"
	"github.com/ldd69/anvil/pkg/monitor"
	"github.com/ldd69/anvil/pkg/prompt"
	"github.com/ldd69/anvil/pkg/runstate"
	"github.com/ldd69/anvil/pkg/spinner"
)

type runOptions struct {
	*rootOptions
	yes bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the convergence loop",
		Long: `Run resumes the run directory when it holds a data file, or bootstraps a
new run with one training call otherwise. It then iterates until the mean
acceptance reaches the target. Ctrl-C stops after the current invocation;
the next run resumes from the last recorded iteration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Start a new run without asking")
	return cmd
}

func (o *runOptions) run(ctx context.Context, out, errOut io.Writer) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging, o.verbose, errOut)

	plan, err := cfg.ResolvePlan()
	if err != nil {
		return err
	}

	printBanner(out, o.configPath, cfg, plan)

	session := uuid.NewString()
	gwCfg := gateway.Config{}
	if o.verbose {
		gwCfg.Stream = errOut
	}

	opts := []controller.Option{
		controller.WithLogger(log),
		controller.WithSessionID(session),
		controller.WithObserver(newReporter(out)),
	}
	if !o.yes && spinner.IsTerminal(os.Stdin) {
		opts = append(opts, controller.WithPrompter(prompt.NewTerminalPrompter()))
	}

	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer l.Close()
		opts = append(opts, controller.WithObserver(ledger.NewRecorder(l, plan.RunDir, session, log)))
	}

	var hub *monitor.Hub
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		hub = monitor.NewHub(log)
		mon = monitor.New(hub, session, plan.RunDir, cfg.Loop.TargetAcceptance)
		opts = append(opts, controller.WithObserver(mon))
	}

	ctrl := controller.New(
		controller.ParamsFromConfig(cfg, plan),
		runstate.NewStore(plan.RunDir),
		gateway.New(gwCfg),
		opts...,
	)

	sum, err := runGroup(ctx, ctrl, cfg.Monitor, hub, mon, log)
	printSummary(out, sum, err)

	switch {
	case err != nil:
		return err
	case sum.Interrupted:
		return errInterrupted
	case !sum.Converged:
		return errNotConverged
	}
	return nil
}

// runGroup runs the controller alongside the monitor when one is
// configured. The monitor stops once the controller returns.
func runGroup(ctx context.Context, ctrl *controller.Controller, cfg config.MonitorConfig,
	hub *monitor.Hub, mon *monitor.Monitor, log logrus.FieldLogger) (controller.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	monCtx, monCancel := context.WithCancel(gctx)
	defer monCancel()

	var sum controller.Summary
	g.Go(func() error {
		defer monCancel()
		var err error
		sum, err = ctrl.Run(gctx)
		return err
	})

	if hub != nil {
		g.Go(func() error {
			hub.Run(monCtx)
			return nil
		})
		srv := monitor.NewServer(monitor.ServerConfig{Addr: cfg.Addr}, hub, mon, log)
		g.Go(func() error {
			return srv.Run(monCtx)
		})
	}

	err := g.Wait()
	return sum, err
}

func printBanner(w io.Writer, configPath string, cfg *config.Config, plan config.Plan) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║            anvil-loop - train until accepted              ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "Config:   %s\n", configPath)
	} else {
		fmt.Fprintf(w, "Config:   (using defaults, run 'anvil-loop init' to create)\n")
	}
	fmt.Fprintf(w, "Run:      %s\n", plan.RunDir)
	fmt.Fprintf(w, "Target:   %.4f over %d samples, %d epochs per iteration\n",
		cfg.Loop.TargetAcceptance, cfg.Loop.NSample, plan.EpochsIter)
	if cfg.Monitor.Enabled {
		fmt.Fprintf(w, "Monitor:  http://%s/status\n", cfg.Monitor.Addr)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, sum controller.Summary, err error) {
	outcome := "stopped at iteration limit"
	switch {
	case err != nil:
		outcome = "failed"
	case sum.Converged:
		outcome = "converged"
	case sum.Interrupted:
		outcome = "interrupted"
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Run:         %s\n", sum.RunDir)
	if sum.SessionID != "" {
		fmt.Fprintf(w, "  Session:     %s\n", shortSession(sum.SessionID))
	}
	fmt.Fprintf(w, "  Epochs:      %d\n", sum.Epochs)
	fmt.Fprintf(w, "  Train time:  %s\n", time.Duration(sum.TrainTime)*time.Second)
	fmt.Fprintf(w, "  Acceptance:  %.4f (target %.4f)\n", sum.LastAcceptance, sum.Target)
	iterations := fmt.Sprintf("%d", sum.Iterations)
	if sum.Bootstrapped {
		iterations += " (after bootstrap)"
	}
	fmt.Fprintf(w, "  Iterations:  %s\n", iterations)
	fmt.Fprintf(w, "  Outcome:     %s\n", outcome)
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
