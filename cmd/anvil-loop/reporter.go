package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ldd69/anvil/pkg/controller"
	"github.com/ldd69/anvil/pkg/runstate"
	"github.com/ldd69/anvil/pkg/spinner"
)

// reporter shows loop progress on the terminal: a spinner while training
// and a progress bar across the sampling calls of an iteration.
type reporter struct {
	w   io.Writer
	tty *bool

	mu    sync.Mutex
	state controller.State
	rs    runstate.RunState
	spin  *spinner.Spinner
	bar   *spinner.ProgressBar
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w}
}

func (r *reporter) StateChanged(state controller.State, rs runstate.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state, r.rs = state, rs
}

func (r *reporter) InvocationStarted(inv controller.Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch inv.Kind {
	case "train":
		msg := fmt.Sprintf("Training from epoch %d", r.rs.Epochs)
		if r.state == controller.StateBootstrap {
			msg = "Training new run"
		}
		r.spin = spinner.NewWithConfig(spinner.Config{
			Message:     msg,
			ShowElapsed: true,
			Writer:      r.w,
			IsTTY:       r.tty,
		})
		r.spin.Start()
	case "sample":
		if inv.Index == 1 || r.bar == nil {
			cfg := spinner.DefaultProgressConfig()
			cfg.Writer = r.w
			cfg.Total = inv.Total
			cfg.Message = "Sampling"
			cfg.IsTTY = r.tty
			r.bar = spinner.NewProgressWithConfig(cfg)
			r.bar.Start()
		}
	}
}

func (r *reporter) InvocationFinished(inv controller.Invocation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch inv.Kind {
	case "train":
		if r.spin == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			r.spin.Fail("Training interrupted")
		} else if err != nil {
			r.spin.Fail(fmt.Sprintf("%s failed", inv.Executable))
		} else {
			r.spin.Success("Training complete")
		}
		r.spin = nil
	case "sample":
		if r.bar == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			r.bar.Fail(fmt.Sprintf("Sampling interrupted on call %d/%d", inv.Index, inv.Total))
			r.bar = nil
			return
		}
		if err != nil {
			r.bar.Fail(fmt.Sprintf("%s failed on call %d/%d", inv.Executable, inv.Index, inv.Total))
			r.bar = nil
			return
		}
		r.bar.Increment()
		if inv.Index >= inv.Total {
			r.bar.Complete("")
			r.bar = nil
		}
	}
}

func (r *reporter) IterationRecorded(it controller.Iteration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := it.Record
	if it.Bootstrap {
		fmt.Fprintf(r.w, "Bootstrap: %d epochs in %ds, final loss %g\n", rec.Epochs, rec.TrainTime, rec.FinalLoss)
		return
	}
	fmt.Fprintf(r.w, "Iteration %d: %d epochs, acceptance %.4f ± %.4f, τ_int %.3f ± %.3f\n",
		it.Number, rec.Epochs, rec.AcceptanceMean, rec.AcceptanceStd, rec.TauintMean, rec.TauintStd)
	if it.Skipped > 0 {
		fmt.Fprintf(r.w, "  (%d malformed learning-rate lines skipped)\n", it.Skipped)
	}
}

var _ controller.Observer = (*reporter)(nil)
