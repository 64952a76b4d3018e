// Package controller drives the external trainer and sampler until the
// measured acceptance reaches a target, persisting resumable state after
// every iteration.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ldd69/anvil/pkg/config"
	werrors "github.com/ldd69/anvil/pkg/errors"
	"github.com/ldd69/anvil/pkg/extract"
	"github.com/ldd69/anvil/pkg/lrtrace"
	"github.com/ldd69/anvil/pkg/prompt"
	"github.com/ldd69/anvil/pkg/runstate"
	"github.com/ldd69/anvil/pkg/stats"
)

// tolerance absorbs binary representation error when comparing a mean
// against the target, so a mean printed as 0.904 meets a target of 0.904.
const tolerance = 1e-9

// Runner executes one external program and returns its combined output.
// gateway.Gateway is the production implementation.
type Runner interface {
	Run(ctx context.Context, exe string, args ...string) ([]byte, error)
}

// PathChecker is implemented by runners that can verify an executable
// exists before the first invocation.
type PathChecker interface {
	LookPath(exe string) (string, error)
}

// Params are the loop parameters.
type Params struct {
	Trainer         string
	TrainingRuncard string
	Resume          string
	Sampler         string
	SamplingRuncard string
	RunDir          string
	EpochsIter      int
	NSample         int
	Target          float64
	MaxIterations   int
}

// ParamsFromConfig combines the loop config with the resolved runcard plan.
func ParamsFromConfig(cfg *config.Config, plan config.Plan) Params {
	return Params{
		Trainer:         cfg.Training.Executable,
		TrainingRuncard: cfg.Training.Runcard,
		Resume:          cfg.Training.Resume,
		Sampler:         cfg.Sampling.Executable,
		SamplingRuncard: cfg.Sampling.Runcard,
		RunDir:          plan.RunDir,
		EpochsIter:      plan.EpochsIter,
		NSample:         cfg.Loop.NSample,
		Target:          cfg.Loop.TargetAcceptance,
		MaxIterations:   cfg.Loop.MaxIterations,
	}
}

func (p Params) validate() error {
	if p.NSample < 2 {
		return werrors.InsufficientSamples(p.NSample)
	}
	if p.EpochsIter <= 0 {
		return werrors.Validationf(werrors.ErrValidationOutOfRange,
			"epochs per iteration must be positive, got %d", p.EpochsIter)
	}
	if p.RunDir == "" {
		return werrors.Validation(werrors.ErrValidationRequired, "run directory is required")
	}
	return nil
}

// Summary reports the outcome of Run. It is returned on every path.
type Summary struct {
	RunDir         string  `json:"run_dir"`
	SessionID      string  `json:"session_id"`
	Epochs         int     `json:"epochs"`
	TrainTime      int     `json:"train_time_seconds"`
	LastAcceptance float64 `json:"last_acceptance"`
	Target         float64 `json:"target"`
	Iterations     int     `json:"iterations"`
	Bootstrapped   bool    `json:"bootstrapped"`
	Converged      bool    `json:"converged"`
	Interrupted    bool    `json:"interrupted"`
}

func (s *Summary) update(rs runstate.RunState) {
	s.Epochs = rs.Epochs
	s.TrainTime = rs.TrainTime
	s.LastAcceptance = rs.LastAcceptance
}

// Controller runs the convergence loop for one run directory.
type Controller struct {
	params    Params
	store     *runstate.Store
	runner    Runner
	log       logrus.FieldLogger
	prompter  prompt.Prompter
	observers observers
	now       func() time.Time
	tracer    trace.Tracer
	sessionID string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = l }
}

// WithPrompter asks for confirmation before bootstrapping a new run.
// Without one the bootstrap proceeds.
func WithPrompter(p prompt.Prompter) Option {
	return func(c *Controller) { c.prompter = p }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithClock replaces time.Now for measuring training duration.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithSessionID sets the session id stamped on logs and events.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.sessionID = id }
}

// New creates a Controller.
func New(params Params, store *runstate.Store, runner Runner, opts ...Option) *Controller {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &Controller{
		params: params,
		store:  store,
		runner: runner,
		log:    discard,
		now:    time.Now,
		tracer: otel.Tracer("anvil/controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	c.log = c.log.WithFields(logrus.Fields{"run": params.RunDir, "session": shortID(c.sessionID)})
	return c
}

// SessionID returns the id of this controller's session.
func (c *Controller) SessionID() string { return c.sessionID }

// Run executes the loop until convergence, cancellation, the iteration
// bound, or the first fatal error. The returned Summary reflects the
// persisted progress in every case. Cancellation is not an error: Run
// returns a Summary with Interrupted set and a nil error.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunDir: c.params.RunDir, SessionID: c.sessionID, Target: c.params.Target}

	if err := c.params.validate(); err != nil {
		return sum, err
	}

	state, found, err := c.store.Load()
	if err != nil {
		return sum, err
	}
	if err := c.preflight(); err != nil {
		return sum, err
	}

	if found {
		c.log.WithFields(logrus.Fields{
			"epochs":     state.Epochs,
			"train_time": state.TrainTime,
			"acceptance": state.LastAcceptance,
		}).Info("Resuming run")
	} else {
		if err := c.confirmBootstrap(); err != nil {
			return sum, err
		}
		state, err = c.bootstrap(ctx)
		if err != nil {
			return c.finish(sum, err)
		}
		sum.Bootstrapped = true
	}
	sum.update(state)

	for {
		c.observers.stateChanged(StateCheck, state)
		if c.converged(state) {
			sum.Converged = true
			c.log.WithFields(logrus.Fields{
				"acceptance": state.LastAcceptance,
				"target":     c.params.Target,
			}).Info("Target acceptance reached")
			break
		}
		if c.params.MaxIterations > 0 && sum.Iterations >= c.params.MaxIterations {
			c.log.WithField("max_iterations", c.params.MaxIterations).
				Warn("Iteration limit reached before convergence")
			break
		}

		state, err = c.iterate(ctx, state, sum.Iterations+1)
		if err != nil {
			return c.finish(sum, err)
		}
		sum.Iterations++
		sum.update(state)
	}

	c.observers.stateChanged(StateDone, state)
	return sum, nil
}

// finish converts a cancellation into an interrupted summary.
func (c *Controller) finish(sum Summary, err error) (Summary, error) {
	if ctxErr(err) {
		sum.Interrupted = true
		c.log.Warn("Interrupted; progress up to the last recorded iteration is kept")
		return sum, nil
	}
	return sum, err
}

func (c *Controller) converged(rs runstate.RunState) bool {
	return rs.LastAcceptance >= c.params.Target-tolerance
}

func (c *Controller) preflight() error {
	pc, ok := c.runner.(PathChecker)
	if !ok {
		return nil
	}
	for _, exe := range []string{c.params.Trainer, c.params.Sampler} {
		if _, err := pc.LookPath(exe); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) confirmBootstrap() error {
	if c.prompter == nil {
		return nil
	}
	ok, err := c.prompter.Confirm(fmt.Sprintf("No run found in %s. Start a new run with %s?",
		c.params.RunDir, c.params.TrainingRuncard))
	if err != nil {
		return werrors.Wrap(err, werrors.ErrInternal, werrors.CategoryInternal, "confirmation failed")
	}
	if !ok {
		return werrors.New(werrors.ErrRunBootstrapDeclined, werrors.CategoryRun,
			"declined to start a new run").
			WithContext("run_dir", c.params.RunDir)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Bootstrap
// -----------------------------------------------------------------------------

// bootstrap runs the first training call, which creates the run directory.
// Its output is staged outside the run directory until the call succeeds.
func (c *Controller) bootstrap(ctx context.Context) (runstate.RunState, error) {
	c.observers.stateChanged(StateBootstrap, runstate.RunState{})
	c.log.WithField("epochs", c.params.EpochsIter).Info("Bootstrapping new run")

	ctx, span := c.tracer.Start(ctx, "anvil.bootstrap",
		trace.WithAttributes(attribute.String("run_dir", c.params.RunDir)))
	defer span.End()

	out, dur, err := c.invoke(ctx, Invocation{
		Kind:       "train",
		Executable: c.params.Trainer,
		Args:       []string{c.params.TrainingRuncard, "-o", c.params.RunDir},
		Index:      1,
		Total:      1,
	})
	if err != nil && out == nil {
		return runstate.RunState{}, fail(span, err, "bootstrap failed")
	}

	path, serr := c.store.StageBootstrapLog(out)
	if err != nil {
		if serr == nil {
			if ae, ok := werrors.AsAnvilError(err); ok {
				ae.WithContext("log", path)
			}
		}
		return runstate.RunState{}, fail(span, err, "bootstrap failed")
	}
	if serr != nil {
		return runstate.RunState{}, fail(span, serr, "staging bootstrap log failed")
	}

	c.observers.stateChanged(StatePersist, runstate.RunState{})
	m, err := extract.Parse(out)
	if err != nil {
		if ae, ok := werrors.AsAnvilError(err); ok {
			ae.WithContext("log", path)
		}
		return runstate.RunState{}, fail(span, err, "bootstrap output unusable")
	}
	c.warnSkipped(m)

	rows := lrtrace.Rebase(lrtrace.Span{EpochsIter: c.params.EpochsIter, Duration: dur.Seconds()}, m.LR)
	rec := runstate.IterationRecord{
		Epochs:    c.params.EpochsIter,
		TrainTime: int(dur.Seconds()),
		FinalLoss: m.FinalLoss,
	}

	if err := c.store.PromoteBootstrapLog(path, 0, rec.Epochs); err != nil {
		return runstate.RunState{}, fail(span, err, "promote log")
	}
	if err := c.store.AppendLearningRates(rows); err != nil {
		return runstate.RunState{}, fail(span, err, "append learning rates")
	}
	if err := c.store.Append(rec); err != nil {
		return runstate.RunState{}, fail(span, err, "append record")
	}

	c.log.WithFields(logrus.Fields{
		"epochs":     rec.Epochs,
		"train_time": rec.TrainTime,
		"loss":       rec.FinalLoss,
	}).Info("Bootstrap recorded")
	c.observers.iterationRecorded(Iteration{Bootstrap: true, Record: rec, LRRows: len(rows), Skipped: m.Skipped})
	return rec.State(), nil
}

// -----------------------------------------------------------------------------
// Iteration
// -----------------------------------------------------------------------------

// iterate runs one TRAIN, n SAMPLE and AGGREGATE_AND_PERSIST pass starting
// from before, returning the new state.
func (c *Controller) iterate(ctx context.Context, before runstate.RunState, number int) (runstate.RunState, error) {
	ctx, span := c.tracer.Start(ctx, "anvil.iteration",
		trace.WithAttributes(
			attribute.Int("iteration", number),
			attribute.Int("epochs_before", before.Epochs),
		))
	defer span.End()

	after := before.Epochs + c.params.EpochsIter
	var blob bytes.Buffer

	c.observers.stateChanged(StateTrain, before)
	out, dur, err := c.invoke(ctx, Invocation{
		Kind:       "train",
		Executable: c.params.Trainer,
		Args:       []string{c.params.RunDir, "-r", c.params.Resume},
		Index:      1,
		Total:      1,
	})
	blob.Write(out)
	if err != nil {
		return before, fail(span, c.abandon(before, after, blob.Bytes(), err, false), "training failed")
	}

	c.observers.stateChanged(StateSample, before)
	for i := 1; i <= c.params.NSample; i++ {
		out, _, err := c.invoke(ctx, Invocation{
			Kind:       "sample",
			Executable: c.params.Sampler,
			Args:       []string{c.params.SamplingRuncard},
			Index:      i,
			Total:      c.params.NSample,
		})
		blob.Write(out)
		if err != nil {
			return before, fail(span, c.abandon(before, after, blob.Bytes(), err, true), "sampling failed")
		}
	}

	c.observers.stateChanged(StatePersist, before)
	rec, it, err := c.persist(before, blob.Bytes(), dur)
	if err != nil {
		return before, fail(span, err, "persist failed")
	}
	it.Number = number

	span.SetAttributes(
		attribute.Float64("acceptance_mean", rec.AcceptanceMean),
		attribute.Int("epochs_after", rec.Epochs),
	)
	c.log.WithFields(logrus.Fields{
		"iteration":  number,
		"epochs":     rec.Epochs,
		"train_time": rec.TrainTime,
		"loss":       rec.FinalLoss,
		"acceptance": fmt.Sprintf("%.4f±%.4f", rec.AcceptanceMean, rec.AcceptanceStd),
		"tauint":     fmt.Sprintf("%.3f±%.3f", rec.TauintMean, rec.TauintStd),
	}).Info("Iteration recorded")
	c.observers.iterationRecorded(it)
	return rec.State(), nil
}

// persist appends the raw output, then the derived learning rates, then
// the data row. The data row is last because it marks the iteration
// complete for resume.
func (c *Controller) persist(before runstate.RunState, blob []byte, dur time.Duration) (runstate.IterationRecord, Iteration, error) {
	after := before.Epochs + c.params.EpochsIter
	if err := c.store.AppendLog(before.Epochs, after, blob); err != nil {
		return runstate.IterationRecord{}, Iteration{}, err
	}

	m, err := extract.Parse(blob)
	if err != nil {
		return runstate.IterationRecord{}, Iteration{}, err
	}
	c.warnSkipped(m)

	acc, err := stats.Aggregate(m.Acceptance, c.params.NSample)
	if err != nil {
		return runstate.IterationRecord{}, Iteration{}, withMetric(err, "acceptance")
	}
	tau, err := stats.Aggregate(m.Tauint, c.params.NSample)
	if err != nil {
		return runstate.IterationRecord{}, Iteration{}, withMetric(err, "tauint")
	}

	rows := lrtrace.Rebase(lrtrace.Span{
		EpochsBefore:    before.Epochs,
		TrainTimeBefore: before.TrainTime,
		EpochsIter:      c.params.EpochsIter,
		Duration:        dur.Seconds(),
	}, m.LR)
	if err := c.store.AppendLearningRates(rows); err != nil {
		return runstate.IterationRecord{}, Iteration{}, err
	}

	rec := runstate.IterationRecord{
		Epochs:         after,
		TrainTime:      before.TrainTime + int(dur.Seconds()),
		FinalLoss:      m.FinalLoss,
		AcceptanceMean: acc.Mean,
		AcceptanceStd:  acc.Std,
		TauintMean:     tau.Mean,
		TauintStd:      tau.Std,
	}
	if err := c.store.Append(rec); err != nil {
		return runstate.IterationRecord{}, Iteration{}, err
	}
	return rec, Iteration{Record: rec, LRRows: len(rows), Skipped: m.Skipped}, nil
}

// abandon handles a failed or cancelled invocation mid-iteration. Output
// captured from failed tools is kept in the log; nothing is recorded in
// the data file, so a resume repeats the whole iteration.
func (c *Controller) abandon(before runstate.RunState, after int, blob []byte, err error, trained bool) error {
	if ctxErr(err) {
		if trained {
			c.log.WithField("epochs", after-before.Epochs).
				Warn("Training advanced the checkpoint but the iteration was not recorded")
		}
		return err
	}
	if len(blob) > 0 {
		failed := append(append([]byte(nil), blob...), []byte("\n(failed)\n")...)
		if lerr := c.store.AppendLog(before.Epochs, after, failed); lerr != nil {
			c.log.WithError(lerr).Error("Could not append failed output to log")
		}
	}
	return err
}

// invoke runs one external call. The context is checked first so that no
// new process starts after cancellation.
func (c *Controller) invoke(ctx context.Context, inv Invocation) ([]byte, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	ctx, span := c.tracer.Start(ctx, "anvil.invoke",
		trace.WithAttributes(
			attribute.String("kind", inv.Kind),
			attribute.String("executable", inv.Executable),
			attribute.Int("index", inv.Index),
		))
	defer span.End()

	c.observers.invocationStarted(inv)
	log := c.log.WithFields(logrus.Fields{"exe": inv.Executable, "kind": inv.Kind})
	if inv.Total > 1 {
		log = log.WithField("n", strconv.Itoa(inv.Index)+"/"+strconv.Itoa(inv.Total))
	}
	log.WithField("args", inv.Args).Debug("Starting")

	start := c.now()
	out, err := c.runner.Run(ctx, inv.Executable, inv.Args...)
	inv.Duration = c.now().Sub(start)

	// A terminal interrupt reaches the child too. When it dies after the
	// context was cancelled, the failure is the interrupt, not the tool.
	if err != nil && ctx.Err() != nil {
		log.WithError(err).Warn("Invocation ended by interrupt")
		err = ctx.Err()
		c.observers.invocationFinished(inv, err)
		return out, inv.Duration, err
	}

	c.observers.invocationFinished(inv, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, inv.Kind+" failed")
		log.WithError(err).WithField("duration", inv.Duration).Error("Invocation failed")
		return out, inv.Duration, err
	}
	log.WithField("duration", inv.Duration.Round(time.Millisecond)).Debug("Finished")
	return out, inv.Duration, nil
}

func (c *Controller) warnSkipped(m *extract.Metrics) {
	if m.Skipped > 0 {
		c.log.WithField("lines", m.Skipped).Warn("Skipped malformed learning-rate lines")
	}
}

func withMetric(err error, metric string) error {
	if ae, ok := werrors.AsAnvilError(err); ok {
		ae.WithContext("metric", metric)
	}
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func fail(span trace.Span, err error, msg string) error {
	if !ctxErr(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	}
	return err
}
