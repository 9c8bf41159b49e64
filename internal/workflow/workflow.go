// Package workflow sequences a report run through its fixed stage order:
// Planning, Gathering, Narrating, Visualizing, Binding, Assembling. Every
// stage executes inside one uniform runner that times it, contains panics,
// classifies errors, and decides degrade versus escalate. Only a
// FatalStageError crosses a stage boundary, and it does so by moving the run
// to Failed rather than raising to the caller.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainbrief/internal/assemble"
	"chainbrief/internal/bind"
	"chainbrief/internal/gather"
	"chainbrief/internal/narrative"
	"chainbrief/internal/plan"
	"chainbrief/internal/report"
	"chainbrief/internal/source"
	"chainbrief/internal/state"
	"chainbrief/internal/viz"
)

// Stage names the machine's states.
type Stage string

const (
	StageIdle        Stage = "idle"
	StagePlanning    Stage = "planning"
	StageGathering   Stage = "gathering"
	StageNarrating   Stage = "narrating"
	StageVisualizing Stage = "visualizing"
	StageBinding     Stage = "binding"
	StageAssembling  Stage = "assembling"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// stageOrder is the only legal forward path. There is no retry-in-place.
var stageOrder = []Stage{
	StageIdle, StagePlanning, StageGathering, StageNarrating,
	StageVisualizing, StageBinding, StageAssembling, StageCompleted,
}

// FatalStageError escalates the whole run to Failed. Everything else is
// degraded in place.
type FatalStageError struct {
	Stage Stage
	Err   error
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("stage %s failed fatally: %v", e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error { return e.Err }

// Progress is one event on the run's progress stream.
type Progress struct {
	Stage   Stage
	Percent int
	Message string
}

// Result is the terminal outcome of a run. On failure the partial state is
// preserved and ArtifactPath may point at a best-effort degraded document.
type Result struct {
	State        *state.ResearchState
	ArtifactPath string
}

// Deps are the engine's collaborators.
type Deps struct {
	Aggregator *gather.Aggregator
	Generator  narrative.Generator // nil disables generation
	Visualizer *viz.Binder
	Sections   *bind.Binder
	Assembler  *assemble.Assembler
	Renderer   assemble.DocumentRenderer
	Logger     *zap.Logger
}

// Options tune a run.
type Options struct {
	// RunTimeout bounds the whole run. Zero means no bound beyond ctx.
	RunTimeout time.Duration

	// OnProgress, when set, receives every progress event.
	OnProgress func(Progress)
}

// Engine executes report runs.
type Engine struct {
	deps Deps
	opts Options
}

// New builds an engine.
func New(deps Deps, opts Options) *Engine {
	return &Engine{deps: deps, opts: opts}
}

// Run executes one report run. The returned error is always nil or a
// *FatalStageError; the Result is non-nil in both cases so callers can
// inspect the partial state after a failure.
func (e *Engine) Run(ctx context.Context, subject string, spec *report.Specification) (*Result, error) {
	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}

	st := state.New(uuid.NewString(), subject)
	e.deps.Logger.Info("run started",
		zap.String("run_id", st.RunID), zap.String("subject", subject))

	var tasks []plan.Task
	var sections []bind.Section

	stages := []struct {
		stage   Stage
		percent int
		fn      func(context.Context) error
	}{
		{StagePlanning, 10, func(ctx context.Context) error {
			tasks = plan.Build(spec)
			e.deps.Logger.Debug("plan built", zap.Int("tasks", len(tasks)))
			return nil
		}},
		{StageGathering, 40, func(ctx context.Context) error {
			return e.deps.Aggregator.Run(ctx, st, spec, tasks)
		}},
		{StageNarrating, 60, func(ctx context.Context) error {
			st.Narrative = e.narrate(ctx, st, spec)
			return nil
		}},
		{StageVisualizing, 75, func(ctx context.Context) error {
			e.deps.Visualizer.Bind(ctx, st, spec)
			return nil
		}},
		{StageBinding, 88, func(ctx context.Context) error {
			sections = e.deps.Sections.Bind(st, spec, st.Narrative)
			return requireBodies(spec, sections)
		}},
		{StageAssembling, 100, func(ctx context.Context) error {
			cmds := e.deps.Assembler.Build(st, spec, sections)
			path, err := e.deps.Renderer.Render(ctx, subject, cmds)
			if err != nil {
				return err
			}
			st.ArtifactPath = path
			return nil
		}},
	}

	current := StageIdle
	for _, s := range stages {
		if err := advance(current, s.stage); err != nil {
			return e.fail(ctx, st, spec, sections, &FatalStageError{Stage: s.stage, Err: err})
		}
		current = s.stage
		if err := e.runStage(ctx, st, s.stage, s.percent, s.fn); err != nil {
			var fatal *FatalStageError
			errors.As(err, &fatal)
			return e.fail(ctx, st, spec, sections, fatal)
		}
	}

	st.Status = state.StatusCompleted
	e.emit(StageCompleted, 100, st.ArtifactPath)
	e.deps.Logger.Info("run completed",
		zap.String("run_id", st.RunID),
		zap.String("artifact", st.ArtifactPath),
		zap.Bool("synthetic_data", st.HasSynthetic()))
	return &Result{State: st, ArtifactPath: st.ArtifactPath}, nil
}

// runStage is the uniform wrapper: timing, panic capture, classification,
// progress event, degrade-vs-escalate.
func (e *Engine) runStage(ctx context.Context, st *state.ResearchState, stage Stage, percent int, fn func(context.Context) error) error {
	e.emit(stage, percent, "")
	st.Record(string(stage), "stage_start", "")
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &FatalStageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		return fn(ctx)
	}()
	elapsed := time.Since(start)

	if err == nil {
		st.Record(string(stage), "stage_done", elapsed.Round(time.Millisecond).String())
		e.deps.Logger.Info("stage complete",
			zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed))
		return nil
	}

	if degradable(err) {
		st.Record(string(stage), "fallback", err.Error())
		e.deps.Logger.Warn("stage degraded",
			zap.String("stage", string(stage)), zap.Error(err))
		return nil
	}

	var fatal *FatalStageError
	if !errors.As(err, &fatal) {
		fatal = &FatalStageError{Stage: stage, Err: err}
	}
	st.Record(string(stage), "fatal", fatal.Error())
	e.deps.Logger.Error("stage failed fatally",
		zap.String("stage", string(stage)), zap.Error(fatal))
	return fatal
}

// degradable reports whether an error class is recovered in place rather
// than escalated.
func degradable(err error) bool {
	var fetchErr *source.FetchError
	var genErr *narrative.GenerationError
	var renderErr *viz.RenderError
	var matchErr *bind.MatchError
	return errors.As(err, &fetchErr) ||
		errors.As(err, &genErr) ||
		errors.As(err, &renderErr) ||
		errors.As(err, &matchErr)
}

// narrate produces the narrative, degrading to the deterministic fallback on
// any generator failure.
func (e *Engine) narrate(ctx context.Context, st *state.ResearchState, spec *report.Specification) string {
	if e.deps.Generator == nil {
		st.Record(string(StageNarrating), "fallback", "no generator configured")
		return narrative.Fallback(st.Subject, spec, st.Fields)
	}
	text, err := e.deps.Generator.Generate(ctx, narrative.Request{
		Subject: st.Subject, Spec: spec, Fields: st.Fields,
	})
	if err != nil || text == "" {
		st.Record(string(StageNarrating), "fallback", fmt.Sprintf("generator unavailable: %v", err))
		e.deps.Logger.Warn("narrative generator failed, using deterministic fallback", zap.Error(err))
		return narrative.Fallback(st.Subject, spec, st.Fields)
	}
	return text
}

// requireBodies is the escalation floor: a required section with no body by
// any means fails the run.
func requireBodies(spec *report.Specification, sections []bind.Section) error {
	byTitle := make(map[string]string, len(sections))
	for _, s := range sections {
		byTitle[s.Title] = s.Body
	}
	for _, title := range spec.RequiredSections() {
		if byTitle[title] == "" {
			return &FatalStageError{
				Stage: StageBinding,
				Err:   fmt.Errorf("required section %q has no content and fallback is exhausted", title),
			}
		}
	}
	return nil
}

// advance enforces the strictly forward stage order.
func advance(from, to Stage) error {
	for i, s := range stageOrder[:len(stageOrder)-1] {
		if s == from {
			if stageOrder[i+1] == to {
				return nil
			}
			return fmt.Errorf("illegal transition %s -> %s", from, to)
		}
	}
	return fmt.Errorf("no transitions from %s", from)
}

// fail moves the run to Failed, preserving the partial state and emitting a
// best-effort degraded artifact when assembly can still produce one.
func (e *Engine) fail(ctx context.Context, st *state.ResearchState, spec *report.Specification, sections []bind.Section, fatal *FatalStageError) (*Result, error) {
	st.Status = state.StatusFailed
	e.emit(StageFailed, 100, fatal.Error())

	func() {
		defer func() { recover() }()
		if sections == nil {
			if st.Narrative == "" {
				st.Narrative = narrative.Fallback(st.Subject, spec, st.Fields)
			}
			sections = e.deps.Sections.Bind(st, spec, st.Narrative)
		}
		cmds := e.deps.Assembler.Build(st, spec, sections)
		if path, err := e.deps.Renderer.Render(ctx, st.Subject, cmds); err == nil {
			st.ArtifactPath = path
		}
	}()

	e.deps.Logger.Error("run failed",
		zap.String("run_id", st.RunID), zap.Error(fatal))
	return &Result{State: st, ArtifactPath: st.ArtifactPath}, fatal
}

func (e *Engine) emit(stage Stage, percent int, message string) {
	if e.opts.OnProgress == nil {
		return
	}
	e.opts.OnProgress(Progress{Stage: stage, Percent: percent, Message: message})
}
