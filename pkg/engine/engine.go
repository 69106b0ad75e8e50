package engine

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs plans against a state backend through a driver.
//
// A run moves through Loading, Planning, AwaitingConfirmation and Applying
// before ending Complete, PartiallyFailed, Failed or Cancelled. Apply and
// destroy runs hold the environment's state lock for their whole duration.
type Engine struct {
	driver   Driver
	backend  StateBackend
	planner  *Planner
	approver Approver
	checker  PlanChecker
	events   EventPublisher
	instr    Instrumentation
	logger   zerolog.Logger
	sched    SchedulerOptions
	plan     PlanOptions
	holder   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithApprover sets the approver consulted before applying. Defaults to AutoApprove.
func WithApprover(a Approver) Option {
	return func(e *Engine) { e.approver = a }
}

// WithPlanChecker sets the guardrail checker evaluated on every plan.
func WithPlanChecker(c PlanChecker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithEventPublisher sets the run event sink.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithInstrumentation sets metrics and tracing callbacks.
func WithInstrumentation(i Instrumentation) Option {
	return func(e *Engine) { e.instr = i }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSchedulerOptions sets worker pool and retry tuning.
func WithSchedulerOptions(o SchedulerOptions) Option {
	return func(e *Engine) { e.sched = o }
}

// WithPlanOptions sets planning options.
func WithPlanOptions(o PlanOptions) Option {
	return func(e *Engine) { e.plan = o }
}

// WithHolder sets the lock holder description. Defaults to user@host.
func WithHolder(holder string) Option {
	return func(e *Engine) { e.holder = holder }
}

// New creates an engine.
func New(driver Driver, backend StateBackend, opts ...Option) *Engine {
	e := &Engine{
		driver:   driver,
		backend:  backend,
		planner:  NewPlanner(driver),
		approver: AutoApprove,
		instr:    noopInstrumentation{},
		logger:   zerolog.Nop(),
		sched:    DefaultSchedulerOptions(),
		holder:   defaultHolder(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = e.sched.withDefaults()
	return e
}

// Plan computes a plan without taking the state lock or applying anything.
func (e *Engine) Plan(ctx context.Context, env Environment, graph *DependencyGraph) (*Plan, error) {
	ctx, end := e.instr.StartSpan(ctx, "plan", map[string]string{"environment": env.Name})
	snap, _, err := e.backend.Load(ctx, env.Name)
	if err != nil {
		end(err)
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	plan, err := e.planner.Plan(ctx, env, graph, snap, e.plan)
	if err == nil {
		err = e.check(ctx, plan)
	}
	end(err)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Apply converges env to graph.
func (e *Engine) Apply(ctx context.Context, env Environment, graph *DependencyGraph) (*Run, error) {
	if graph == nil {
		return nil, NewPermanentError("dependency graph is nil", nil).WithCode(ErrCodeValidation)
	}
	return e.execute(ctx, env, PlanModeApply, graph)
}

// Destroy deletes every resource recorded in env's state.
func (e *Engine) Destroy(ctx context.Context, env Environment) (*Run, error) {
	return e.execute(ctx, env, PlanModeDestroy, nil)
}

func (e *Engine) execute(ctx context.Context, env Environment, mode PlanMode, graph *DependencyGraph) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		Environment: env.Name,
		Mode:        mode,
		Status:      RunStatusLoading,
		Results:     make(map[string]*UnitResult),
		StartedAt:   time.Now().UTC(),
	}
	logger := e.logger.With().Str("run_id", run.ID).Str("environment", env.Name).Str("mode", string(mode)).Logger()

	ctx, end := e.instr.StartSpan(ctx, "run."+string(mode), map[string]string{
		"run.id":      run.ID,
		"environment": env.Name,
		"provider":    string(env.Provider),
	})
	e.publish(ctx, run.ID, "", EventTypeRunStarted, fmt.Sprintf("%s run started", mode), nil)

	lock, err := e.backend.Lock(ctx, env.Name, LockInfo{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		Holder:    e.holder,
		Operation: string(mode),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return e.finish(ctx, logger, run, end, RunStatusFailed, err)
	}
	defer func() {
		if uerr := lock.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			logger.Error().Err(uerr).Msg("Failed to release state lock")
		}
	}()

	snap, version, err := e.backend.Load(ctx, env.Name)
	if err != nil {
		return e.finish(ctx, logger, run, end, RunStatusFailed, fmt.Errorf("failed to load state: %w", err))
	}
	if ctx.Err() != nil {
		return e.finish(ctx, logger, run, end, RunStatusCancelled, NewCancelledError("run cancelled before planning", ctx.Err()))
	}

	e.transition(ctx, logger, run, RunStatusPlanning)
	var plan *Plan
	if mode == PlanModeDestroy {
		plan, err = e.planner.PlanDestroy(env, snap)
	} else {
		plan, err = e.planner.Plan(ctx, env, graph, snap, e.plan)
	}
	if err == nil {
		err = e.check(ctx, plan)
	}
	if err != nil {
		return e.finish(ctx, logger, run, end, RunStatusFailed, err)
	}
	run.PlanID = plan.ID
	for _, u := range plan.Units {
		run.Results[u.ID] = &UnitResult{ID: u.ID, Operation: u.Operation, Status: u.Status}
	}
	logger.Info().
		Int("create", plan.Summary.Create).
		Int("update", plan.Summary.Update).
		Int("replace", plan.Summary.Replace).
		Int("delete", plan.Summary.Delete).
		Int("unchanged", plan.Summary.NoChange).
		Msg("Plan computed")

	e.transition(ctx, logger, run, RunStatusAwaitingConfirmation)
	if plan.HasChanges() {
		approved, err := e.approver.Approve(ctx, plan)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(ctx, logger, run, end, RunStatusCancelled, NewCancelledError("run cancelled awaiting approval", err))
			}
			return e.finish(ctx, logger, run, end, RunStatusFailed, fmt.Errorf("approval failed: %w", err))
		}
		if !approved {
			e.markUnstarted(run, plan)
			return e.finish(ctx, logger, run, end, RunStatusCancelled, NewCancelledError("plan was not approved", nil))
		}
	}
	if ctx.Err() != nil {
		e.markUnstarted(run, plan)
		return e.finish(ctx, logger, run, end, RunStatusCancelled, NewCancelledError("run cancelled before apply", ctx.Err()))
	}

	e.transition(ctx, logger, run, RunStatusApplying)
	sched := &Scheduler{
		driver: e.driver,
		writer: newStateWriter(e.backend, env.Name, snap, version, e.instr),
		events: e.events,
		instr:  e.instr,
		logger: logger,
		opts:   e.sched,
	}
	fatal := sched.Execute(ctx, run, plan)
	run.Summary = summarizeRun(plan, run)

	switch {
	case fatal != nil:
		return e.finish(ctx, logger, run, end, RunStatusFailed, fatal)
	case ctx.Err() != nil && run.Summary.Cancelled > 0:
		return e.finish(ctx, logger, run, end, RunStatusCancelled,
			NewCancelledError(fmt.Sprintf("run cancelled after %d unit(s) applied", run.Summary.Applied), ctx.Err()))
	case run.Summary.Failed > 0 || run.Summary.Blocked > 0:
		pf := &PartialFailureError{RunID: run.ID, Succeeded: run.Summary.Applied}
		for _, u := range plan.Units {
			if r := run.Results[u.ID]; r.Status == NodeStatusFailed {
				pf.Failures = append(pf.Failures, UnitFailure{ResourceID: u.ID, Operation: u.Operation, Err: r.Err})
			}
		}
		status := RunStatusFailed
		if run.Summary.Applied > 0 {
			status = RunStatusPartiallyFailed
		}
		return e.finish(ctx, logger, run, end, status, pf)
	default:
		return e.finish(ctx, logger, run, end, RunStatusComplete, nil)
	}
}

func (e *Engine) markUnstarted(run *Run, plan *Plan) {
	for _, u := range plan.Units {
		u.Status = NodeStatusCancelled
		run.Results[u.ID].Status = NodeStatusCancelled
	}
	run.Summary = summarizeRun(plan, run)
}

func (e *Engine) check(ctx context.Context, plan *Plan) error {
	if e.checker == nil {
		return nil
	}
	res, err := e.checker.CheckPlan(ctx, plan)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	var denied []string
	for _, v := range res.Violations {
		if v.Severity == "error" {
			denied = append(denied, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			continue
		}
		e.logger.Warn().Str("policy", v.Policy).Str("resource_id", v.ResourceID).Msg(v.Message)
	}
	if res.Allowed && len(denied) == 0 {
		return nil
	}
	perr := NewConfigError("policy", "plan denied by policy: "+strings.Join(denied, "; ")).
		WithCode(ErrCodePolicyViolation)
	for _, v := range res.Violations {
		if v.Severity == "error" && v.ResourceID != "" {
			perr.WithResource(v.ResourceID)
			break
		}
	}
	return perr
}

func (e *Engine) transition(ctx context.Context, logger zerolog.Logger, run *Run, next RunStatus) {
	if !run.Status.CanTransitionTo(next) {
		logger.Error().Str("from", string(run.Status)).Str("to", string(next)).Msg("Illegal run transition")
	}
	logger.Debug().Str("from", string(run.Status)).Str("to", string(next)).Msg("Run status changed")
	run.Status = next
	e.publish(ctx, run.ID, "", EventTypeRunStatusChanged, string(next), nil)
}

func (e *Engine) finish(
	ctx context.Context,
	logger zerolog.Logger,
	run *Run,
	end func(error),
	status RunStatus,
	err error,
) (*Run, error) {
	e.transition(ctx, logger, run, status)
	completed := time.Now().UTC()
	run.CompletedAt = &completed

	if rec, ok := e.backend.(RunRecorder); ok {
		if rerr := rec.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			logger.Warn().Err(rerr).Msg("Failed to record run")
		}
	}
	e.instr.ObserveRun(run.Mode, status, completed.Sub(run.StartedAt))

	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("Run finished")
		e.publish(ctx, run.ID, "", EventTypeRunFailed, err.Error(), nil)
	} else {
		logger.Info().Str("status", string(status)).
			Int("applied", run.Summary.Applied).
			Int("unchanged", run.Summary.Unchanged).
			Msg("Run finished")
		e.publish(ctx, run.ID, "", EventTypeRunCompleted, string(status), nil)
	}
	end(err)
	return run, err
}

func (e *Engine) publish(ctx context.Context, runID, resourceID string, t EventType, msg string, data map[string]interface{}) {
	publishEvent(ctx, e.events, e.logger, runID, resourceID, t, msg, data)
}

func publishEvent(
	ctx context.Context,
	events EventPublisher,
	logger zerolog.Logger,
	runID, resourceID string,
	t EventType,
	msg string,
	data map[string]interface{},
) {
	if events == nil {
		return
	}
	event := &Event{
		ID:         uuid.New().String(),
		RunID:      runID,
		ResourceID: resourceID,
		Type:       t,
		Message:    msg,
		Level:      t.Severity(),
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
	if err := events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Debug().Err(err).Str("event_type", string(t)).Msg("Failed to publish event")
	}
}

func summarizeRun(plan *Plan, run *Run) RunSummary {
	s := RunSummary{Total: len(plan.Units)}
	for _, u := range plan.Units {
		r := run.Results[u.ID]
		switch r.Status {
		case NodeStatusApplied:
			if u.Operation == OperationNoop {
				s.Unchanged++
			} else {
				s.Applied++
			}
		case NodeStatusFailed:
			s.Failed++
		case NodeStatusBlocked:
			s.Blocked++
		case NodeStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func defaultHolder() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return name + "@" + host
}
