package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// SchedulerOptions tunes parallelism and retry behavior.
type SchedulerOptions struct {
	// Parallelism is the fixed number of workers applying units.
	Parallelism int

	// MaxAttempts bounds driver calls per step, first attempt included.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// UnitTimeout bounds one unit's driver calls. Zero means no timeout.
	UnitTimeout time.Duration
}

// DefaultSchedulerOptions returns the defaults used by the CLI.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Parallelism:    4,
		MaxAttempts:    4,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		UnitTimeout:    30 * time.Minute,
	}
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	d := DefaultSchedulerOptions()
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	return o
}

// Scheduler applies plan units with a fixed-size worker pool. A unit is
// dispatched once every unit it depends on has been applied; a failed unit
// blocks its descendants while independent units keep going. Replacements
// run as two tasks, see newTaskGraph.
type Scheduler struct {
	driver Driver
	writer *stateWriter
	events EventPublisher
	instr  Instrumentation
	logger zerolog.Logger
	opts   SchedulerOptions
}

// unitOutcome is what a worker reports back to the dispatcher.
type unitOutcome struct {
	key    taskKey
	unit   *PlanUnit
	result *UnitResult

	// fatal stops all further dispatching.
	fatal error
}

// stateWriteError marks a failed snapshot write, which stops the run.
type stateWriteError struct {
	err error
}

func (e *stateWriteError) Error() string { return e.err.Error() }
func (e *stateWriteError) Unwrap() error { return e.err }

// unitPhase splits a replacement into deleting the prior resource and
// creating its successor. Every other operation runs as a single phase.
type unitPhase int

const (
	phaseWhole unitPhase = iota
	phaseTeardown
	phaseBuild
)

type taskKey struct {
	id    string
	phase unitPhase
}

type task struct {
	unit    *PlanUnit
	phase   unitPhase
	pending int
	next    []taskKey
}

// newTaskGraph expands plan units into dispatchable tasks. A replaced unit is
// torn down after every replaced or deleted unit that stood on it, and rebuilt
// after its own teardown and the units it depends on.
func newTaskGraph(plan *Plan) map[taskKey]*task {
	units := make(map[string]*PlanUnit, len(plan.Units))
	tasks := make(map[taskKey]*task, len(plan.Units))
	for _, u := range plan.Units {
		units[u.ID] = u
		if u.Operation == OperationReplace {
			tasks[taskKey{u.ID, phaseTeardown}] = &task{unit: u, phase: phaseTeardown}
			tasks[taskKey{u.ID, phaseBuild}] = &task{unit: u, phase: phaseBuild}
			continue
		}
		tasks[taskKey{u.ID, phaseWhole}] = &task{unit: u, phase: phaseWhole}
	}

	final := func(id string) taskKey {
		if units[id].Operation == OperationReplace {
			return taskKey{id, phaseBuild}
		}
		return taskKey{id, phaseWhole}
	}
	edge := func(from, to taskKey) {
		tasks[from].next = append(tasks[from].next, to)
		tasks[to].pending++
	}

	for _, u := range plan.Units {
		for _, dep := range u.DependsOn {
			if _, ok := units[dep]; ok {
				edge(final(dep), final(u.ID))
			}
		}
		if u.Operation != OperationReplace {
			continue
		}
		teardown := taskKey{u.ID, phaseTeardown}
		edge(teardown, taskKey{u.ID, phaseBuild})
		for _, other := range plan.Units {
			switch {
			case other.Operation == OperationReplace && containsID(other.DependsOn, u.ID):
				edge(taskKey{other.ID, phaseTeardown}, teardown)
			case other.Operation == OperationDelete && other.Prior != nil && containsID(other.Prior.DependsOn, u.ID):
				edge(taskKey{other.ID, phaseWhole}, teardown)
			}
		}
	}
	return tasks
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sortTasks(keys []taskKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].phase < keys[j].phase
	})
}

// Execute applies plan and fills run.Results. The returned error is only set
// for conditions that stop the whole run, such as a state conflict; unit
// failures are reported through the results.
func (s *Scheduler) Execute(ctx context.Context, run *Run, plan *Plan) error {
	units := make(map[string]*PlanUnit, len(plan.Units))
	for _, u := range plan.Units {
		units[u.ID] = u
		run.Results[u.ID] = &UnitResult{ID: u.ID, Operation: u.Operation, Status: u.Status}
	}
	tasks := newTaskGraph(plan)
	var ready []taskKey
	for key, t := range tasks {
		if t.pending == 0 {
			ready = append(ready, key)
		}
	}
	sortTasks(ready)

	// torn holds replaced units whose prior resource is gone and whose
	// successor has not been created yet.
	torn := make(map[string]bool)

	workers := s.opts.Parallelism
	jobs := make(chan *task)
	outcomes := make(chan unitOutcome, workers)
	for i := 0; i < workers; i++ {
		go func() {
			for t := range jobs {
				outcomes <- s.applyUnit(ctx, run.ID, t)
			}
		}()
	}

	release := func(key taskKey) {
		for _, next := range tasks[key].next {
			t := tasks[next]
			t.pending--
			if t.pending == 0 && (t.unit.Status == NodeStatusDiffed || torn[t.unit.ID]) {
				ready = append(ready, next)
			}
		}
		sortTasks(ready)
	}

	var fatal error
	stopped := false
	inflight := 0

	for {
		for !stopped && len(ready) > 0 && inflight < workers {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			key := ready[0]
			ready = ready[1:]
			t := tasks[key]
			u := t.unit

			if u.Operation == OperationNoop {
				s.setStatus(run, u, NodeStatusApplied)
				release(key)
				continue
			}

			s.setStatus(run, u, NodeStatusApplying)
			inflight++
			jobs <- t
		}

		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		if out.key.phase == phaseBuild {
			prev := run.Results[out.unit.ID]
			out.result.Attempts += prev.Attempts
			out.result.StartedAt = prev.StartedAt
		}
		run.Results[out.unit.ID] = out.result
		out.unit.Status = out.result.Status

		switch out.result.Status {
		case NodeStatusApplying:
			torn[out.unit.ID] = true
			release(out.key)
		case NodeStatusApplied:
			delete(torn, out.unit.ID)
			release(out.key)
		case NodeStatusFailed:
			delete(torn, out.unit.ID)
			s.blockDescendants(ctx, run, plan, out.unit.ID, units, torn)
		}

		if out.fatal != nil && fatal == nil {
			fatal = out.fatal
			stopped = true
		}
	}
	close(jobs)

	for _, u := range plan.Units {
		if u.Status != NodeStatusDiffed && !torn[u.ID] {
			continue
		}
		if stopped {
			s.setStatus(run, u, NodeStatusCancelled)
			continue
		}
		s.setStatus(run, u, NodeStatusBlocked)
		if run.Results[u.ID].Err == nil {
			run.Results[u.ID].Err = NewPermanentError("a unit it waits for did not finish", nil).
				WithCode(ErrCodeDependencyFailed).WithResource(u.ID)
			run.Results[u.ID].Error = run.Results[u.ID].Err.Error()
		}
	}

	return fatal
}

func (s *Scheduler) setStatus(run *Run, u *PlanUnit, status NodeStatus) {
	u.Status = status
	run.Results[u.ID].Status = status
}

func (s *Scheduler) blockDescendants(ctx context.Context, run *Run, plan *Plan, id string, units map[string]*PlanUnit, torn map[string]bool) {
	for _, d := range plan.Graph.Descendants(id) {
		u := units[d]
		if u.Status != NodeStatusDiffed && !torn[d] {
			continue
		}
		delete(torn, d)
		s.setStatus(run, u, NodeStatusBlocked)
		run.Results[d].Err = NewPermanentError(fmt.Sprintf("dependency %s failed", id), nil).
			WithCode(ErrCodeDependencyFailed).WithResource(d)
		run.Results[d].Error = run.Results[d].Err.Error()
		s.publish(ctx, run.ID, d, EventTypeUnitBlocked, fmt.Sprintf("blocked by failed dependency %s", id), nil)
	}
}

// applyUnit runs one task to completion. The driver calls and state writes use
// a context detached from run cancellation so an in-flight unit finishes. A
// finished teardown leaves the unit Applying until its build runs.
func (s *Scheduler) applyUnit(runCtx context.Context, runID string, t *task) unitOutcome {
	u := t.unit
	key := taskKey{u.ID, t.phase}
	ctx := context.WithoutCancel(runCtx)
	if s.opts.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.UnitTimeout)
		defer cancel()
	}
	ctx, end := s.instr.StartSpan(ctx, "unit.apply", map[string]string{
		"resource.id": u.ID,
		"operation":   string(u.Operation),
		"provider":    string(u.Provider),
	})

	result := &UnitResult{ID: u.ID, Operation: u.Operation, StartedAt: time.Now()}
	logger := s.logger.With().Str("resource_id", u.ID).Str("operation", string(u.Operation)).Logger()
	switch t.phase {
	case phaseTeardown:
		logger.Info().Msg("Deleting prior resource")
		s.publish(ctx, runID, u.ID, EventTypeUnitStarted, fmt.Sprintf("%s %s", u.Operation, u.ID), nil)
	case phaseBuild:
		logger.Info().Msg("Creating replacement")
	default:
		logger.Info().Msg("Applying unit")
		s.publish(ctx, runID, u.ID, EventTypeUnitStarted, fmt.Sprintf("%s %s", u.Operation, u.ID), nil)
	}

	err := s.perform(ctx, runID, u, t.phase, result)
	var fatal error
	var sw *stateWriteError
	if errors.As(err, &sw) {
		fatal = sw.err
		err = sw.err
	}

	result.CompletedAt = time.Now()
	duration := result.CompletedAt.Sub(result.StartedAt)
	switch {
	case err != nil:
		result.Status = NodeStatusFailed
		result.Err = attribute(err, u)
		result.Error = result.Err.Error()
		logger.Error().Err(result.Err).Int("attempts", result.Attempts).Msg("Unit failed")
		s.publish(ctx, runID, u.ID, EventTypeUnitFailed, result.Error, nil)
	case t.phase == phaseTeardown:
		result.Status = NodeStatusApplying
		logger.Info().Int("attempts", result.Attempts).Dur("duration", duration).Msg("Prior resource deleted")
	default:
		result.Status = NodeStatusApplied
		logger.Info().Int("attempts", result.Attempts).Dur("duration", duration).Msg("Unit applied")
		s.publish(ctx, runID, u.ID, EventTypeUnitCompleted, fmt.Sprintf("%s %s done", u.Operation, u.ID), nil)
	}
	if result.Status != NodeStatusApplying {
		s.instr.ObserveUnit(u.Kind, u.Operation, result.Status, duration)
	}
	end(result.Err)

	return unitOutcome{key: key, unit: u, result: result, fatal: fatal}
}

// perform issues the driver calls for one phase of u and records state after
// each step. A failed state write is returned as a *stateWriteError.
func (s *Scheduler) perform(ctx context.Context, runID string, u *PlanUnit, phase unitPhase, result *UnitResult) error {
	create := func() error {
		res, err := s.retry(ctx, runID, u, result, func() (*ProviderResult, error) {
			return s.driver.Create(ctx, u.Desired)
		})
		if err != nil {
			return err
		}
		return s.persist(ctx, stateFromUnit(u, res, runID))
	}
	destroy := func() error {
		if _, err := s.retry(ctx, runID, u, result, func() (*ProviderResult, error) {
			return nil, s.driver.Delete(ctx, u.Prior)
		}); err != nil {
			return err
		}
		return s.remove(ctx, u.ID)
	}

	switch u.Operation {
	case OperationCreate:
		return create()

	case OperationUpdate:
		res, err := s.retry(ctx, runID, u, result, func() (*ProviderResult, error) {
			return s.driver.Update(ctx, u.Desired, u.Prior)
		})
		if err != nil {
			return err
		}
		return s.persist(ctx, stateFromUnit(u, mergeResult(u.Prior, res), runID))

	case OperationDelete:
		return destroy()

	case OperationReplace:
		if phase == phaseBuild {
			return create()
		}
		return destroy()
	}

	return NewPermanentError(fmt.Sprintf("unsupported operation %s", u.Operation), nil)
}

func (s *Scheduler) persist(ctx context.Context, rs *ResourceState) error {
	if err := s.writer.put(ctx, rs); err != nil {
		return &stateWriteError{err: err}
	}
	return nil
}

func (s *Scheduler) remove(ctx context.Context, id string) error {
	if err := s.writer.remove(ctx, id); err != nil {
		return &stateWriteError{err: err}
	}
	return nil
}

// retry calls op until it succeeds, fails permanently, or runs out of attempts.
// Only transient and throttled errors are retried.
func (s *Scheduler) retry(
	ctx context.Context,
	runID string,
	u *PlanUnit,
	result *UnitResult,
	op func() (*ProviderResult, error),
) (*ProviderResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.Multiplier = 2

	attempt := 0
	return backoff.Retry(ctx, func() (*ProviderResult, error) {
		attempt++
		result.Attempts++
		res, err := op()
		if err == nil {
			return res, nil
		}
		if !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		if attempt < s.opts.MaxAttempts {
			s.instr.ObserveRetry(u.Kind)
			s.logger.Warn().Err(err).Str("resource_id", u.ID).Int("attempt", attempt).
				Msg("Retryable provider error")
			s.publish(ctx, runID, u.ID, EventTypeUnitRetrying, err.Error(),
				map[string]interface{}{"attempt": attempt})
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)
}

func (s *Scheduler) publish(ctx context.Context, runID, resourceID string, t EventType, msg string, data map[string]interface{}) {
	publishEvent(ctx, s.events, s.logger, runID, resourceID, t, msg, data)
}

// attribute makes sure a unit error names its resource.
func attribute(err error, u *PlanUnit) error {
	var e *EngineError
	if errors.As(err, &e) {
		if e.Resource == "" {
			e.Resource = u.ID
		}
		if e.Operation == "" {
			e.Operation = string(u.Operation)
		}
		return err
	}
	return NewPermanentError("provider call failed", err).
		WithCode(ErrCodeProviderFailed).WithResource(u.ID).WithOperation(string(u.Operation))
}

// stateFromUnit records the unit's graph dependencies so deletes can be ordered from state alone.
func stateFromUnit(u *PlanUnit, res *ProviderResult, runID string) *ResourceState {
	spec := u.Desired
	rs := &ResourceState{
		ID:          spec.ID,
		Kind:        spec.Kind,
		Provider:    spec.Provider,
		Attributes:  spec.Attributes,
		Immutable:   spec.Immutable,
		DependsOn:   append([]string{}, u.DependsOn...),
		Labels:      spec.Labels,
		ProviderIDs: map[string]string{},
		Outputs:     map[string]string{},
		RunID:       runID,
		AppliedAt:   time.Now().UTC(),
	}
	if res != nil {
		for k, v := range res.ProviderIDs {
			rs.ProviderIDs[k] = v
		}
		for k, v := range res.Outputs {
			rs.Outputs[k] = v
		}
	}
	return rs
}

// mergeResult keeps identifiers and outputs from prior that an update did not report.
func mergeResult(prior *ResourceState, res *ProviderResult) *ProviderResult {
	merged := &ProviderResult{ProviderIDs: map[string]string{}, Outputs: map[string]string{}}
	if prior != nil {
		for k, v := range prior.ProviderIDs {
			merged.ProviderIDs[k] = v
		}
		for k, v := range prior.Outputs {
			merged.Outputs[k] = v
		}
	}
	if res != nil {
		for k, v := range res.ProviderIDs {
			merged.ProviderIDs[k] = v
		}
		for k, v := range res.Outputs {
			merged.Outputs[k] = v
		}
	}
	return merged
}
