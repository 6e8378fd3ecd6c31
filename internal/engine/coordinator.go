// Package engine plans and drives runs: it turns a suite into an
// ordered step list, executes each step's HTTP call with caching,
// manual inputs, extractions and verifications, and streams events to
// the attached sink.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/config"
	"github.com/flowprobe/flowprobe/internal/eval"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/model"
	"github.com/flowprobe/flowprobe/internal/verify"
)

// Coordinator owns run execution. One driver goroutine advances each
// run; concurrent runs are isolated by run id.
type Coordinator struct {
	store    catalog.Store
	registry *Registry
	cfg      *config.Config
}

// New creates a coordinator over the given store.
func New(store catalog.Store, cfg *config.Config) *Coordinator {
	return &Coordinator{store: store, registry: NewRegistry(), cfg: cfg}
}

// Registry exposes the live-run map to control endpoints.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// RunRequest describes one run to execute.
type RunRequest struct {
	SuiteID       uuid.UUID
	StepID        *uuid.UUID
	EnvironmentID *uuid.UUID
	ScheduleID    *uuid.UUID
	Trigger       model.TriggerType
	Sink          EventSink
}

// RunSuite executes every non-dependency-only step of a suite.
func (c *Coordinator) RunSuite(ctx context.Context, req RunRequest) (*model.SuiteResult, error) {
	req.StepID = nil
	return c.execute(ctx, req)
}

// RunStep executes a single step plus its transitive dependencies.
func (c *Coordinator) RunStep(ctx context.Context, req RunRequest) (*model.SuiteResult, error) {
	if req.StepID == nil {
		return nil, fmt.Errorf("step id required")
	}
	return c.execute(ctx, req)
}

// Cancel interrupts a live run. Returns false for unknown or already
// completed runs.
func (c *Coordinator) Cancel(runID uuid.UUID) bool {
	h, ok := c.registry.Lookup(runID)
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// SubmitInputs forwards manual input values to a waiting step.
func (c *Coordinator) SubmitInputs(runID uuid.UUID, values map[string]string) bool {
	h, ok := c.registry.Lookup(runID)
	if !ok {
		return false
	}
	return h.SubmitInputs(values)
}

func (c *Coordinator) execute(ctx context.Context, req RunRequest) (*model.SuiteResult, error) {
	sink := req.Sink
	if sink == nil {
		sink = NopSink{}
	}
	if req.Trigger == "" {
		req.Trigger = model.TriggerManual
	}

	suite, err := c.store.GetSuite(ctx, req.SuiteID)
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", req.SuiteID, err)
	}

	env := &model.Environment{}
	envID := req.EnvironmentID
	if envID == nil {
		envID = suite.DefaultEnvironmentID
	}
	if envID != nil {
		env, err = c.store.GetEnvironment(ctx, *envID)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", *envID, err)
		}
	}

	runID := uuid.New()
	startedAt := time.Now()
	run := &model.Run{
		ID:            runID,
		SuiteID:       suite.ID,
		EnvironmentID: env.ID,
		TriggerType:   req.Trigger,
		ScheduleID:    req.ScheduleID,
		Status:        model.RunRunning,
		StartedAt:     startedAt,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := c.registry.create(runID, cancel)
	defer c.registry.release(runID)

	runCtx = logger.WithValues(runCtx, "runId", runID.String(), "suite", suite.Name)
	logger.Info(runCtx, "Run started", "trigger", req.Trigger)
	sink.Publish(runCtx, Event{Name: EventRunStarted, Data: RunStartedPayload{RunID: runID}})

	result := &model.SuiteResult{
		RunID:     runID,
		SuiteID:   suite.ID,
		SuiteName: suite.Name,
		Trigger:   req.Trigger,
		StartedAt: startedAt,
	}

	p, err := buildPlan(suite, req.StepID)
	if err != nil {
		sink.Publish(runCtx, Event{Name: EventRunError, Data: RunErrorPayload{Message: err.Error()}})
		result.Status = model.RunFailure
		c.finishRun(ctx, run, result)
		return nil, err
	}

	d := &runDriver{
		c:       c,
		suite:   suite,
		env:     env,
		trigger: req.Trigger,
		scope:   eval.NewScope(env),
		cache:   newResponseCache(),
		results: map[uuid.UUID]*model.StepResult{},
		exec:    newHTTPExecutor(c.store, c.cfg.RequestTimeout, c.cfg.RetryDelayCeiling),
		sink:    sink,
		handle:  handle,
		runID:   runID,
		secrets: secretValues(env),
	}

	for _, step := range p.steps {
		d.ensure(runCtx, step, nil)
	}

	result.Steps = d.emitted
	result.Status = aggregate(runCtx, d.emitted)
	c.finishRun(ctx, run, result)

	logger.Info(runCtx, "Run finished", "status", result.Status, "steps", len(result.Steps))
	sink.Publish(runCtx, Event{Name: EventComplete, Data: result})
	return result, nil
}

func (c *Coordinator) finishRun(ctx context.Context, run *model.Run, result *model.SuiteResult) {
	completed := time.Now()
	result.CompletedAt = completed
	result.TotalDurationMs = completed.Sub(result.StartedAt).Milliseconds()

	run.Status = result.Status
	run.CompletedAt = &completed
	run.TotalDurationMs = result.TotalDurationMs
	if data, err := json.Marshal(result); err == nil {
		run.ResultData = string(data)
	}
	if err := c.store.CompleteRun(ctx, run); err != nil {
		logger.Error(ctx, "Failed to persist run record", "err", err)
	}
}

// aggregate folds step states into the run status.
func aggregate(ctx context.Context, steps []model.StepResult) model.RunStatus {
	if ctx.Err() != nil {
		return model.RunCancelled
	}
	successes, failures := 0, 0
	for _, s := range steps {
		switch s.Status {
		case model.StepSuccess:
			successes++
		case model.StepError, model.StepVerificationFailed:
			failures++
		}
	}
	switch {
	case failures == 0:
		return model.RunSuccess
	case successes == 0:
		return model.RunFailure
	default:
		return model.RunPartialFailure
	}
}

// runDriver advances one run. It is the single writer of the run's
// state; every transition is observed through event emission.
type runDriver struct {
	c       *Coordinator
	suite   *model.Suite
	env     *model.Environment
	trigger model.TriggerType
	scope   *eval.Scope
	cache   *responseCache
	results map[uuid.UUID]*model.StepResult
	emitted []model.StepResult
	exec    *httpExecutor
	sink    EventSink
	handle  *Handle
	runID   uuid.UUID
	secrets []string
}

// ensure makes a step's result available, executing it if needed.
// edge is nil for planner-ordered slots and set for dependency or
// side-effect pulls; its useCache flag selects between reusing the
// cached result and forcing a fresh execution. Only cacheable steps
// ever execute more than once: a non-cacheable step has exactly one
// in-run result, whatever edges pull it.
func (d *runDriver) ensure(ctx context.Context, step *model.Step, edge *model.Dependency) *model.StepResult {
	if prev, ok := d.results[step.ID]; ok {
		if edge == nil {
			return prev
		}
		if edge.UseCache {
			if cached, ok := d.cache.get(step.ID); ok {
				return cached
			}
			if !step.Cacheable {
				// Nothing to refresh; the in-run result stands.
				return prev
			}
			// Expired entry: re-execute and store again.
			return d.reexecute(ctx, step, prev, false)
		}
		if !step.Cacheable {
			// Plain dependency; the single in-run execution stands.
			return prev
		}
		// A cache bypass re-executes a cacheable step without
		// touching the shared cache.
		return d.reexecute(ctx, step, prev, true)
	}

	if failed := d.failedDependency(ctx, step); failed != nil {
		return d.skip(ctx, step, fmt.Sprintf("dependency %q did not succeed", failed.StepName))
	}

	noStore := edge != nil && !edge.UseCache
	return d.executeStep(ctx, step, noStore)
}

// failedDependency pulls the step's predecessors and returns the
// result of the first one that ended in a non-success state.
func (d *runDriver) failedDependency(ctx context.Context, step *model.Step) *model.StepResult {
	for _, dep := range step.Dependencies {
		depStep, ok := d.suite.StepByID(dep.DependsOnStepID)
		if !ok {
			continue
		}
		edge := dep
		res := d.ensure(ctx, depStep, &edge)
		switch res.Status {
		case model.StepError, model.StepVerificationFailed, model.StepSkipped:
			return res
		}
	}
	return nil
}

// reexecute re-runs an already-executed cacheable step for a pulling
// edge. Predecessor states are re-checked first; when one of them did
// not succeed the recorded result stands and no new event is emitted.
func (d *runDriver) reexecute(ctx context.Context, step *model.Step, prev *model.StepResult, noStore bool) *model.StepResult {
	if d.failedDependency(ctx, step) != nil {
		return prev
	}
	return d.executeStep(ctx, step, noStore)
}

func (d *runDriver) skip(ctx context.Context, step *model.Step, reason string) *model.StepResult {
	res := &model.StepResult{
		StepID:       step.ID,
		StepName:     step.Name,
		Status:       model.StepSkipped,
		ErrorMessage: reason,
	}
	d.record(ctx, step, res)
	return res
}

// executeStep runs the full per-step pipeline: resolve, pause for
// inputs, arm pre-listens, HTTP with retries, extract, verify, cache.
func (d *runDriver) executeStep(ctx context.Context, step *model.Step, noStore bool) (res *model.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Step execution panicked", "step", step.Name, "panic", r)
			res = &model.StepResult{
				StepID:       step.ID,
				StepName:     step.Name,
				Status:       model.StepError,
				ErrorMessage: fmt.Sprintf("internal error: %v", r),
			}
			if _, done := d.results[step.ID]; !done {
				d.record(ctx, step, res)
			}
		}
	}()

	if ctx.Err() != nil {
		return d.skip(ctx, step, "run cancelled")
	}
	stepCtx := logger.WithValues(ctx, "step", step.Name)

	res, inputWarnings := d.collectInputs(stepCtx, step)
	if res != nil {
		d.record(ctx, step, res)
		return res
	}

	req := buildRequest(d.scope, d.env, step)
	req.Warnings = append(inputWarnings, req.Warnings...)

	armed, verifyWarnings := d.armPreListens(stepCtx, step)
	defer func() {
		for _, a := range armed {
			_ = a.Close()
		}
	}()

	result, sideEffects := d.exec.run(stepCtx, d.env, step, req)
	result.Warnings = append(result.Warnings, verifyWarnings...)

	if result.Status != model.StepSkipped {
		applyExtractions(step, result)
		d.runVerifications(stepCtx, step, result, armed)
	}

	if step.Cacheable && result.Status == model.StepSuccess && !noStore {
		d.cache.put(step.ID, step.CacheTTLSeconds, result)
	}

	d.record(ctx, step, result)

	for _, effectID := range sideEffects {
		d.fireSideEffect(ctx, effectID)
	}
	return result
}

// collectInputs pauses the run for #{…} fields. Returns a terminal
// result only when waiting failed; nil means resolution may proceed.
func (d *runDriver) collectInputs(ctx context.Context, step *model.Step) (*model.StepResult, []string) {
	fields := eval.CollectInputs(stepTemplates(step)...)
	if len(fields) == 0 {
		return nil, nil
	}

	reuse := false
	for _, dep := range step.Dependencies {
		if dep.ReuseManualInput {
			reuse = true
			break
		}
	}

	var pending []eval.InputField
	for _, f := range fields {
		if reuse && d.scope.HasInput(f.Name) {
			continue
		}
		pending = append(pending, f)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if d.trigger == model.TriggerScheduled {
		// No operator attached: defaults fill, the rest resolve empty.
		var warnings []string
		for _, f := range pending {
			if f.HasDefault {
				d.scope.SetInput(f.Name, f.DefaultValue)
			} else {
				d.scope.SetInput(f.Name, "")
				warnings = append(warnings, fmt.Sprintf("manual input %q has no default in a scheduled run", f.Name))
			}
		}
		return nil, warnings
	}

	prompts := make([]InputPrompt, 0, len(pending))
	for _, f := range pending {
		p := InputPrompt{Name: f.Name}
		if f.HasDefault {
			v := f.DefaultValue
			p.DefaultValue = &v
		}
		if d.scope.HasInput(f.Name) {
			v := d.scope.Inputs[f.Name]
			p.CachedValue = &v
		}
		prompts = append(prompts, p)
	}

	d.handle.broker.expect()
	d.sink.Publish(ctx, Event{Name: EventInputRequired, Data: InputRequiredPayload{
		RunID:    d.runID,
		StepID:   step.ID,
		StepName: step.Name,
		Fields:   prompts,
	}})
	logger.Info(ctx, "Waiting for manual input", "fields", len(prompts))

	values, err := d.handle.broker.await(ctx, d.c.cfg.InputTimeout)
	if err != nil {
		status := model.StepError
		msg := fmt.Sprintf("manual input: %v", err)
		if ctx.Err() != nil {
			status = model.StepSkipped
			msg = "run cancelled while waiting for input"
		}
		return &model.StepResult{
			StepID:       step.ID,
			StepName:     step.Name,
			Status:       status,
			ErrorMessage: msg,
		}, nil
	}
	for name, value := range values {
		d.scope.SetInput(name, value)
	}
	// Fields the operator left out resolve to their defaults, then
	// empty.
	for _, f := range pending {
		if !d.scope.HasInput(f.Name) {
			if f.HasDefault {
				d.scope.SetInput(f.Name, f.DefaultValue)
			} else {
				d.scope.SetInput(f.Name, "")
			}
		}
	}
	return nil, nil
}

// armPreListens starts listener subscriptions before the HTTP call.
func (d *runDriver) armPreListens(ctx context.Context, step *model.Step) (map[int]*verify.Armed, []string) {
	armed := map[int]*verify.Armed{}
	var warnings []string
	for i, v := range step.Verifications {
		if !v.PreListen {
			continue
		}
		query, warns := d.scope.Resolve(v.Query)
		warnings = append(warnings, warns...)
		a, err := verify.Arm(ctx, d.env, v, query)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pre-listen %q: %v", v.ConnectorName, err))
			continue
		}
		armed[i] = a
	}
	return armed, warnings
}

func (d *runDriver) runVerifications(ctx context.Context, step *model.Step, res *model.StepResult, armed map[int]*verify.Armed) {
	if len(step.Verifications) == 0 {
		return
	}
	allPassed := true
	for i, v := range step.Verifications {
		query, warns := d.scope.Resolve(v.Query)
		res.Warnings = append(res.Warnings, warns...)
		vr := verify.Run(ctx, d.env, v, query, armed[i])
		delete(armed, i)
		res.Verifications = append(res.Verifications, vr)
		allPassed = allPassed && vr.Passed
	}
	// A failed verification demotes a success but never masks an
	// error.
	if !allPassed && res.Status == model.StepSuccess {
		res.Status = model.StepVerificationFailed
	}
}

// fireSideEffect pulls the target step immediately, honoring cache
// rules. Cache hits are surfaced to observers as fromCache events.
func (d *runDriver) fireSideEffect(ctx context.Context, stepID uuid.UUID) {
	step, ok := d.suite.StepByID(stepID)
	if !ok {
		logger.Warn(ctx, "Side-effect step not found", "stepId", stepID.String())
		return
	}
	logger.Debug(ctx, "Firing side effect", "step", step.Name)
	res := d.ensure(ctx, step, &model.Dependency{DependsOnStepID: stepID, UseCache: true})
	if res.FromCache {
		d.emit(ctx, res)
	}
}

// record stores a fresh execution result and emits its step event.
func (d *runDriver) record(ctx context.Context, step *model.Step, res *model.StepResult) {
	d.results[step.ID] = res
	d.scope.PublishStep(step.Name, eval.NewStepContext(res))
	d.emit(ctx, res)
}

func (d *runDriver) emit(ctx context.Context, res *model.StepResult) {
	masked := maskSecrets(*res, d.secrets)
	d.emitted = append(d.emitted, masked)
	d.sink.Publish(ctx, Event{Name: EventStep, Data: masked})
}

func stepTemplates(step *model.Step) []string {
	templates := []string{step.URL, step.Body}
	for _, h := range step.Headers {
		templates = append(templates, h.Value)
	}
	for _, q := range step.QueryParams {
		templates = append(templates, q.Value)
	}
	for _, f := range step.FormFields {
		templates = append(templates, f.Value)
	}
	for _, v := range step.Verifications {
		templates = append(templates, v.Query)
	}
	return templates
}

func secretValues(env *model.Environment) []string {
	var secrets []string
	for _, v := range env.Variables {
		if v.Secret && v.Value != "" {
			secrets = append(secrets, v.Value)
		}
	}
	return secrets
}

const maskedValue = "******"

// maskSecrets replaces secret environment values in every outward
// facing string of a step result.
func maskSecrets(res model.StepResult, secrets []string) model.StepResult {
	if len(secrets) == 0 {
		return res
	}
	mask := func(s string) string {
		for _, secret := range secrets {
			s = strings.ReplaceAll(s, secret, maskedValue)
		}
		return s
	}
	maskMap := func(m map[string]string) map[string]string {
		if m == nil {
			return nil
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = mask(v)
		}
		return out
	}

	res.ResponseBody = mask(res.ResponseBody)
	res.RequestBody = mask(res.RequestBody)
	res.RequestURL = mask(res.RequestURL)
	res.ErrorMessage = mask(res.ErrorMessage)
	res.ResponseHeaders = maskMap(res.ResponseHeaders)
	res.RequestHeaders = maskMap(res.RequestHeaders)
	res.RequestQueryParams = maskMap(res.RequestQueryParams)
	res.ExtractedVariables = maskMap(res.ExtractedVariables)
	return res
}
