package temporal

import (
	"context"
	"errors"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sitewright/agentcore/internal/engine"
	"github.com/sitewright/agentcore/internal/telemetry"
)

type workflowContext struct {
	engine *Engine
	ctx    workflow.Context
	id     string
	runID  string
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		engine: e,
		ctx:    ctx,
		id:     info.WorkflowExecution.ID,
		runID:  info.WorkflowExecution.RunID,
	}
}

// Context returns a plain context.Context carrying only correlation values;
// workflow code must keep using the workflow.Context passed at construction
// for any Temporal SDK primitive to remain replay-safe.
func (w *workflowContext) Context() context.Context {
	return context.Background()
}

func (w *workflowContext) WorkflowID() string { return w.id }
func (w *workflowContext) RunID() string      { return w.runID }

func (w *workflowContext) Logger() telemetry.Logger   { return telemetry.NoopLogger{} }
func (w *workflowContext) Metrics() telemetry.Metrics { return telemetry.NoopMetrics{} }
func (w *workflowContext) Tracer() telemetry.Tracer   { return telemetry.NoopTracer{} }

func (w *workflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	ctx := w.activityContext(req)
	future := workflow.ExecuteActivity(ctx, req.Name, req.Input)
	return normalize(future.Get(ctx, result))
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	ctx := w.activityContext(req)
	return &future{ctx: ctx, future: workflow.ExecuteActivity(ctx, req.Name, req.Input)}, nil
}

func (w *workflowContext) activityContext(req engine.ActivityRequest) workflow.Context {
	opts := workflow.ActivityOptions{TaskQueue: req.Queue}
	if req.Timeout > 0 {
		opts.StartToCloseTimeout = req.Timeout
	} else {
		opts.StartToCloseTimeout = 10 * time.Minute
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	return workflow.WithActivityOptions(w.ctx, opts)
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalReceiver{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type future struct {
	ctx    workflow.Context
	future workflow.Future
}

func (f *future) Get(_ context.Context, result any) error {
	return normalize(f.future.Get(f.ctx, result))
}

func (f *future) IsReady() bool { return f.future.IsReady() }

type signalReceiver struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalReceiver) Receive(_ context.Context, dest any) error {
	ok := s.ch.Receive(s.ctx, dest)
	if !ok {
		return errors.New("temporal engine: signal channel closed")
	}
	return nil
}

func (s *signalReceiver) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

// normalize translates Temporal cancellation errors to context.Canceled so
// callers can classify cancellations without depending on Temporal types.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}
