// Package temporal adapts engine.Engine onto Temporal, Go's durable
// workflow engine, for production Run execution: each Run's agentic loop
// (C3) becomes a Temporal workflow, each LLM call and tool invocation an
// activity, and ask_user/cancel become Temporal signals.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/sitewright/agentcore/internal/engine"
	"github.com/sitewright/agentcore/internal/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions
	// constructs a lazy client.
	Client client.Client
	// ClientOptions builds the client when Client is nil.
	ClientOptions *client.Options
	// TaskQueue is the default queue used when a workflow/activity definition
	// omits one. Required.
	TaskQueue string
	// WorkerOptions configures the shared worker applied to the default queue.
	WorkerOptions worker.Options
	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool
	// Logger, if nil, defaults to a no-op logger.
	Logger telemetry.Logger
}

// Engine implements engine.Engine using Temporal as the durable backend. One
// worker is created per unique task queue; workflows run within Temporal's
// deterministic replay environment via workflowContext.
type Engine struct {
	client       client.Client
	closeClient  bool
	defaultQueue string
	workerOpts   worker.Options
	logger       telemetry.Logger

	mu      sync.Mutex
	workers map[string]worker.Worker
	started bool
}

// New constructs a Temporal-backed Engine.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: a default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, interceptor)
		}
		var err error
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	return &Engine{
		client:       cli,
		closeClient:  closeClient,
		defaultQueue: opts.TaskQueue,
		workerOpts:   opts.WorkerOptions,
		logger:       logger,
		workers:      make(map[string]worker.Worker),
	}, nil
}

// RegisterWorkflow implements engine.Engine by binding def.Handler to a
// Temporal workflow function on def.TaskQueue (or the engine's default).
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid workflow definition")
	}
	w := e.workerForQueue(def.TaskQueue)
	w.RegisterWorkflowWithOptions(
		func(tctx workflow.Context, input any) (any, error) {
			return def.Handler(newWorkflowContext(e, tctx), input)
		},
		workflow.RegisterOptions{Name: def.Name},
	)
	return nil
}

// RegisterActivity implements engine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid activity definition")
	}
	w := e.workerForQueue(def.Options.Queue)
	w.RegisterActivityWithOptions(
		func(ctx context.Context, input any) (any, error) { return def.Handler(ctx, input) },
		activity.RegisterOptions{Name: def.Name},
	)
	return nil
}

// StartWorkflow implements engine.Engine, starting workers on first use.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.ensureWorkersStarted()

	queue := req.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, err
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// Close shuts down the Temporal client if this Engine created it.
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) workerForQueue(queue string) worker.Worker {
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[queue]; ok {
		return w
	}
	w := worker.New(e.client, queue, e.workerOpts)
	e.workers[queue] = w
	if e.started {
		e.startWorker(queue, w)
	}
	return w
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	for queue, w := range e.workers {
		e.startWorker(queue, w)
	}
}

func (e *Engine) startWorker(queue string, w worker.Worker) {
	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			e.logger.Error(context.Background(), "temporal worker exited", "queue", queue, "err", err)
		}
	}()
}

func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &sdktemporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
