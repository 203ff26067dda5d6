// Package engine abstracts durable workflow execution so the agentic loop
// (C3) can run atop an in-memory scheduler for tests and local development,
// or atop Temporal for durable, replay-safe production execution, without
// the loop itself depending on either backend.
package engine

import (
	"context"
	"time"

	"github.com/sitewright/agentcore/internal/telemetry"
)

type (
	// Engine registers workflow/activity definitions and starts executions.
	// Implementations translate these generic types into backend-specific
	// primitives (goroutines for the in-memory engine, Temporal workflows and
	// activities for the durable engine).
	Engine interface {
		// RegisterWorkflow registers a workflow definition. Must be called during
		// initialization, before StartWorkflow.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition. Must be called during
		// initialization, before any workflow that calls it starts.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow starts a workflow execution and returns a handle to it.
		// req.ID must be unique within the engine instance.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name, used to
	// run one Run's agentic loop to completion under the engine.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a Run's durable entry point. It must be deterministic:
	// given the same input and the same sequence of activity results, it must
	// produce the same sequence of activity calls on replay.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must preserve deterministic replay: anything that
	// touches the outside world (LLM calls, tool execution, wall-clock time)
	// must go through ExecuteActivity/Now, never direct I/O.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel for a named signal (e.g. "cancel",
		// "resume_answers"), used to deliver ask_user answers and cancellation
		// requests into a running workflow.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns replay-safe workflow time.
		Now() time.Time
	}

	// Future is a pending activity result. Get may be called repeatedly and
	// returns the same result/error each time.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler, e.g. one LLM call or
	// one tool execution, the unit of non-deterministic work a workflow
	// delegates out of its own replay-safe body.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the actual side-effecting work (LLM calls, tool
	// execution, persistence) for one activity invocation.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution for
	// one Run.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest schedules one activity invocation from within a workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers wait on, signal, or cancel a running
	// workflow (used by run.Service to deliver resume/cancel requests).
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	// Zero-valued fields mean the engine's defaults apply.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes engine-agnostic signal delivery into a workflow.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// SignalCancel is the signal name used to cooperatively cancel a Run,
// delivered by run.Service.CancelRun.
const SignalCancel = "cancel"

// SignalResume is the signal name used to deliver ask_user answers into a
// suspended Run, delivered by run.Service.ResumeRun.
const SignalResume = "resume_answers"
