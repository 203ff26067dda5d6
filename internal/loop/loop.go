// Package loop implements the Agentic Loop (C3): the single-threaded
// cooperative LLM-tool-call cycle that orchestrates memory (C2), the run
// service (C4), the event log (C5), and the generation tools (C8), with
// ask_user suspension, cooperative cancellation, and the safety limits from
// §4.3.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sitewright/agentcore/internal/memory"
	"github.com/sitewright/agentcore/internal/policy"
	"github.com/sitewright/agentcore/internal/tools"
)

const (
	// MaxSteps bounds how many loop iterations one invocation may run.
	MaxSteps = 30
	// MaxConsecutiveToolErrors trips the loop into a failure after this many
	// back-to-back tool execution errors; a non-error step resets the counter.
	MaxConsecutiveToolErrors = 3
	// LLMRetryAttempts is the number of attempts made for a transient LLM
	// failure before giving up.
	LLMRetryAttempts = 3

	// DefaultLLMRatePerSecond and DefaultLLMBurst bound how often a single
	// session may call out to the LLM (§3.7), independent of the process-wide
	// tool rate limit in internal/policy.
	DefaultLLMRatePerSecond = 2
	DefaultLLMBurst         = 4
)

// llmRetryBackoff are the delays between LLM retry attempts (1s, 2s, 4s).
var llmRetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

type (
	// ToolCall is one function call the LLM asked to make in a step.
	ToolCall struct {
		ID        string
		Name      tools.Ident
		Arguments json.RawMessage
	}

	// LLMResponse is the model's answer to one loop step: either final text
	// or one or more tool calls (never both, by loop invariant).
	LLMResponse struct {
		Text      string
		ToolCalls []ToolCall
	}

	// LLMError classifies an LLM call failure for the retry policy.
	LLMError struct {
		Transient bool
		Err       error
	}

	// LLM is the chat-completion surface the loop drives.
	LLM interface {
		Complete(ctx context.Context, messages []memory.Message, toolSchemas []tools.OpenAITool) (LLMResponse, error)
	}

	// Hooks lets callers observe loop progress without coupling the loop to
	// a concrete event/run implementation. Emit* methods never error: a
	// failure to record telemetry must never abort generation.
	Hooks interface {
		EmitStepStart(ctx context.Context, step int)
		EmitStepEnd(ctx context.Context, step int)
		EmitToolCall(ctx context.Context, call ToolCall)
		EmitToolResult(ctx context.Context, call ToolCall, result tools.Result)
		EmitText(ctx context.Context, text string)
		EmitError(ctx context.Context, err error)
		EmitWaitingInput(ctx context.Context, questions any)
		EmitCancelled(ctx context.Context)
		EmitPolicyBlocked(ctx context.Context, call ToolCall, decision policy.Decision)
		EmitPolicyWarn(ctx context.Context, call ToolCall, decision policy.Decision)
	}

	// Canceller reports cooperative cancellation for a Run, polled between
	// steps per §4.3's cancellation model.
	Canceller interface {
		IsCancelled(runID string) bool
	}

	// Outcome is what a single Run invocation of the loop produces: either a
	// final answer, a suspension for user input, a cancellation, or an error.
	Outcome struct {
		Status    OutcomeStatus
		Text      string
		Questions any
		Err       error
		Steps     int
	}

	// OutcomeStatus classifies how the loop invocation ended.
	OutcomeStatus string
)

const (
	OutcomeCompleted     OutcomeStatus = "completed"
	OutcomeWaitingInput  OutcomeStatus = "waiting_input"
	OutcomeCancelled     OutcomeStatus = "cancelled"
	OutcomeFailed        OutcomeStatus = "failed"
)

// sessionLimiters hands out one token-bucket limiter per session, creating
// it lazily on first use so the loop need not know a session's LLM budget
// up front (§3.7: "one limiter per session for LLM calls").
type sessionLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newSessionLimiters(rps rate.Limit, burst int) *sessionLimiters {
	return &sessionLimiters{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (s *sessionLimiters) get(sessionID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[sessionID] = l
	}
	return l
}

// Loop drives one Run's context through repeated LLM/tool-call steps.
type Loop struct {
	llm         LLM
	registry    *tools.Registry
	policy      *policy.Engine
	hooks       Hooks
	canceller   Canceller
	sleep       func(time.Duration)
	llmLimiters *sessionLimiters
}

// New constructs a Loop. sleep defaults to time.Sleep; tests may override it
// to avoid real delays during retry-backoff exercises.
func New(llm LLM, registry *tools.Registry, policyEngine *policy.Engine, hooks Hooks, canceller Canceller) *Loop {
	return &Loop{
		llm:         llm,
		registry:    registry,
		policy:      policyEngine,
		hooks:       hooks,
		canceller:   canceller,
		sleep:       time.Sleep,
		llmLimiters: newSessionLimiters(DefaultLLMRatePerSecond, DefaultLLMBurst),
	}
}

// WithSleep overrides the retry-backoff sleep function (tests only).
func (l *Loop) WithSleep(sleep func(time.Duration)) *Loop {
	l.sleep = sleep
	return l
}

// WithLLMRateLimit overrides the per-session LLM call budget. Tests that
// drive many steps in a single Run use this to raise the bucket well above
// what the run needs, so assertions aren't slowed down by real rate-limit
// waits.
func (l *Loop) WithLLMRateLimit(rps rate.Limit, burst int) *Loop {
	l.llmLimiters = newSessionLimiters(rps, burst)
	return l
}

// Run executes the loop invariant from §4.3 until a terminal outcome.
func (l *Loop) Run(ctx context.Context, runID string, ectx tools.ExecContext, ctxMem *memory.Context, taskHint string) Outcome {
	consecutiveToolErrors := 0

	for step := 1; step <= MaxSteps; step++ {
		l.hooks.EmitStepStart(ctx, step)

		messages := ctxMem.BuildMessages(taskHint)
		schemas := l.registry.GetOpenAITools()

		resp, err := l.completeWithRetry(ctx, ectx.SessionID, messages, schemas)
		if err != nil {
			l.hooks.EmitError(ctx, err)
			return Outcome{Status: OutcomeFailed, Err: err, Steps: step}
		}

		if len(resp.ToolCalls) == 0 {
			l.hooks.EmitText(ctx, resp.Text)
			l.hooks.EmitStepEnd(ctx, step)
			return Outcome{Status: OutcomeCompleted, Text: resp.Text, Steps: step}
		}

		ctxMem.AppendShortTerm(memory.Message{Role: memory.RoleAssistant, Content: resp.Text})

		for _, call := range resp.ToolCalls {
			result := l.executeWithPolicy(ctx, ectx, call)
			ctxMem.AppendShortTerm(memory.Message{Role: memory.RoleTool, Content: result.Output, ToolCallID: call.ID})

			if call.Name == "ask_user" {
				l.hooks.EmitWaitingInput(ctx, result.Artifacts["questions"])
				return Outcome{Status: OutcomeWaitingInput, Questions: result.Artifacts["questions"], Steps: step}
			}

			if result.Success {
				consecutiveToolErrors = 0
			} else {
				consecutiveToolErrors++
				if consecutiveToolErrors >= MaxConsecutiveToolErrors {
					err := fmt.Errorf("loop: %d consecutive tool errors", consecutiveToolErrors)
					l.hooks.EmitError(ctx, err)
					return Outcome{Status: OutcomeFailed, Err: err, Steps: step}
				}
			}
		}

		if err := ctxMem.MaybeCompact(ctx, fastLLMAdapter{l.llm}); err != nil {
			l.hooks.EmitError(ctx, fmt.Errorf("loop: compaction: %w", err))
		}

		if l.canceller != nil && l.canceller.IsCancelled(runID) {
			l.hooks.EmitCancelled(ctx)
			l.hooks.EmitStepEnd(ctx, step)
			return Outcome{Status: OutcomeCancelled, Steps: step}
		}

		l.hooks.EmitStepEnd(ctx, step)
	}

	err := fmt.Errorf("loop: exceeded max steps (%d)", MaxSteps)
	l.hooks.EmitError(ctx, err)
	return Outcome{Status: OutcomeFailed, Err: err, Steps: MaxSteps}
}

// executeWithPolicy wraps C1's Execute with C6's pre/post hooks.
func (l *Loop) executeWithPolicy(ctx context.Context, ectx tools.ExecContext, call ToolCall) tools.Result {
	l.hooks.EmitToolCall(ctx, call)

	if l.policy != nil {
		invocation := policy.Invocation{
			SessionID: ectx.SessionID, RunID: ectx.RunID, ToolName: string(call.Name),
			OutputDir: ectx.OutputDir, Arguments: call.Arguments,
		}
		pre := l.policy.PreCheck(ctx, invocation)
		switch pre.Action {
		case policy.ActionBlock:
			l.hooks.EmitPolicyBlocked(ctx, call, pre)
			if l.policy.Enforced(pre) {
				result := tools.Result{Success: false, Error: fmt.Sprintf("policy blocked: %s", pre.Reason)}
				l.hooks.EmitToolResult(ctx, call, result)
				return result
			}
		case policy.ActionWarn:
			l.hooks.EmitPolicyWarn(ctx, call, pre)
		}
	}

	result := l.registry.Execute(ctx, ectx, call.Name, call.Arguments)

	if l.policy != nil {
		invocation := policy.Invocation{
			SessionID: ectx.SessionID, RunID: ectx.RunID, ToolName: string(call.Name),
			OutputDir: ectx.OutputDir, Arguments: call.Arguments,
		}
		post, truncated := l.policy.PostCheck(ctx, invocation, result.Output)
		result.Output = truncated
		switch post.Action {
		case policy.ActionBlock:
			l.hooks.EmitPolicyBlocked(ctx, call, post)
			if l.policy.Enforced(post) {
				result = tools.Result{Success: false, Error: fmt.Sprintf("policy blocked: %s", post.Reason)}
			}
		case policy.ActionWarn:
			l.hooks.EmitPolicyWarn(ctx, call, post)
		}
	}

	l.hooks.EmitToolResult(ctx, call, result)
	return result
}

// completeWithRetry wraps the LLM call with the exponential-backoff retry
// policy from §4.3: 3 attempts, 1s/2s/4s, skipping retry for
// authentication and context-length errors. Each attempt first waits on the
// session's token-bucket limiter so a busy session backs off before ever
// reaching the provider.
func (l *Loop) completeWithRetry(ctx context.Context, sessionID string, messages []memory.Message, schemas []tools.OpenAITool) (LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt < LLMRetryAttempts; attempt++ {
		if err := l.llmLimiters.get(sessionID).Wait(ctx); err != nil {
			return LLMResponse{}, fmt.Errorf("loop: llm rate limiter: %w", err)
		}
		resp, err := l.llm.Complete(ctx, messages, schemas)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var classified *LLMError
		if errors.As(err, &classified) && !classified.Transient {
			return LLMResponse{}, err
		}

		if attempt < len(llmRetryBackoff) {
			l.sleep(llmRetryBackoff[attempt])
		}
	}
	return LLMResponse{}, fmt.Errorf("loop: llm call failed after %d attempts: %w", LLMRetryAttempts, lastErr)
}

func (e *LLMError) Error() string { return e.Err.Error() }
func (e *LLMError) Unwrap() error { return e.Err }

// SynthesizeResumeMessage builds the tool-result message representing the
// user's answers to a prior ask_user call, to be appended to short-term
// memory before re-entering Run. The original tool-call message from the
// LLM is left untouched in history so the model sees a consistent
// call/result pair (§4.3 resume semantics).
func SynthesizeResumeMessage(toolCallID string, answers map[string]any) memory.Message {
	out, _ := json.Marshal(answers)
	return memory.Message{Role: memory.RoleTool, Content: string(out), ToolCallID: toolCallID}
}

// fastLLMAdapter adapts the loop's LLM into memory.FastLLM for compaction,
// by asking it to produce the AU2 dimensions as a tool-free completion.
type fastLLMAdapter struct{ llm LLM }

func (a fastLLMAdapter) Summarize(ctx context.Context, messages []memory.Message) (memory.AU2Summary, error) {
	prompt := memory.Message{
		Role: memory.RoleSystem,
		Content: "Summarize the following conversation slice into JSON with keys " +
			"goal, progress, decisions, constraints, style, pages, issues, next_steps.",
	}
	resp, err := a.llm.Complete(ctx, append([]memory.Message{prompt}, messages...), nil)
	if err != nil {
		return memory.AU2Summary{}, err
	}
	var summary memory.AU2Summary
	if err := json.Unmarshal([]byte(resp.Text), &summary); err != nil {
		return memory.AU2Summary{}, fmt.Errorf("loop: parse compaction summary: %w", err)
	}
	return summary, nil
}
