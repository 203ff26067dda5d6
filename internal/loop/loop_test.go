package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sitewright/agentcore/internal/memory"
	"github.com/sitewright/agentcore/internal/policy"
	"github.com/sitewright/agentcore/internal/tools"
)

type scriptedLLM struct {
	responses []LLMResponse
	errs      []error
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []memory.Message, schemas []tools.OpenAITool) (LLMResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return LLMResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return LLMResponse{Text: "done"}, nil
}

type recordingHooks struct {
	blocked    int
	warned     int
	waiting    int
	cancelled  int
	errored    int
	texts      []string
}

func (h *recordingHooks) EmitStepStart(context.Context, int)      {}
func (h *recordingHooks) EmitStepEnd(context.Context, int)        {}
func (h *recordingHooks) EmitToolCall(context.Context, ToolCall)  {}
func (h *recordingHooks) EmitToolResult(context.Context, ToolCall, tools.Result) {}
func (h *recordingHooks) EmitText(ctx context.Context, text string) {
	h.texts = append(h.texts, text)
}
func (h *recordingHooks) EmitError(context.Context, error)            { h.errored++ }
func (h *recordingHooks) EmitWaitingInput(context.Context, any)       { h.waiting++ }
func (h *recordingHooks) EmitCancelled(context.Context)               { h.cancelled++ }
func (h *recordingHooks) EmitPolicyBlocked(context.Context, ToolCall, policy.Decision) { h.blocked++ }
func (h *recordingHooks) EmitPolicyWarn(context.Context, ToolCall, policy.Decision)    { h.warned++ }

func newRegistryWith(t *testing.T, toolsList ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range toolsList {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func baseMemory() *memory.Context {
	return memory.NewContext("system prompt", "project card", nil)
}

func TestRunCompletesWhenNoToolCallsReturned(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "all done"}}}
	hooks := &recordingHooks{}
	l := New(llm, tools.NewRegistry(), nil, hooks, nil)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, "all done", outcome.Text)
	assert.Equal(t, 1, outcome.Steps)
}

func TestRunSuspendsOnAskUser(t *testing.T) {
	askUser := &fakeExecTool{name: "ask_user", result: tools.Result{
		Success: true, Artifacts: map[string]any{"questions": []string{"what color?"}, "blocking": true},
	}}
	registry := newRegistryWith(t, askUser)
	llm := &scriptedLLM{responses: []LLMResponse{{
		ToolCalls: []ToolCall{{ID: "call-1", Name: "ask_user", Arguments: json.RawMessage(`{}`)}},
	}}}
	hooks := &recordingHooks{}
	l := New(llm, registry, nil, hooks, nil)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeWaitingInput, outcome.Status)
	assert.Equal(t, 1, hooks.waiting)
	assert.NotNil(t, outcome.Questions)
}

func TestAskUserIsRoutedThroughPolicyPreAndPostChecks(t *testing.T) {
	askUser := &fakeExecTool{name: "ask_user", result: tools.Result{
		Success: true, Artifacts: map[string]any{"questions": []string{"what color?"}, "blocking": true},
	}}
	registry := newRegistryWith(t, askUser)
	llm := &scriptedLLM{responses: []LLMResponse{{
		ToolCalls: []ToolCall{{ID: "call-1", Name: "ask_user", Arguments: json.RawMessage(`{"path": "../../escape"}`)}},
	}}}
	hooks := &recordingHooks{}
	engine := policy.NewEngine(policy.ModeEnforce, "/out/sess-1")
	l := New(llm, registry, engine, hooks, nil)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{SessionID: "sess-1", OutputDir: "/out/sess-1"}, baseMemory(), "")
	assert.Equal(t, OutcomeWaitingInput, outcome.Status)
	assert.Equal(t, 1, hooks.blocked)
	assert.Nil(t, outcome.Questions)
}

func TestRunFailsAfterMaxConsecutiveToolErrors(t *testing.T) {
	failing := &fakeExecTool{name: "generate_page", result: tools.Result{Success: false, Error: "boom"}}
	registry := newRegistryWith(t, failing)

	responses := make([]LLMResponse, 0, MaxSteps)
	for i := 0; i < MaxSteps; i++ {
		responses = append(responses, LLMResponse{
			ToolCalls: []ToolCall{{ID: fmt.Sprintf("call-%d", i), Name: "generate_page", Arguments: json.RawMessage(`{}`)}},
		})
	}
	llm := &scriptedLLM{responses: responses}
	hooks := &recordingHooks{}
	l := New(llm, registry, nil, hooks, nil).WithLLMRateLimit(1000, 1000)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.ErrorContains(t, outcome.Err, "consecutive tool errors")
	assert.Equal(t, MaxConsecutiveToolErrors, outcome.Steps)
}

func TestRunFailsWhenMaxStepsExceeded(t *testing.T) {
	succeeding := &fakeExecTool{name: "generate_page", result: tools.Result{Success: true, Output: "ok"}}
	registry := newRegistryWith(t, succeeding)

	responses := make([]LLMResponse, 0, MaxSteps)
	for i := 0; i < MaxSteps+1; i++ {
		responses = append(responses, LLMResponse{
			ToolCalls: []ToolCall{{ID: fmt.Sprintf("call-%d", i), Name: "generate_page", Arguments: json.RawMessage(`{}`)}},
		})
	}
	llm := &scriptedLLM{responses: responses}
	hooks := &recordingHooks{}
	l := New(llm, registry, nil, hooks, nil).WithLLMRateLimit(1000, 1000)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.ErrorContains(t, outcome.Err, "exceeded max steps")
	assert.Equal(t, MaxSteps, outcome.Steps)
}

type alwaysCancelled struct{}

func (alwaysCancelled) IsCancelled(string) bool { return true }

func TestRunStopsOnCooperativeCancellation(t *testing.T) {
	succeeding := &fakeExecTool{name: "generate_page", result: tools.Result{Success: true, Output: "ok"}}
	registry := newRegistryWith(t, succeeding)
	llm := &scriptedLLM{responses: []LLMResponse{{
		ToolCalls: []ToolCall{{ID: "call-1", Name: "generate_page", Arguments: json.RawMessage(`{}`)}},
	}}}
	hooks := &recordingHooks{}
	l := New(llm, registry, nil, hooks, alwaysCancelled{})

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeCancelled, outcome.Status)
	assert.Equal(t, 1, hooks.cancelled)
}

func TestCompleteWithRetryRetriesTransientErrorsThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{
		errs:      []error{&LLMError{Transient: true, Err: fmt.Errorf("rate limited")}, nil},
		responses: []LLMResponse{{}, {Text: "recovered"}},
	}
	hooks := &recordingHooks{}
	l := New(llm, tools.NewRegistry(), nil, hooks, nil).WithSleep(func(time.Duration) {})

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, "recovered", outcome.Text)
	assert.Equal(t, 2, llm.calls)
}

func TestCompleteWithRetrySkipsRetryForNonTransientError(t *testing.T) {
	llm := &scriptedLLM{errs: []error{&LLMError{Transient: false, Err: fmt.Errorf("invalid api key")}}}
	hooks := &recordingHooks{}
	l := New(llm, tools.NewRegistry(), nil, hooks, nil).WithSleep(func(time.Duration) {})

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{}, baseMemory(), "")
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, 1, llm.calls)
}

func TestExecuteWithPolicyBlocksEnforcedViolation(t *testing.T) {
	runCommand := &fakeExecTool{name: "run_command", result: tools.Result{Success: true, Output: "ok"}}
	registry := newRegistryWith(t, runCommand)
	engine := policy.NewEngine(policy.ModeEnforce, "/output")

	args, _ := json.Marshal(map[string]string{"command": "rm -rf /"})
	llm := &scriptedLLM{responses: []LLMResponse{{
		ToolCalls: []ToolCall{{ID: "call-1", Name: "run_command", Arguments: args}},
	}, {Text: "done"}}}
	hooks := &recordingHooks{}
	l := New(llm, registry, engine, hooks, nil)

	outcome := l.Run(context.Background(), "run-1", tools.ExecContext{OutputDir: "/output"}, baseMemory(), "")
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, 1, hooks.blocked)
}

func TestSessionLimitersIssuesDistinctBucketsPerSession(t *testing.T) {
	limiters := newSessionLimiters(1, 1)
	a := limiters.get("session-a")
	b := limiters.get("session-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, limiters.get("session-a"))
}

func TestWithLLMRateLimitReplacesTheSessionLimiters(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "ok"}}}
	hooks := &recordingHooks{}
	l := New(llm, tools.NewRegistry(), nil, hooks, nil).WithLLMRateLimit(1000, 1000)
	assert.Equal(t, rate.Limit(1000), l.llmLimiters.rps)
	assert.Equal(t, 1000, l.llmLimiters.burst)
}

func TestSynthesizeResumeMessageEncodesAnswersAsJSON(t *testing.T) {
	msg := SynthesizeResumeMessage("call-1", map[string]any{"color": "blue"})
	assert.Equal(t, memory.RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Contains(t, msg.Content, "blue")
}

type fakeExecTool struct {
	name   tools.Ident
	result tools.Result
}

func (f *fakeExecTool) Name() tools.Ident         { return f.name }
func (f *fakeExecTool) Description() string       { return "" }
func (f *fakeExecTool) Schema() tools.ParamSchema { return tools.ParamSchema{Raw: json.RawMessage(`{}`)} }
func (f *fakeExecTool) Execute(ctx context.Context, ectx tools.ExecContext, args json.RawMessage) tools.Result {
	return f.result
}
