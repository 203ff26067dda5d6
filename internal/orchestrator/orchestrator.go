// Package orchestrator wires C2 (memory), C3 (the agentic loop), C4 (the run
// service), C5 (the event log), C6 (policy), C7 (verify), and C8 (generation
// tools) into the two request-scoped entry points spec.md §3's data flow
// names: generate_run and resume_run. Nothing else in the module drives a
// Run end to end; every other package only implements its own slice of the
// pipeline in isolation.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sitewright/agentcore/internal/events"
	"github.com/sitewright/agentcore/internal/gentools"
	"github.com/sitewright/agentcore/internal/loop"
	"github.com/sitewright/agentcore/internal/memory"
	"github.com/sitewright/agentcore/internal/pages"
	"github.com/sitewright/agentcore/internal/policy"
	"github.com/sitewright/agentcore/internal/run"
	"github.com/sitewright/agentcore/internal/session"
	"github.com/sitewright/agentcore/internal/tools"
	"github.com/sitewright/agentcore/internal/verify"
)

// defaultSystemPrompt seeds every fresh Context; the project card and
// Product Doc sections loaded from the Session carry the session-specific
// detail on top of it.
const defaultSystemPrompt = "You are the agentic generation core. Drive the tool loop to turn the user's request into a mobile-first, multi-page static site."

// passthroughBuilder reports every build as passing. A real bundler
// invocation is an external collaborator outside this core's scope (DESIGN.md
// records the same decision for C7's Builder).
type passthroughBuilder struct{}

func (passthroughBuilder) Build(_ context.Context, _ string) (bool, string, error) {
	return true, "no bundler configured", nil
}

// pageSource adapts pages.InMemoryStore onto verify.PageSource, fetching
// every page's current HTML for the Structure/Mobile/Security checks.
type pageSource struct{ store *pages.InMemoryStore }

func (p pageSource) Pages(ctx context.Context, sessionID string) (map[string]string, error) {
	summaries, err := p.store.ListPages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(summaries))
	for _, sum := range summaries {
		html, ok, err := p.store.CurrentHTML(ctx, sessionID, sum.Slug)
		if err != nil {
			return nil, err
		}
		if ok {
			out[sum.Slug] = html
		}
	}
	return out, nil
}

// toolEmitter adapts events.Emitter onto tools.EventEmitter: the generation
// tools' narrower, session-bound interface, which carries no sessionID
// parameter of its own.
type toolEmitter struct {
	emitter   *events.Emitter
	sessionID string
}

func (t toolEmitter) Emit(ctx context.Context, eventType string, runID string, payload map[string]any) error {
	_, err := t.emitter.Emit(ctx, events.Type(eventType), t.sessionID, runID, payload)
	return err
}

// eventHooks adapts events.Emitter onto loop.Hooks, turning every loop
// callback into a persisted, broadcast Event. Emit errors are dropped: Hooks
// methods never error, since a telemetry failure must never abort generation.
type eventHooks struct {
	emitter   *events.Emitter
	sessionID string
	runID     string
}

func (h *eventHooks) emit(ctx context.Context, t events.Type, payload map[string]any) {
	_, _ = h.emitter.Emit(ctx, t, h.sessionID, h.runID, payload)
}

func (h *eventHooks) EmitStepStart(ctx context.Context, step int) {
	h.emit(ctx, events.StepStart, map[string]any{"step": step})
}

func (h *eventHooks) EmitStepEnd(ctx context.Context, step int) {
	h.emit(ctx, events.StepEnd, map[string]any{"step": step})
}

func (h *eventHooks) EmitToolCall(ctx context.Context, call loop.ToolCall) {
	h.emit(ctx, events.ToolCall, map[string]any{"tool": string(call.Name), "call_id": call.ID})
}

func (h *eventHooks) EmitToolResult(ctx context.Context, call loop.ToolCall, result tools.Result) {
	h.emit(ctx, events.ToolResult, map[string]any{
		"tool": string(call.Name), "call_id": call.ID, "success": result.Success,
	})
}

func (h *eventHooks) EmitText(ctx context.Context, text string) {
	h.emit(ctx, events.Text, map[string]any{"text": text})
}

func (h *eventHooks) EmitError(ctx context.Context, err error) {
	h.emit(ctx, events.Error, map[string]any{"error": err.Error()})
}

// EmitWaitingInput is deliberately a no-op: Service.suspend is the single
// place that records run_waiting_input, since it also handles the
// verify-triggered suspension path the loop never sees.
func (h *eventHooks) EmitWaitingInput(context.Context, any) {}

func (h *eventHooks) EmitCancelled(ctx context.Context) {
	h.emit(ctx, events.RunCancelled, nil)
}

func (h *eventHooks) EmitPolicyBlocked(ctx context.Context, call loop.ToolCall, decision policy.Decision) {
	h.emit(ctx, events.ToolPolicyBlocked, map[string]any{"tool": string(call.Name), "reason": decision.Reason})
}

func (h *eventHooks) EmitPolicyWarn(ctx context.Context, call loop.ToolCall, decision policy.Decision) {
	h.emit(ctx, events.ToolPolicyWarn, map[string]any{"tool": string(call.Name), "reason": decision.Reason})
}

// suspension is the in-process checkpoint kept for a Run parked in
// waiting_input: the short-term memory to resume into, and the id of the
// ask_user tool call being answered. toolCallID is empty when the
// suspension came from a second verify failure rather than ask_user, in
// which case resume appends a plain user message instead of a tool result.
type suspension struct {
	ctxMem     *memory.Context
	toolCallID string
}

// Service is the orchestration entry point: generate_run and resume_run,
// spec.md §3's two request-scoped operations.
type Service struct {
	sessions  *session.Service
	runs      *run.Service
	emitter   *events.Emitter
	pageStore *pages.InMemoryStore
	registry  *tools.Registry
	policy    *policy.Engine
	llm       loop.LLM
	gate      *verify.Gate

	mu          sync.Mutex
	suspensions map[string]*suspension
}

// NewService wires a Service from its collaborators. pageStore and gate may
// be nil, in which case an in-memory page store and a no-op-builder Gate are
// constructed. Every gentools constructor is registered against a single
// shared Registry, since generate_page/edit_page/etc. are stateless beyond
// the PageStore/outputRoot they already close over.
func NewService(sessions *session.Service, runs *run.Service, emitter *events.Emitter, pageStore *pages.InMemoryStore, policyEngine *policy.Engine, llm loop.LLM, gate *verify.Gate) (*Service, error) {
	if pageStore == nil {
		pageStore = pages.NewInMemoryStore()
	}

	registry := tools.NewRegistry()
	toolset := []tools.Tool{
		gentools.NewAnalyzeBrief(),
		gentools.NewCreateDesignSystem(""),
		gentools.NewGeneratePage(pageStore),
		gentools.NewEditPage(pageStore),
		gentools.NewReadPage(pageStore),
		gentools.NewListPages(pageStore),
		gentools.NewValidateHTML(pageStore),
		gentools.NewExtractStyle(),
		gentools.NewBatchFileWrite(""),
		gentools.NewAskUser(),
	}
	for _, tool := range toolset {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("orchestrator: register %s: %w", tool.Name(), err)
		}
	}

	if gate == nil {
		gate = verify.NewGate(passthroughBuilder{}, pageSource{store: pageStore}, true)
	}

	return &Service{
		sessions:    sessions,
		runs:        runs,
		emitter:     emitter,
		pageStore:   pageStore,
		registry:    registry,
		policy:      policyEngine,
		llm:         llm,
		gate:        gate,
		suspensions: make(map[string]*suspension),
	}, nil
}

// GenerateRun is spec.md §3's generate_run: create a Run, build its Context
// from the session's long-term memory, and drive it through the loop to a
// terminal or waiting_input outcome.
func (s *Service) GenerateRun(ctx context.Context, sessionID, inputMessage, idempotencyKey string) (run.Run, error) {
	sess, err := s.sessions.RequireActive(ctx, sessionID)
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: session: %w", err)
	}

	r, err := s.runs.CreateRun(ctx, sessionID, inputMessage, idempotencyKey)
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: create run: %w", err)
	}
	if _, err := s.emitter.Emit(ctx, events.RunCreated, sessionID, r.RunID, nil); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_created: %w", err)
	}

	if _, err := s.runs.StartRun(ctx, r.RunID); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: start run: %w", err)
	}
	if _, err := s.emitter.Emit(ctx, events.RunStarted, sessionID, r.RunID, nil); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_started: %w", err)
	}

	ctxMem := memory.NewContext(defaultSystemPrompt, projectCardText(sess.ProjectCard), toMemorySections(sess.Sections))
	ctxMem.AppendShortTerm(memory.Message{Role: memory.RoleUser, Content: inputMessage})
	return s.drive(ctx, sess, r.RunID, ctxMem)
}

// ResumeRun is spec.md §3's resume_run: reload the checkpointed Context for
// a waiting_input Run, append the user's answers, and re-enter the loop.
// Valid only when a prior GenerateRun/ResumeRun call parked the Run.
func (s *Service) ResumeRun(ctx context.Context, runID string, answers map[string]any, idempotencyKey string) (run.Run, error) {
	r, err := s.runs.ResumeRun(ctx, runID, answers, idempotencyKey)
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: resume run: %w", err)
	}

	sess, err := s.sessions.Get(ctx, r.SessionID)
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: session: %w", err)
	}

	thread := checkpointKey(r.SessionID, runID)
	s.mu.Lock()
	susp, ok := s.suspensions[thread]
	delete(s.suspensions, thread)
	s.mu.Unlock()
	if !ok {
		return run.Run{}, fmt.Errorf("orchestrator: no suspended context for run %s", runID)
	}

	if susp.toolCallID != "" {
		susp.ctxMem.AppendShortTerm(loop.SynthesizeResumeMessage(susp.toolCallID, answers))
	} else {
		out, _ := json.Marshal(answers)
		susp.ctxMem.AppendShortTerm(memory.Message{Role: memory.RoleUser, Content: string(out)})
	}

	if _, err := s.emitter.Emit(ctx, events.RunResumed, sess.ID, runID, nil); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_resumed: %w", err)
	}

	return s.drive(ctx, sess, runID, susp.ctxMem)
}

// drive runs ctxMem through the loop to a terminal or waiting_input
// outcome, applying the verify-gate retry-then-route policy on completion,
// and persists the resulting Run state before returning. taskHint is always
// empty here: the loop's taskHint parameter selects Product Doc sections by
// dot-path, not a conversational instruction, so both the initial request
// and any self-fix instruction are appended to short-term memory instead.
func (s *Service) drive(ctx context.Context, sess session.Session, runID string, ctxMem *memory.Context) (run.Run, error) {
	if err := s.runs.MarkActive(runID); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: %w", err)
	}
	defer s.runs.MarkInactive(runID)

	hooks := &eventHooks{emitter: s.emitter, sessionID: sess.ID, runID: runID}
	ectx := tools.ExecContext{
		SessionID:  sess.ID,
		RunID:      runID,
		OutputDir:  sess.OutputDir,
		Emitter:    toolEmitter{emitter: s.emitter, sessionID: sess.ID},
		DataAccess: s.pageStore,
	}
	l := loop.New(s.llm, s.registry, s.policy, hooks, s.runs)

	outcome := l.Run(ctx, runID, ectx, ctxMem, "")
	isVerifyRetry := false

	for {
		switch outcome.Status {
		case loop.OutcomeWaitingInput:
			return s.suspend(ctx, sess, runID, ctxMem, lastToolCallID(ctxMem), outcome.Questions)

		case loop.OutcomeCancelled:
			return s.runs.GetRun(ctx, runID)

		case loop.OutcomeFailed:
			return s.persistFailed(ctx, sess, runID, outcome.Err, nil)

		case loop.OutcomeCompleted:
			report, err := s.checkVerify(ctx, sess, runID)
			if err != nil {
				return run.Run{}, err
			}
			if report.Passed {
				return s.persistCompleted(ctx, sess, runID, report)
			}

			action := verify.NextAction(report, isVerifyRetry)
			switch action {
			case "retry":
				isVerifyRetry = true
				fixHint := "The previous output failed verification: " + verifySummary(report) + ". Fix these issues and try again."
				ctxMem.AppendShortTerm(memory.Message{Role: memory.RoleUser, Content: fixHint})
				outcome = l.Run(ctx, runID, ectx, ctxMem, "")
				continue
			case "waiting_input":
				return s.suspend(ctx, sess, runID, ctxMem, "", verifyQuestions(report))
			default:
				return s.persistFailed(ctx, sess, runID, fmt.Errorf("orchestrator: verify gate failed: %s", verifySummary(report)), &report)
			}

		default:
			return run.Run{}, fmt.Errorf("orchestrator: unrecognized loop outcome %q", outcome.Status)
		}
	}
}

func (s *Service) suspend(ctx context.Context, sess session.Session, runID string, ctxMem *memory.Context, toolCallID string, questions any) (run.Run, error) {
	s.mu.Lock()
	s.suspensions[checkpointKey(sess.ID, runID)] = &suspension{ctxMem: ctxMem, toolCallID: toolCallID}
	s.mu.Unlock()

	r, err := s.runs.PersistRunState(ctx, runID, run.StatusWaitingInput, nil)
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: persist waiting_input: %w", err)
	}
	if _, err := s.emitter.Emit(ctx, events.RunWaitingInput, sess.ID, runID, map[string]any{"questions": questions}); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_waiting_input: %w", err)
	}
	return r, nil
}

func (s *Service) checkVerify(ctx context.Context, sess session.Session, runID string) (verify.Report, error) {
	if _, err := s.emitter.Emit(ctx, events.VerifyStart, sess.ID, runID, nil); err != nil {
		return verify.Report{}, fmt.Errorf("orchestrator: emit verify_start: %w", err)
	}
	report, err := s.gate.Check(ctx, sess.ID)
	if err != nil {
		return verify.Report{}, fmt.Errorf("orchestrator: verify: %w", err)
	}

	eventType := events.VerifyPass
	if !report.Passed {
		eventType = events.VerifyFail
	}
	if _, err := s.emitter.Emit(ctx, eventType, sess.ID, runID, verifyPayload(report)); err != nil {
		return verify.Report{}, fmt.Errorf("orchestrator: emit %s: %w", eventType, err)
	}
	return report, nil
}

func (s *Service) persistCompleted(ctx context.Context, sess session.Session, runID string, report verify.Report) (run.Run, error) {
	r, err := s.runs.PersistRunState(ctx, runID, run.StatusCompleted, func(rr *run.Run) {
		rr.VerifyReport = verifyPayload(report)
	})
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: persist completed: %w", err)
	}
	if _, err := s.emitter.Emit(ctx, events.RunCompleted, sess.ID, runID, nil); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_completed: %w", err)
	}
	return r, nil
}

func (s *Service) persistFailed(ctx context.Context, sess session.Session, runID string, cause error, report *verify.Report) (run.Run, error) {
	r, err := s.runs.PersistRunState(ctx, runID, run.StatusFailed, func(rr *run.Run) {
		rr.Error = cause.Error()
		if report != nil {
			rr.VerifyReport = verifyPayload(*report)
		}
	})
	if err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: persist failed: %w", err)
	}
	if _, err := s.emitter.Emit(ctx, events.RunFailed, sess.ID, runID, map[string]any{"error": cause.Error()}); err != nil {
		return run.Run{}, fmt.Errorf("orchestrator: emit run_failed: %w", err)
	}
	return r, nil
}

func checkpointKey(sessionID, runID string) string {
	return sessionID + ":" + runID
}

func lastToolCallID(ctxMem *memory.Context) string {
	msgs := ctxMem.ShortTerm()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ToolCallID
}

func projectCardText(card session.ProjectCard) string {
	return fmt.Sprintf("Name: %s\nDescription: %s\nAudience: %s\nPages: %s",
		card.Name, card.Description, card.Audience, strings.Join(card.PageSlugs, ", "))
}

func toMemorySections(sections map[string]session.ProductDocSection) map[string]memory.ProductDocSection {
	out := make(map[string]memory.ProductDocSection, len(sections))
	for title, sec := range sections {
		out[title] = memory.ProductDocSection{
			Title:     sec.Title,
			Content:   sec.Content,
			UpdatedAt: sec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			UpdatedBy: sec.UpdatedBy,
		}
	}
	return out
}

func verifyPayload(report verify.Report) map[string]any {
	checks := make([]map[string]any, 0, len(report.Checks))
	for _, c := range report.Checks {
		checks = append(checks, map[string]any{
			"name": c.Name, "passed": c.Passed, "details": c.Details, "severity": string(c.Severity),
		})
	}
	return map[string]any{"passed": report.Passed, "checks": checks}
}

func verifySummary(report verify.Report) string {
	var failed []string
	for _, c := range report.Checks {
		if !c.Passed {
			failed = append(failed, fmt.Sprintf("%s (%s)", c.Name, c.Details))
		}
	}
	return strings.Join(failed, "; ")
}

// verifyQuestions turns a failed-but-recoverable Report into the ask_user-
// shaped payload a human reviewer sees when the Run is routed to
// waiting_input after its retry also failed.
func verifyQuestions(report verify.Report) []map[string]any {
	var out []map[string]any
	for _, c := range report.Checks {
		if !c.Passed {
			out = append(out, map[string]any{
				"question": fmt.Sprintf("The %s check failed: %s. How should this be resolved?", c.Name, c.Details),
				"type":     "text",
			})
		}
	}
	return out
}
