package events

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEventSeqIsStrictlyIncreasingAndGapFreeProperty verifies invariant 1
// (spec.md §8): for every event stored, seq is strictly increasing per
// session_id and gap-free.
func TestEventSeqIsStrictlyIncreasingAndGapFreeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("seq is 1..N with no gaps after N session-scoped appends", prop.ForAll(
		func(n int) bool {
			store := NewInMemoryStore()
			emitter := NewEmitter(store, nil, "test")
			for i := 0; i < n; i++ {
				if _, err := emitter.Emit(context.Background(), ProductDocGenerated, "sess-1", "", nil); err != nil {
					return false
				}
			}
			stored, err := store.GetBySession(context.Background(), "sess-1", 0, 0)
			if err != nil || len(stored) != n {
				return false
			}
			for i, ev := range stored {
				if ev.Seq != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// TestToolCallPrecedesToolResultProperty verifies invariant 3: for every
// tool invocation, tool_call.seq < tool_result.seq.
func TestToolCallPrecedesToolResultProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tool_call always precedes its tool_result in seq order", prop.ForAll(
		func(pairs int) bool {
			store := NewInMemoryStore()
			emitter := NewEmitter(store, nil, "test")
			for i := 0; i < pairs; i++ {
				call, err := emitter.Emit(context.Background(), ToolCall, "sess-1", "run-1", nil)
				if err != nil {
					return false
				}
				result, err := emitter.Emit(context.Background(), ToolResult, "sess-1", "run-1", nil)
				if err != nil {
					return false
				}
				if !(call.Seq < result.Seq) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestRunScopedEventsAlwaysCarryRunIDProperty verifies invariant 4: no event
// with run_id empty exists for types in the run-scoped subset.
func TestRunScopedEventsAlwaysCarryRunIDProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	runScopedTypes := []Type{
		RunCreated, RunStarted, StepStart, StepEnd, ToolCall, ToolResult,
		VerifyStart, VerifyPass, VerifyFail, ToolPolicyBlocked, ToolPolicyWarn,
	}

	properties.Property("emitting a run-scoped type without a run id always fails", prop.ForAll(
		func(idx int) bool {
			store := NewInMemoryStore()
			emitter := NewEmitter(store, nil, "test")
			eventType := runScopedTypes[idx%len(runScopedTypes)]
			_, err := emitter.Emit(context.Background(), eventType, "sess-1", "", nil)
			return err != nil
		},
		gen.IntRange(0, len(runScopedTypes)-1),
	))

	properties.TestingRun(t)
}
