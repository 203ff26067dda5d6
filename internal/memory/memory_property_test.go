package memory

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestTokenCountEmptyStringProperty verifies invariant 10 (spec.md §8):
// token_count(text) <= 1 for the empty string.
func TestTokenCountEmptyStringProperty(t *testing.T) {
	ctx := NewContext("", "", nil)
	if ctx.TokenCount() > 1 {
		t.Fatalf("expected token count <= 1 for an empty context, got %d", ctx.TokenCount())
	}
}

// TestTokenCountMonotonicUnderConcatenationProperty verifies invariant 10:
// token_count is monotonic under concatenation within the chars//3 fallback
// tokenizer family — appending more short-term content never decreases the
// count.
func TestTokenCountMonotonicUnderConcatenationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appending a message never decreases token count", prop.ForAll(
		func(first, second string) bool {
			ctx := NewContext("system", "card", nil)
			before := ctx.TokenCount()
			ctx.AppendShortTerm(Message{Role: RoleUser, Content: first})
			mid := ctx.TokenCount()
			if mid < before {
				return false
			}
			ctx.AppendShortTerm(Message{Role: RoleAssistant, Content: second})
			after := ctx.TokenCount()
			return after >= mid
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestMaybeCompactIsIdempotentWithNoNewMessagesProperty verifies invariant
// 7 (spec.md §8): two consecutive MaybeCompact calls with no new short-term
// messages in between produce an identical Context.
func TestMaybeCompactIsIdempotentWithNoNewMessagesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("re-running maybe_compact with no new messages changes nothing", prop.ForAll(
		func(n int, bodies []string) bool {
			ctx := NewContext("system", "card", nil).WithCompactThreshold(3)
			for i := 0; i < n; i++ {
				body := ""
				if i < len(bodies) {
					body = bodies[i]
				}
				ctx.AppendShortTerm(Message{Role: RoleUser, Content: body})
			}

			llm := &fakeFastLLM{summary: AU2Summary{Goal: "ship site", Progress: "working"}}
			if err := ctx.MaybeCompact(context.Background(), llm); err != nil {
				return false
			}

			firstShortTerm := append([]Message(nil), ctx.ShortTerm()...)
			firstAU2 := ctx.au2
			firstShouldCompact := ctx.ShouldCompact()

			if err := ctx.MaybeCompact(context.Background(), llm); err != nil {
				return false
			}

			if ctx.ShouldCompact() != firstShouldCompact {
				return false
			}
			if ctx.au2 != firstAU2 {
				return false
			}
			secondShortTerm := ctx.ShortTerm()
			if len(secondShortTerm) != len(firstShortTerm) {
				return false
			}
			for i := range firstShortTerm {
				if firstShortTerm[i] != secondShortTerm[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 15),
		gen.SliceOfN(15, gen.AlphaString()),
	))

	properties.TestingRun(t)
}
