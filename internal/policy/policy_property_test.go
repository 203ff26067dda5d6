package policy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPathBoundaryBlocksEveryEscapeUnderEnforceProperty verifies invariant 6
// (spec.md §8): no tool writes a file outside the session's output
// directory when tool_policy_mode = enforce. Any path built from one or
// more ".." segments escapes the root and must be blocked.
func TestPathBoundaryBlocksEveryEscapeUnderEnforceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a path with n leading .. segments is always blocked in enforce mode", prop.ForAll(
		func(n int, tail string) bool {
			engine := NewEngine(ModeEnforce, "/out/sess-1")
			segments := make([]string, 0, n+1)
			for i := 0; i < n+1; i++ {
				segments = append(segments, "..")
			}
			if tail != "" {
				segments = append(segments, tail)
			}
			path := strings.Join(segments, "/")

			args, err := json.Marshal(map[string]string{"path": path})
			if err != nil {
				return false
			}
			call := Invocation{
				SessionID: "sess-1",
				RunID:     "run-1",
				ToolName:  "write_file",
				OutputDir: "/out/sess-1",
				Arguments: args,
			}
			decision := engine.PreCheck(context.Background(), call)
			return decision.Action == ActionBlock && engine.Enforced(decision)
		},
		gen.IntRange(0, 10),
		gen.AlphaString(),
	))

	properties.Property("a path confined within the output directory is never blocked", prop.ForAll(
		func(segments []string) bool {
			engine := NewEngine(ModeEnforce, "/out/sess-1")
			clean := make([]string, 0, len(segments))
			for _, s := range segments {
				if s == "" || s == "." || s == ".." {
					continue
				}
				clean = append(clean, s)
			}
			path := strings.Join(clean, "/")

			args, err := json.Marshal(map[string]string{"path": path})
			if err != nil {
				return false
			}
			call := Invocation{
				SessionID: "sess-1",
				RunID:     "run-1",
				ToolName:  "write_file",
				OutputDir: "/out/sess-1",
				Arguments: args,
			}
			decision := engine.PreCheck(context.Background(), call)
			return decision.Action != ActionBlock
		},
		gen.SliceOfN(3, gen.AlphaString()),
	))

	properties.TestingRun(t)
}
