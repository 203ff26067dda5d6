// Package policy implements the Tool Policy Hooks (C6): a pre/post
// interception point wrapping every tool invocation from the registry (C1)
// with a command whitelist, a path-boundary check, a sensitive-content scan,
// and large-output truncation.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/time/rate"
)

type (
	// Action is the uniform policy decision returned by every check.
	Action string

	// Mode controls whether policy decisions are evaluated, logged, or
	// enforced. Default is ModeLogOnly, matching the spec's stated default.
	Mode string

	// Decision is the outcome of running every configured check against one
	// tool invocation. Details carries check-specific diagnostics (matched
	// pattern, offending path, …) for the emitted policy event.
	Decision struct {
		Action  Action         `json:"action"`
		Reason  string         `json:"reason,omitempty"`
		Details map[string]any `json:"details,omitempty"`
	}

	// Check evaluates one policy concern against a tool invocation. A Check
	// returns ActionAllow when it has nothing to say.
	Check interface {
		Name() string
		Evaluate(ctx context.Context, call Invocation) Decision
	}

	// Invocation is the pre-hook view of a tool call: everything a Check
	// needs to decide without having executed the tool yet.
	Invocation struct {
		SessionID string
		RunID     string
		ToolName  string
		OutputDir string
		Arguments json.RawMessage
	}

	// Outcome is the post-hook view: the invocation plus the tool's raw
	// output, offered to checks that only make sense after execution (the
	// secret scan, truncation).
	Outcome struct {
		Invocation
		Output string
	}

	// Engine runs the configured Checks over every invocation and folds
	// their decisions into one. A single block wins over any warn; a single
	// warn wins over allow.
	Engine struct {
		mode         Mode
		preChecks    []Check
		postChecks   []Check
		truncateAt   int
	}
)

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"

	ModeOff      Mode = "off"
	ModeLogOnly  Mode = "log_only"
	ModeEnforce  Mode = "enforce"

	// DefaultTruncateBytes is the default large-output threshold (~100 KB).
	DefaultTruncateBytes = 100 * 1024

	// DefaultCommandRatePerSecond and DefaultCommandBurst bound the
	// process-wide rate of shell-like tool invocations (§3.7).
	DefaultCommandRatePerSecond = 5
	DefaultCommandBurst         = 10
)

// DefaultCommandWhitelist mirrors spec's default allow-list for shell-like
// tools.
var DefaultCommandWhitelist = []string{"npm", "npx", "node", "python", "pip", "git", "ls", "cat", "echo", "mkdir", "cp"}

// DefaultSecretPatterns catches common leaked-credential shapes: cloud
// access keys, bearer tokens, private key blocks, generic "api_key=" style
// assignments.
var DefaultSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)-----BEGIN (RSA|EC|OPENSSH|PGP) PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)\b\s*[:=]\s*['"]?[A-Za-z0-9/+_\-]{12,}`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]{20,}`),
}

// NewEngine constructs an Engine with the built-in checks (command
// whitelist, path boundary, secret scan, truncation) running at mode.
func NewEngine(mode Mode, outputRoot string) *Engine {
	return &Engine{
		mode: mode,
		preChecks: []Check{
			NewCommandWhitelist(DefaultCommandWhitelist),
			NewPathBoundary(outputRoot),
			NewRateLimiter(rate.Limit(DefaultCommandRatePerSecond), DefaultCommandBurst, mode),
		},
		postChecks: []Check{
			NewSecretScan(DefaultSecretPatterns, mode),
		},
		truncateAt: DefaultTruncateBytes,
	}
}

// Mode reports the engine's current enforcement mode.
func (e *Engine) Mode() Mode { return e.mode }

// PreCheck runs every pre-hook check against call and folds the results: the
// most severe decision (block > warn > allow) wins. When mode is ModeOff,
// PreCheck always allows without evaluating.
func (e *Engine) PreCheck(ctx context.Context, call Invocation) Decision {
	if e.mode == ModeOff {
		return Decision{Action: ActionAllow}
	}
	return fold(e.preChecks, ctx, call)
}

// PostCheck runs every post-hook check (secret scan) plus truncation against
// the tool's raw output, returning the folded Decision and the possibly
// truncated output to surface to the loop.
func (e *Engine) PostCheck(ctx context.Context, call Invocation, output string) (Decision, string) {
	if e.mode == ModeOff {
		return Decision{Action: ActionAllow}, output
	}

	outcome := Invocation{
		SessionID: call.SessionID,
		RunID:     call.RunID,
		ToolName:  call.ToolName,
		OutputDir: call.OutputDir,
		Arguments: json.RawMessage(output),
	}
	decision := fold(e.postChecks, ctx, outcome)

	truncated, wasTruncated := truncate(output, e.truncateAt)
	if wasTruncated {
		if decision.Action == ActionAllow {
			decision.Action = ActionWarn
		}
		if decision.Reason == "" {
			decision.Reason = fmt.Sprintf("output truncated to %d bytes", e.truncateAt)
		}
		if decision.Details == nil {
			decision.Details = map[string]any{}
		}
		decision.Details["truncated"] = true
		decision.Details["original_bytes"] = len(output)
	}

	return decision, truncated
}

// Enforced reports whether decision should actually stop execution under
// the engine's current mode: blocks only bite in ModeEnforce.
func (e *Engine) Enforced(decision Decision) bool {
	return e.mode == ModeEnforce && decision.Action == ActionBlock
}

func fold(checks []Check, ctx context.Context, call Invocation) Decision {
	best := Decision{Action: ActionAllow}
	for _, c := range checks {
		d := c.Evaluate(ctx, call)
		if severity(d.Action) > severity(best.Action) {
			best = d
		}
	}
	return best
}

func severity(a Action) int {
	switch a {
	case ActionBlock:
		return 2
	case ActionWarn:
		return 1
	default:
		return 0
	}
}

func truncate(output string, limit int) (string, bool) {
	if limit <= 0 || len(output) <= limit {
		return output, false
	}
	return output[:limit] + fmt.Sprintf("\n…[truncated %d bytes]", len(output)-limit), true
}

// CommandWhitelist blocks shell-like tool calls whose command does not
// start with a configured allowed prefix.
type CommandWhitelist struct {
	allowed map[string]struct{}
}

// NewCommandWhitelist constructs a CommandWhitelist check over allowed
// command prefixes.
func NewCommandWhitelist(allowed []string) *CommandWhitelist {
	set := make(map[string]struct{}, len(allowed))
	for _, cmd := range allowed {
		set[cmd] = struct{}{}
	}
	return &CommandWhitelist{allowed: set}
}

func (c *CommandWhitelist) Name() string { return "command_whitelist" }

func (c *CommandWhitelist) Evaluate(_ context.Context, call Invocation) Decision {
	cmd := extractCommand(call.Arguments)
	if cmd == "" {
		return Decision{Action: ActionAllow}
	}
	first := strings.Fields(cmd)
	if len(first) == 0 {
		return Decision{Action: ActionAllow}
	}
	if _, ok := c.allowed[first[0]]; !ok {
		return Decision{
			Action:  ActionBlock,
			Reason:  fmt.Sprintf("command %q is not on the allow-list", first[0]),
			Details: map[string]any{"command": first[0]},
		}
	}
	return Decision{Action: ActionAllow}
}

func extractCommand(arguments json.RawMessage) string {
	var v struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(arguments, &v); err != nil {
		return ""
	}
	return v.Command
}

// PathBoundary blocks file-system tool calls whose target path resolves
// outside the session's output directory.
type PathBoundary struct {
	root string
}

// NewPathBoundary constructs a PathBoundary check rooted at root.
func NewPathBoundary(root string) *PathBoundary {
	return &PathBoundary{root: root}
}

func (p *PathBoundary) Name() string { return "path_boundary" }

func (p *PathBoundary) Evaluate(_ context.Context, call Invocation) Decision {
	target := extractPath(call.Arguments)
	if target == "" {
		return Decision{Action: ActionAllow}
	}

	root := call.OutputDir
	if root == "" {
		root = p.root
	}
	if root == "" {
		return Decision{Action: ActionAllow}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Decision{Action: ActionAllow}
	}
	joined := filepath.Join(absRoot, target)
	resolved := filepath.Clean(joined)
	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return Decision{
			Action:  ActionBlock,
			Reason:  fmt.Sprintf("path %q escapes output directory", target),
			Details: map[string]any{"path": target, "root": absRoot},
		}
	}
	return Decision{Action: ActionAllow}
}

func extractPath(arguments json.RawMessage) string {
	var v struct {
		Path string `json:"path"`
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(arguments, &v); err != nil {
		return ""
	}
	if v.Path != "" {
		return v.Path
	}
	return v.Slug
}

// SecretScan matches tool arguments/results against known secret-shaped
// patterns. Under ModeEnforce its decision escalates to block; otherwise it
// only ever warns.
type SecretScan struct {
	patterns []*regexp.Regexp
	mode     Mode
}

// NewSecretScan constructs a SecretScan check over patterns, escalating to
// block only when mode is ModeEnforce (the spec's "strictest mode").
func NewSecretScan(patterns []*regexp.Regexp, mode Mode) *SecretScan {
	return &SecretScan{patterns: patterns, mode: mode}
}

func (s *SecretScan) Name() string { return "secret_scan" }

func (s *SecretScan) Evaluate(_ context.Context, call Invocation) Decision {
	text := string(call.Arguments)
	for _, pattern := range s.patterns {
		if loc := pattern.FindStringIndex(text); loc != nil {
			action := ActionWarn
			if s.mode == ModeEnforce {
				action = ActionBlock
			}
			return Decision{
				Action:  action,
				Reason:  "possible secret detected in tool data",
				Details: map[string]any{"pattern": pattern.String()},
			}
		}
	}
	return Decision{Action: ActionAllow}
}

// RateLimiter bounds how often shell-like tool calls (those carrying a
// "command" argument) may run process-wide, via a token-bucket limiter
// (§3.7). Non-command tool calls are never throttled.
type RateLimiter struct {
	limiter *rate.Limiter
	mode    Mode
}

// NewRateLimiter constructs a RateLimiter allowing rps calls per second with
// burst headroom. Exceeding the bucket warns in log_only mode and blocks in
// enforce mode, matching SecretScan's escalation rule.
func NewRateLimiter(rps rate.Limit, burst int, mode Mode) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rps, burst), mode: mode}
}

func (r *RateLimiter) Name() string { return "rate_limit" }

func (r *RateLimiter) Evaluate(_ context.Context, call Invocation) Decision {
	if extractCommand(call.Arguments) == "" {
		return Decision{Action: ActionAllow}
	}
	if r.limiter.Allow() {
		return Decision{Action: ActionAllow}
	}
	action := ActionWarn
	if r.mode == ModeEnforce {
		action = ActionBlock
	}
	return Decision{
		Action: action,
		Reason: "command invocation rate limit exceeded",
		Details: map[string]any{
			"limit_per_second": float64(r.limiter.Limit()),
			"burst":            r.limiter.Burst(),
		},
	}
}
