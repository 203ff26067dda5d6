// Package memory implements the Conversation Context / Three-Layer Memory
// (C2): assembling the ordered message sequence fed to the LLM and
// compacting history (the "AU2" summary) when the short-term window grows
// too large.
package memory

import (
	"context"
	"fmt"
	"strings"
)

type (
	// Role mirrors the provider-agnostic chat roles the loop's messages carry.
	Role string

	// Message is one entry in the sequence handed to the LLM.
	Message struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
		// ToolCallID links a tool-result message back to the tool_call that
		// produced it; empty for plain user/assistant/system messages.
		ToolCallID string `json:"tool_call_id,omitempty"`
	}

	// ProductDocSection is one section of the session's Product Doc.
	ProductDocSection struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		UpdatedAt string `json:"updated_at"`
		UpdatedBy string `json:"updated_by"`
	}

	// AU2Summary is the medium-term compacted memory: eight fixed dimensions
	// merged across successive compactions.
	AU2Summary struct {
		Goal       string `json:"goal"`
		Progress   string `json:"progress"`
		Decisions  string `json:"decisions"`
		Constraints string `json:"constraints"`
		Style      string `json:"style"`
		Pages      string `json:"pages"`
		Issues     string `json:"issues"`
		NextSteps  string `json:"next_steps"`
	}

	// FastLLM is the minimal surface Context needs from a fast-tier model to
	// run compaction: map a slice of messages into an AU2Summary.
	FastLLM interface {
		Summarize(ctx context.Context, messages []Message) (AU2Summary, error)
	}

	// Tokenizer counts tokens for a message sequence, exactly per model
	// family when available.
	Tokenizer interface {
		Count(messages []Message) int
	}

	// Context is the per-Run working set: the three layers of memory plus
	// the machinery to assemble messages and compact history.
	Context struct {
		SystemPrompt string
		ProjectCard  string

		sections   map[string]ProductDocSection
		au2        AU2Summary
		shortTerm  []Message

		compactThreshold int
		tokenizer        Tokenizer
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// DefaultCompactThreshold is the default short-term message count above
	// which maybe_compact triggers.
	DefaultCompactThreshold = 20

	// preservedHead/preservedTail are the never-compressed dialogue message
	// counts at the start and end of the short-term window.
	preservedHead = 2
	preservedTail = 4
)

// NewContext constructs an empty Context seeded with the long-term layer
// (project card and Product Doc sections), loaded from the Session at Run
// start.
func NewContext(systemPrompt, projectCard string, sections map[string]ProductDocSection) *Context {
	if sections == nil {
		sections = map[string]ProductDocSection{}
	}
	return &Context{
		SystemPrompt:     systemPrompt,
		ProjectCard:      projectCard,
		sections:         sections,
		compactThreshold: DefaultCompactThreshold,
	}
}

// WithCompactThreshold overrides the default short-term trigger count.
func (c *Context) WithCompactThreshold(n int) *Context {
	if n > 0 {
		c.compactThreshold = n
	}
	return c
}

// WithTokenizer installs an exact tokenizer; without one, TokenCount falls
// back to the chars//3 approximation.
func (c *Context) WithTokenizer(t Tokenizer) *Context {
	c.tokenizer = t
	return c
}

// AppendShortTerm appends a verbatim message to the short-term layer.
func (c *Context) AppendShortTerm(m Message) {
	c.shortTerm = append(c.shortTerm, m)
}

// ShortTerm returns the current short-term message slice.
func (c *Context) ShortTerm() []Message {
	return append([]Message(nil), c.shortTerm...)
}

// AU2 returns the current medium-term summary.
func (c *Context) AU2() AU2Summary { return c.au2 }

// BuildMessages assembles the ordered message sequence per §4.2: system
// prompt, project card, selectively-included Product Doc sections, the AU2
// summary if non-empty, then the short-term messages verbatim. taskHint, if
// non-empty, restricts included sections to those it names (dot-path
// prefixes, e.g. "pages.menu" selects the "pages" and "menu" sections).
func (c *Context) BuildMessages(taskHint string) []Message {
	var out []Message
	out = append(out, Message{Role: RoleSystem, Content: c.SystemPrompt})
	out = append(out, Message{Role: RoleSystem, Content: "Project card:\n" + c.ProjectCard})

	for _, section := range c.selectedSections(taskHint) {
		out = append(out, Message{
			Role:    RoleSystem,
			Content: fmt.Sprintf("Product doc — %s:\n%s", section.Title, section.Content),
		})
	}

	if !c.au2.isEmpty() {
		out = append(out, Message{Role: RoleAssistant, Content: c.au2.Render()})
	}

	out = append(out, c.shortTerm...)
	return out
}

func (c *Context) selectedSections(taskHint string) []ProductDocSection {
	if taskHint == "" {
		return c.allSectionsSorted()
	}

	wanted := map[string]bool{}
	for _, part := range strings.Split(taskHint, ".") {
		wanted[part] = true
	}

	var out []ProductDocSection
	for name, section := range c.sections {
		if wanted[name] {
			out = append(out, section)
		}
	}
	return out
}

func (c *Context) allSectionsSorted() []ProductDocSection {
	out := make([]ProductDocSection, 0, len(c.sections))
	for _, s := range c.sections {
		out = append(out, s)
	}
	return out
}

// TokenCount counts the tokens BuildMessages("") would produce, using the
// installed Tokenizer if any, else the chars//3 fallback approximation.
func (c *Context) TokenCount() int {
	messages := c.BuildMessages("")
	if c.tokenizer != nil {
		return c.tokenizer.Count(messages)
	}
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 3
	}
	return total
}

// ShouldCompact reports whether the short-term message count exceeds the
// configured threshold.
func (c *Context) ShouldCompact() bool {
	return len(c.shortTerm) > c.compactThreshold
}

// MaybeCompact runs the AU2 compaction algorithm when ShouldCompact is true.
// It is idempotent: calling it again when the short-term count is already
// back below threshold is a no-op.
func (c *Context) MaybeCompact(ctx context.Context, llm FastLLM) error {
	if !c.ShouldCompact() {
		return nil
	}

	head, middle, tail := splitForCompaction(c.shortTerm, preservedHead, preservedTail)
	if len(middle) == 0 {
		return nil
	}

	summary, err := llm.Summarize(ctx, middle)
	if err != nil {
		return fmt.Errorf("memory: compact: summarize: %w", err)
	}

	c.au2 = c.au2.mergeWith(summary)

	synthetic := Message{Role: RoleAssistant, Content: c.au2.Render()}
	rebuilt := make([]Message, 0, len(head)+1+len(tail))
	rebuilt = append(rebuilt, head...)
	rebuilt = append(rebuilt, synthetic)
	rebuilt = append(rebuilt, tail...)
	c.shortTerm = rebuilt
	return nil
}

// splitForCompaction partitions messages into the preserved head, the
// compactable middle, and the preserved tail. If the dialogue is too short
// to have a non-empty middle, middle is nil.
func splitForCompaction(messages []Message, head, tail int) (h, middle, t []Message) {
	n := len(messages)
	if n <= head+tail {
		return messages, nil, nil
	}
	return messages[:head], messages[head : n-tail], messages[n-tail:]
}

func (s AU2Summary) isEmpty() bool {
	return s.Goal == "" && s.Progress == "" && s.Decisions == "" && s.Constraints == "" &&
		s.Style == "" && s.Pages == "" && s.Issues == "" && s.NextSteps == ""
}

// mergeWith folds next into s: per dimension, "new supersedes old unless new
// is empty".
func (s AU2Summary) mergeWith(next AU2Summary) AU2Summary {
	merge := func(old, n string) string {
		if n == "" {
			return old
		}
		return n
	}
	return AU2Summary{
		Goal:        merge(s.Goal, next.Goal),
		Progress:    merge(s.Progress, next.Progress),
		Decisions:   merge(s.Decisions, next.Decisions),
		Constraints: merge(s.Constraints, next.Constraints),
		Style:       merge(s.Style, next.Style),
		Pages:       merge(s.Pages, next.Pages),
		Issues:      merge(s.Issues, next.Issues),
		NextSteps:   merge(s.NextSteps, next.NextSteps),
	}
}

// Render produces the synthetic assistant message text representing this
// summary in the short-term window.
func (s AU2Summary) Render() string {
	var b strings.Builder
	b.WriteString("Conversation summary so far:\n")
	fmt.Fprintf(&b, "Goal: %s\n", s.Goal)
	fmt.Fprintf(&b, "Progress: %s\n", s.Progress)
	fmt.Fprintf(&b, "Decisions: %s\n", s.Decisions)
	fmt.Fprintf(&b, "Constraints: %s\n", s.Constraints)
	fmt.Fprintf(&b, "Style: %s\n", s.Style)
	fmt.Fprintf(&b, "Pages: %s\n", s.Pages)
	fmt.Fprintf(&b, "Issues: %s\n", s.Issues)
	fmt.Fprintf(&b, "Next steps: %s\n", s.NextSteps)
	return b.String()
}

// LoadSections replaces the long-term Product Doc sections wholesale,
// typically after loading Session state at Run start.
func (c *Context) LoadSections(sections map[string]ProductDocSection) {
	if sections == nil {
		sections = map[string]ProductDocSection{}
	}
	c.sections = sections
}

// RestoreAU2 seeds the medium-term summary from persisted state, used when
// resuming a Run.
func (c *Context) RestoreAU2(s AU2Summary) { c.au2 = s }

// RestoreShortTerm replaces the short-term layer, used when resuming a Run.
func (c *Context) RestoreShortTerm(messages []Message) {
	c.shortTerm = append([]Message(nil), messages...)
}
