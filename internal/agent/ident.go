// Package agent provides strong type identifiers shared across the
// generation core (sessions, runs, tools) so free-form strings cannot be
// accidentally mixed up in maps or API signatures.
package agent

// Ident is a fully qualified identifier, e.g. a tool name ("gentools.generate_page")
// or a product-type classification.
type Ident string

// String implements fmt.Stringer.
func (i Ident) String() string { return string(i) }
