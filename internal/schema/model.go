package schema

// Node is one vertex of the code knowledge graph. Nodes are created during a
// build pass, persisted by deterministic ID, and never mutated outside one.
type Node struct {
	ID            string
	Kind          NodeKind
	Name          string
	QualifiedName string
	FilePath      string
	Language      string
	Visibility    Visibility
	StartLine     int
	EndLine       int
	Signature     string
	ReturnType    string
	Modifiers     []string
}

// Relationship is one directed edge between two persisted nodes. Line and
// Alias are optional relationship properties (call site, import alias).
// TargetName carries the target's qualified name so a superseded target can
// be demoted back to an unresolved reference instead of losing the edge.
type Relationship struct {
	SourceID   string
	Kind       RelKind
	TargetID   string
	TargetName string
	Line       int
	Alias      string
}

// SelfLoop reports whether the relationship connects a node to itself.
// Self loops are stored but excluded from cycle and usage accounting.
func (r *Relationship) SelfLoop() bool {
	return r.SourceID == r.TargetID
}

// UnresolvedReason classifies why a cross-file reference could not be
// resolved to a node ID.
type UnresolvedReason string

const (
	// ReasonPending marks references emitted during extraction, before the
	// merged symbol table exists.
	ReasonPending UnresolvedReason = "pending"
	// ReasonExternal marks targets that look like library or stdlib symbols
	// outside the indexed file set.
	ReasonExternal UnresolvedReason = "external"
	// ReasonNotFound marks targets absent from the merged symbol table with
	// no external marker.
	ReasonNotFound UnresolvedReason = "not_found"
	// ReasonAmbiguous marks targets that matched more than one node and
	// could not be disambiguated.
	ReasonAmbiguous UnresolvedReason = "ambiguous"
)

// UnresolvedReference records a relationship whose target was not local to
// the source file. It is resolved against the merged symbol table after
// extraction, or carried into build statistics with its reason. It is never
// silently dropped and never materialized as a placeholder node.
type UnresolvedReference struct {
	SourceID   string
	TargetName string
	Kind       RelKind
	Line       int
	Reason     UnresolvedReason
}
