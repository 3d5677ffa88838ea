package schema

import "fmt"

// endpointRules is the declarative validity table: for each relationship
// kind, the node kinds a source may have and, per source, the node kinds the
// target may have. There is no per-language branching anywhere in the
// engine; a new language changes adapters, not this table.
var endpointRules = map[RelKind]map[NodeKind][]NodeKind{
	RelContains: {
		KindPackage:     {KindPackage, KindFile},
		KindFile:        {KindClass, KindInterface, KindEnum, KindFunction, KindMethod, KindVariable, KindImport, KindAnnotation},
		KindClass:       {KindClass, KindInterface, KindEnum, KindMethod, KindConstructor, KindField, KindVariable},
		KindInterface:   {KindClass, KindInterface, KindEnum, KindMethod, KindField},
		KindEnum:        {KindField, KindMethod, KindConstructor},
		KindFunction:    {KindFunction, KindClass, KindParameter, KindVariable},
		KindMethod:      {KindFunction, KindClass, KindParameter, KindVariable},
		KindConstructor: {KindParameter, KindVariable},
	},
	RelCalls: {
		KindFile:        {KindFunction, KindMethod, KindConstructor, KindClass},
		KindFunction:    {KindFunction, KindMethod, KindConstructor, KindClass},
		KindMethod:      {KindFunction, KindMethod, KindConstructor, KindClass},
		KindConstructor: {KindFunction, KindMethod, KindConstructor, KindClass},
	},
	RelImports: {
		KindFile:    {KindFile, KindPackage},
		KindPackage: {KindPackage},
	},
	RelExtends: {
		KindClass:     {KindClass},
		KindInterface: {KindInterface},
	},
	RelImplements: {
		KindClass: {KindInterface},
		KindEnum:  {KindInterface},
	},
	RelOverrides: {
		KindMethod: {KindMethod},
	},
	RelUsesType: {
		KindClass:       {KindClass, KindInterface, KindEnum},
		KindInterface:   {KindClass, KindInterface, KindEnum},
		KindFunction:    {KindClass, KindInterface, KindEnum},
		KindMethod:      {KindClass, KindInterface, KindEnum},
		KindConstructor: {KindClass, KindInterface, KindEnum},
		KindField:       {KindClass, KindInterface, KindEnum},
		KindVariable:    {KindClass, KindInterface, KindEnum},
		KindParameter:   {KindClass, KindInterface, KindEnum},
	},
	RelAnnotatedBy: {
		KindFile:        {KindAnnotation},
		KindPackage:     {KindAnnotation},
		KindClass:       {KindAnnotation},
		KindInterface:   {KindAnnotation},
		KindEnum:        {KindAnnotation},
		KindFunction:    {KindAnnotation},
		KindMethod:      {KindAnnotation},
		KindConstructor: {KindAnnotation},
		KindField:       {KindAnnotation},
		KindVariable:    {KindAnnotation},
		KindParameter:   {KindAnnotation},
	},
}

type endpointTriple struct {
	source NodeKind
	rel    RelKind
	target NodeKind
}

// tripleIndex flattens endpointRules for O(1) lookup.
var tripleIndex = func() map[endpointTriple]struct{} {
	idx := make(map[endpointTriple]struct{})
	for rel, sources := range endpointRules {
		for src, targets := range sources {
			for _, tgt := range targets {
				idx[endpointTriple{src, rel, tgt}] = struct{}{}
			}
		}
	}
	return idx
}()

// IsValidRelationship reports whether rel may connect a source node of kind
// source to a target node of kind target.
func IsValidRelationship(source NodeKind, rel RelKind, target NodeKind) bool {
	_, ok := tripleIndex[endpointTriple{source, rel, target}]
	return ok
}

// requiredProps maps each node kind to the property names that must be
// non-empty for the node to pass validation. Every kind requires name,
// qualified_name and language on top of these.
var requiredProps = map[NodeKind][]string{
	KindFile:        {"file_path"},
	KindPackage:     {},
	KindClass:       {"file_path", "visibility"},
	KindInterface:   {"file_path", "visibility"},
	KindEnum:        {"file_path", "visibility"},
	KindFunction:    {"file_path", "visibility", "signature"},
	KindMethod:      {"file_path", "visibility", "signature"},
	KindConstructor: {"file_path", "signature"},
	KindField:       {"file_path", "visibility"},
	KindVariable:    {"file_path"},
	KindParameter:   {"file_path"},
	KindImport:      {"file_path"},
	KindAnnotation:  {"file_path"},
}

// RequiredProperties returns the property names a node of the given kind
// must carry. The slice is shared; callers must not modify it.
func RequiredProperties(kind NodeKind) []string {
	base := []string{"name", "qualified_name", "language"}
	return append(base, requiredProps[kind]...)
}

// SchemaViolation describes one node or relationship that failed canonical
// validation. Violations are reported per item and never abort a build; the
// offending item is logged and skipped.
type SchemaViolation struct {
	Item   string // "node" or "relationship"
	Ref    string // node ID, or "source -KIND-> target" for relationships
	Detail string
}

func (v *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: %s %s: %s", v.Item, v.Ref, v.Detail)
}

// ValidateNode checks a node against the canonical property requirements.
// Returns a *SchemaViolation describing the first problem, or nil.
func ValidateNode(n *Node) error {
	if n.ID == "" {
		return &SchemaViolation{Item: "node", Ref: n.QualifiedName, Detail: "empty id"}
	}
	if !n.Kind.Valid() {
		return &SchemaViolation{Item: "node", Ref: n.ID, Detail: fmt.Sprintf("unknown kind %q", n.Kind)}
	}
	for _, prop := range RequiredProperties(n.Kind) {
		if !nodeHasProperty(n, prop) {
			return &SchemaViolation{Item: "node", Ref: n.ID, Detail: fmt.Sprintf("missing required property %q", prop)}
		}
	}
	return nil
}

func nodeHasProperty(n *Node, prop string) bool {
	switch prop {
	case "name":
		return n.Name != ""
	case "qualified_name":
		return n.QualifiedName != ""
	case "language":
		return n.Language != ""
	case "file_path":
		return n.FilePath != ""
	case "visibility":
		return n.Visibility != ""
	case "signature":
		return n.Signature != ""
	default:
		return false
	}
}

// ValidateRelationship checks a relationship against the endpoint table,
// given the kinds of its resolved endpoints. Returns a *SchemaViolation
// describing the first problem, or nil.
func ValidateRelationship(r *Relationship, source, target NodeKind) error {
	ref := fmt.Sprintf("%s -%s-> %s", r.SourceID, r.Kind, r.TargetID)
	if r.SourceID == "" || r.TargetID == "" {
		return &SchemaViolation{Item: "relationship", Ref: ref, Detail: "dangling endpoint"}
	}
	if !r.Kind.Valid() {
		return &SchemaViolation{Item: "relationship", Ref: ref, Detail: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if !IsValidRelationship(source, r.Kind, target) {
		return &SchemaViolation{
			Item:   "relationship",
			Ref:    ref,
			Detail: fmt.Sprintf("%s may not %s %s", source, r.Kind, target),
		}
	}
	return nil
}
