package schema

// NodeKind identifies the canonical category of a graph node. Adapters for
// every language map their native declarations onto this one set.
type NodeKind string

const (
	KindFile        NodeKind = "file"
	KindPackage     NodeKind = "package"
	KindClass       NodeKind = "class"
	KindInterface   NodeKind = "interface"
	KindEnum        NodeKind = "enum"
	KindFunction    NodeKind = "function"
	KindMethod      NodeKind = "method"
	KindConstructor NodeKind = "constructor"
	KindField       NodeKind = "field"
	KindVariable    NodeKind = "variable"
	KindParameter   NodeKind = "parameter"
	KindImport      NodeKind = "import"
	KindAnnotation  NodeKind = "annotation"
)

// NodeKinds lists every canonical node kind.
var NodeKinds = []NodeKind{
	KindFile, KindPackage, KindClass, KindInterface, KindEnum,
	KindFunction, KindMethod, KindConstructor, KindField, KindVariable,
	KindParameter, KindImport, KindAnnotation,
}

// Valid reports whether k is one of the canonical node kinds.
func (k NodeKind) Valid() bool {
	_, ok := nodeKindSet[k]
	return ok
}

var nodeKindSet = func() map[NodeKind]struct{} {
	m := make(map[NodeKind]struct{}, len(NodeKinds))
	for _, k := range NodeKinds {
		m[k] = struct{}{}
	}
	return m
}()

// RelKind identifies the canonical category of a directed relationship.
type RelKind string

const (
	RelContains    RelKind = "CONTAINS"
	RelCalls       RelKind = "CALLS"
	RelImports     RelKind = "IMPORTS"
	RelExtends     RelKind = "EXTENDS"
	RelImplements  RelKind = "IMPLEMENTS"
	RelOverrides   RelKind = "OVERRIDES"
	RelUsesType    RelKind = "USES_TYPE"
	RelAnnotatedBy RelKind = "ANNOTATED_BY"
)

// RelKinds lists every canonical relationship kind.
var RelKinds = []RelKind{
	RelContains, RelCalls, RelImports, RelExtends,
	RelImplements, RelOverrides, RelUsesType, RelAnnotatedBy,
}

// Valid reports whether k is one of the canonical relationship kinds.
func (k RelKind) Valid() bool {
	_, ok := relKindSet[k]
	return ok
}

var relKindSet = func() map[RelKind]struct{} {
	m := make(map[RelKind]struct{}, len(RelKinds))
	for _, k := range RelKinds {
		m[k] = struct{}{}
	}
	return m
}()

// Visibility is the access level of a declaration, normalized across
// languages. Empty means not applicable (files, imports, locals).
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityProtected Visibility = "protected"
	VisibilityPackage   Visibility = "package"
)
